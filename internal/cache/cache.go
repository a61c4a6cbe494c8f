// Package cache provides a concurrency-safe time-to-live key/value cache
// shared by the metrics fetcher and the pricing service.
package cache

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a string-keyed cache whose entries expire after a fixed duration.
// Concurrent loads of the same missing key are collapsed into one loader call.
type TTL[V any] struct {
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]entry[V]
}

// Option customizes a TTL cache.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates a cache whose entries live for ttl.
func New[V any](ttl time.Duration, opts ...Option) *TTL[V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &TTL[V]{
		ttl:     ttl,
		now:     o.now,
		entries: make(map[string]entry[V]),
	}
}

// Get returns the cached value for key if it has not expired.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, replacing any previous entry.
func (c *TTL[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores value under key for ttl instead of the cache default.
// A non-positive ttl uses the default.
func (c *TTL[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

// GetOrLoad returns the cached value for key, calling load on a miss.
// Successful loads are cached; errors are returned and not cached.
func (c *TTL[V]) GetOrLoad(key string, load func() (V, error)) (V, error) {
	return c.GetOrLoadWithTTL(key, func() (V, time.Duration, error) {
		v, err := load()
		return v, c.ttl, err
	})
}

// GetOrLoadWithTTL is GetOrLoad where load also returns how long its value
// stays cached. A non-positive ttl uses the default.
func (c *TTL[V]) GetOrLoadWithTTL(key string, load func() (V, time.Duration, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		// A concurrent caller may have populated the entry while we waited.
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, ttl, err := load()
		if err != nil {
			return v, err
		}
		c.SetWithTTL(key, v, ttl)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

// Delete removes key.
func (c *TTL[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Purge drops expired entries and returns how many were removed.
func (c *TTL[V]) Purge() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, including expired ones not yet purged.
func (c *TTL[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
