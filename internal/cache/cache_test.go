package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestTTL_GetSetExpiry(t *testing.T) {
	clock := newClock()
	c := New[int](time.Minute, WithClock(clock.Now))

	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Set("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	clock.Advance(59 * time.Second)
	_, ok = c.Get("a")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = c.Get("a")
	assert.False(t, ok, "entry must expire exactly at ttl")
}

func TestTTL_GetOrLoadCallsLoaderOnceWithinTTL(t *testing.T) {
	clock := newClock()
	c := New[string](time.Hour, WithClock(clock.Now))
	var calls int

	load := func() (string, error) {
		calls++
		return "v", nil
	}

	first, err := c.GetOrLoad("k", load)
	require.NoError(t, err)
	second, err := c.GetOrLoad("k", load)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)

	clock.Advance(time.Hour)
	_, err = c.GetOrLoad("k", load)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "expired entry must be reloaded")
}

func TestTTL_GetOrLoadErrorNotCached(t *testing.T) {
	c := New[int](time.Hour)
	boom := errors.New("boom")

	_, err := c.GetOrLoad("k", func() (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)

	v, err := c.GetOrLoad("k", func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestTTL_ConcurrentLoadsCollapse(t *testing.T) {
	c := New[int](time.Hour)
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrLoad("shared", func() (int, error) {
				calls.Add(1)
				<-release
				return 42, nil
			})
			assert.NoError(t, err)
			assert.Equal(t, 42, v)
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestTTL_PurgeAndDelete(t *testing.T) {
	clock := newClock()
	c := New[int](time.Minute, WithClock(clock.Now))
	c.Set("a", 1)
	c.Set("b", 2)
	c.Delete("b")
	assert.Equal(t, 1, c.Len())

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, c.Purge())
	assert.Equal(t, 0, c.Len())
}

func TestTTL_GetOrLoadWithTTLOverridesDefault(t *testing.T) {
	clock := newClock()
	c := New[string](time.Hour, WithClock(clock.Now))

	_, err := c.GetOrLoadWithTTL("short", func() (string, time.Duration, error) {
		return "s", time.Minute, nil
	})
	require.NoError(t, err)
	_, err = c.GetOrLoadWithTTL("default", func() (string, time.Duration, error) {
		return "d", 0, nil
	})
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, ok := c.Get("short")
	assert.False(t, ok, "short entry must expire after its own ttl")
	v, ok := c.Get("default")
	require.True(t, ok)
	assert.Equal(t, "d", v)
}
