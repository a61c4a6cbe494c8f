// Package pricing resolves unit prices for resource configurations. Quotes
// come from the AWS Price List API when available, are cached for a fixed TTL,
// and fall back to an embedded static table.
package pricing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ppiankov/wastespectre/internal/cache"
	"github.com/ppiankov/wastespectre/internal/model"
)

// Billing modes.
const (
	BillingOnDemand    = "on-demand"
	BillingProvisioned = "provisioned"

	// BillingProvisionedDuration is the execution rate on provisioned concurrency.
	BillingProvisionedDuration = "provisioned-duration"
)

const (
	// DefaultTTL is how long a resolved quote is reused.
	DefaultTTL = 24 * time.Hour
	// FallbackTTL is how long a static or unknown quote is reused after a
	// failed live lookup, so the next scan retries the Price List API.
	FallbackTTL = 5 * time.Minute
)

// Key identifies one priced configuration.
type Key struct {
	Category    string
	Config      string
	Region      string
	BillingMode string
}

func (k Key) normalized() Key {
	if k.BillingMode == "" {
		k.BillingMode = BillingOnDemand
	}
	return k
}

func (k Key) String() string {
	return strings.Join([]string{k.Category, k.Config, k.Region, k.BillingMode}, "|")
}

// Recorder observes where quotes were resolved from.
type Recorder interface {
	ObservePriceLookup(source model.PriceSource)
}

// Service resolves price quotes. It is safe for concurrent use.
type Service struct {
	live     LiveSource
	cache    *cache.TTL[model.PriceQuote]
	logger   zerolog.Logger
	recorder Recorder
	now      func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithLiveSource enables live lookups. Without one only the static table is used.
func WithLiveSource(src LiveSource) Option {
	return func(s *Service) { s.live = src }
}

// WithRecorder reports every resolved quote's source.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithCache replaces the quote cache.
func WithCache(c *cache.TTL[model.PriceQuote]) Option {
	return func(s *Service) { s.cache = c }
}

// NewService creates a pricing service.
func NewService(logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		logger: logger.With().Str("component", "pricing").Logger(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.cache == nil {
		s.cache = cache.New[model.PriceQuote](DefaultTTL)
	}
	return s
}

// Quote returns the unit price for key. It never fails: a failed live lookup
// falls back to the static table, and a missing static entry yields a zero
// price with source unknown.
func (s *Service) Quote(ctx context.Context, key Key) model.PriceQuote {
	key = key.normalized()
	q, _ := s.cache.GetOrLoadWithTTL(key.String(), func() (model.PriceQuote, time.Duration, error) {
		q, liveFailed := s.resolve(ctx, key)
		if liveFailed {
			return q, FallbackTTL, nil
		}
		return q, 0, nil
	})
	return q
}

// MonthlyHourly is a convenience for hourly-priced categories.
func (s *Service) MonthlyHourly(ctx context.Context, key Key) (float64, model.PriceQuote) {
	q := s.Quote(ctx, key)
	return MonthlyFromHourly(q.UnitPrice), q
}

// resolve prices key. liveFailed reports a live lookup that errored and
// was answered from the static table instead.
func (s *Service) resolve(ctx context.Context, key Key) (q model.PriceQuote, liveFailed bool) {
	q = model.PriceQuote{
		Category:    key.Category,
		ConfigKey:   key.Config,
		Region:      key.Region,
		BillingMode: key.BillingMode,
		Source:      model.PriceUnknown,
		FetchedAt:   s.now(),
	}

	if s.live != nil && key.BillingMode == BillingOnDemand {
		price, err := s.live.Lookup(ctx, key)
		switch {
		case err == nil:
			q.UnitPrice = price
			q.Source = model.PriceLive
			s.record(q.Source)
			return q, false
		case errors.Is(err, ErrUnsupportedCategory):
			s.logger.Debug().Str("category", key.Category).Msg("Live pricing unsupported, using static table")
		default:
			liveFailed = true
			s.logger.Warn().Err(err).
				Str("category", key.Category).
				Str("config", key.Config).
				Str("region", key.Region).
				Msg("Live price lookup failed, using static table")
		}
	}

	if price, ok := LookupStatic(key.Category, key.Config, key.BillingMode, key.Region); ok {
		q.UnitPrice = price
		q.Source = model.PriceStatic
	} else {
		s.logger.Debug().
			Str("category", key.Category).
			Str("config", key.Config).
			Str("region", key.Region).
			Msg("No price available")
	}
	s.record(q.Source)
	return q, liveFailed
}

func (s *Service) record(source model.PriceSource) {
	if s.recorder != nil {
		s.recorder.ObservePriceLookup(source)
	}
}
