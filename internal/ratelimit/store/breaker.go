package store

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vyrodovalexey/speechrelay/internal/observability"
)

// BreakerConfig configures the circuit breaker guarding a remote store.
type BreakerConfig struct {
	// Name identifies the breaker in logs.
	Name string

	// MinRequests is the number of requests in an interval before the
	// failure ratio is evaluated.
	MinRequests uint32

	// FailureRatio trips the breaker when reached.
	FailureRatio float64

	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

// DefaultBreakerConfig returns a BreakerConfig with default values.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:         "ratelimit-store",
		MinRequests:  5,
		FailureRatio: 0.5,
		OpenTimeout:  10 * time.Second,
	}
}

// BreakerStore routes operations to a primary store through a circuit
// breaker and serves them from a fallback store while the primary fails.
type BreakerStore struct {
	primary  Store
	fallback Store
	cb       *gobreaker.CircuitBreaker
	logger   observability.Logger
}

// NewBreakerStore creates a BreakerStore. fallback must not be nil.
func NewBreakerStore(primary, fallback Store, config BreakerConfig, logger observability.Logger) *BreakerStore {
	if logger == nil {
		logger = observability.NopLogger()
	}

	s := &BreakerStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}

	settings := gobreaker.Settings{
		Name:    config.Name,
		Timeout: config.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < config.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= config.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			s.logger.Warn("rate limit store breaker state change",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}
	s.cb = gobreaker.NewCircuitBreaker(settings)

	return s
}

// IncrementWithExpiry implements Store.
func (s *BreakerStore) IncrementWithExpiry(
	ctx context.Context,
	key string,
	delta int64,
	expiration time.Duration,
) (*Counter, error) {
	res, err := s.cb.Execute(func() (interface{}, error) {
		return s.primary.IncrementWithExpiry(ctx, key, delta, expiration)
	})
	if err == nil {
		return res.(*Counter), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	s.logger.Debug("rate limit store unavailable, using fallback",
		observability.String("key", key),
		observability.Error(err),
	)
	return s.fallback.IncrementWithExpiry(ctx, key, delta, expiration)
}

// Delete implements Store.
func (s *BreakerStore) Delete(ctx context.Context, key string) error {
	fallbackErr := s.fallback.Delete(ctx, key)
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.primary.Delete(ctx, key)
	})
	if err != nil {
		return err
	}
	return fallbackErr
}

// Ping reports the primary store's health when it supports it.
func (s *BreakerStore) Ping(ctx context.Context) error {
	if p, ok := s.primary.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// State returns the current breaker state.
func (s *BreakerStore) State() gobreaker.State {
	return s.cb.State()
}

// Close implements Store.
func (s *BreakerStore) Close() error {
	return errors.Join(s.primary.Close(), s.fallback.Close())
}
