package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/vyrodovalexey/speechrelay/internal/observability"
	"github.com/vyrodovalexey/speechrelay/internal/ratelimit"
)

// Service accepts text submissions from senders and relays them to speakers.
type Service struct {
	limiter    ratelimit.Limiter
	dispatcher *Dispatcher
	logger     observability.Logger
	metrics    *observability.Metrics
}

// ServiceOption is a functional option for configuring the Service.
type ServiceOption func(*Service)

// WithServiceLogger sets the logger for the service.
func WithServiceLogger(logger observability.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithServiceMetrics sets the metrics for the service.
func WithServiceMetrics(metrics *observability.Metrics) ServiceOption {
	return func(s *Service) {
		s.metrics = metrics
	}
}

// NewService creates a Service. A nil limiter disables rate limiting.
func NewService(limiter ratelimit.Limiter, dispatcher *Dispatcher, opts ...ServiceOption) *Service {
	if limiter == nil {
		limiter = ratelimit.NewNoopLimiter()
	}
	s := &Service{
		limiter:    limiter,
		dispatcher: dispatcher,
		logger:     observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Limiter returns the rate limiter consulted by Submit.
func (s *Service) Limiter() ratelimit.Limiter {
	return s.limiter
}

// Submit rate-limits source, then relays text to every speaker.
//
// Rate limiting always happens first: a rejected or failed consume returns
// ErrRateLimited and nothing is dispatched, and the attempt counts against
// source even when the text turns out to be empty.
func (s *Service) Submit(ctx context.Context, source, text string) (DispatchResult, error) {
	if _, err := ratelimit.Consume(ctx, s.limiter, source); err != nil {
		if !errors.Is(err, ratelimit.ErrLimitExceeded) {
			s.logger.Warn("rate limiter failed, rejecting submit",
				observability.String("source", source),
				observability.Error(err),
			)
		}
		s.metrics.RecordRateLimit(false)
		return DispatchResult{}, fmt.Errorf("%w: %w", ErrRateLimited, err)
	}
	s.metrics.RecordRateLimit(true)

	return s.Relay(ctx, source, text)
}

// Relay validates and dispatches text from source to every speaker without
// consulting the rate limiter. Callers must have consumed from the limiter
// for source already.
//
// Returns ErrEmptyText for blank text and ErrNoRecipients when no speaker
// is connected.
func (s *Service) Relay(ctx context.Context, source, text string) (DispatchResult, error) {
	result, err := s.dispatcher.Dispatch(ctx, Message{Text: text, SubmittedBy: source}, RoleSpeaker)
	if err != nil {
		return result, err
	}
	if !result.Delivered() {
		return result, ErrNoRecipients
	}

	s.logger.Debug("text relayed",
		observability.String("source", source),
		observability.Int("recipients", result.Count),
	)

	return result, nil
}
