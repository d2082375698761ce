package relay

import (
	"context"
	"strings"

	"github.com/vyrodovalexey/speechrelay/internal/observability"
)

// Outcome is the result kind of a dispatch.
type Outcome int

// Dispatch outcomes.
const (
	OutcomeNoRecipients Outcome = iota
	OutcomeDelivered
)

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeNoRecipients:
		return "no_recipients"
	default:
		return "unknown"
	}
}

// DispatchResult reports what a dispatch did.
type DispatchResult struct {
	Outcome Outcome

	// Count is the number of recipients in the snapshot taken at dispatch
	// time, not the number of successful pushes.
	Count int
}

// Delivered returns true if at least one recipient existed.
func (r DispatchResult) Delivered() bool {
	return r.Outcome == OutcomeDelivered
}

// Dispatcher fans messages out to every registered connection of a role.
type Dispatcher struct {
	registry *Registry
	logger   observability.Logger
	metrics  *observability.Metrics
}

// DispatcherOption is a functional option for configuring the Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger for the dispatcher.
func WithDispatcherLogger(logger observability.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithDispatcherMetrics sets the metrics for the dispatcher.
func WithDispatcherMetrics(metrics *observability.Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = metrics
	}
}

// NewDispatcher creates a Dispatcher reading recipients from registry.
func NewDispatcher(registry *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch validates msg, truncates it to MaxTextLength characters and
// pushes it to every connection registered with target.
//
// Returns ErrEmptyText if the text is blank. A failed push to one
// recipient is logged and does not affect the others.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message, target Role) (DispatchResult, error) {
	if strings.TrimSpace(msg.Text) == "" {
		return DispatchResult{}, ErrEmptyText
	}

	msg.Text = Truncate(msg.Text, MaxTextLength)

	handles := d.registry.ListByRole(target)
	d.metrics.ObserveRecipients(len(handles))
	if len(handles) == 0 {
		return DispatchResult{Outcome: OutcomeNoRecipients}, nil
	}

	for _, h := range handles {
		err := h.Push(ctx, msg)
		d.metrics.RecordPush(err == nil)
		if err != nil {
			d.logger.Debug("push to recipient failed",
				observability.String("role", target.String()),
				observability.Error(err),
			)
		}
	}

	return DispatchResult{Outcome: OutcomeDelivered, Count: len(handles)}, nil
}

// Truncate returns the first n characters of s.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
