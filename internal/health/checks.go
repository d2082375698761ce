// Package health provides the relay's health and readiness endpoints.
package health

import (
	"context"
	"errors"
	"fmt"
)

// HealthCheck defines the interface for readiness checks.
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthCheckFunc is a function type that implements HealthCheck.
type HealthCheckFunc struct {
	name      string
	checkFunc func(ctx context.Context) error
}

// Name returns the name of the health check.
func (f *HealthCheckFunc) Name() string {
	return f.name
}

// Check performs the health check.
func (f *HealthCheckFunc) Check(ctx context.Context) error {
	return f.checkFunc(ctx)
}

// NewHealthCheckFunc creates a new health check function.
func NewHealthCheckFunc(name string, check func(ctx context.Context) error) *HealthCheckFunc {
	return &HealthCheckFunc{
		name:      name,
		checkFunc: check,
	}
}

// Pinger is implemented by dependencies that can be probed.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck creates a check that pings a dependency, such as the Redis
// rate limit store.
func PingCheck(name string, pinger Pinger) *HealthCheckFunc {
	return NewHealthCheckFunc(name, func(ctx context.Context) error {
		if pinger == nil {
			return errors.New("dependency is nil")
		}
		if err := pinger.Ping(ctx); err != nil {
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
		return nil
	})
}
