package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/speechrelay/internal/observability"
)

// DefaultReadinessProbeTimeout is the default timeout for readiness probes.
const DefaultReadinessProbeTimeout = 5 * time.Second

// Status values.
const (
	StatusOK       = "ok"
	StatusError    = "error"
	StatusDraining = "draining"
)

// Handler serves health and readiness requests.
type Handler struct {
	checks   []HealthCheck
	clients  func() int
	logger   observability.Logger
	timeout  time.Duration
	mu       sync.RWMutex
	draining atomic.Bool
}

// HealthResponse is the body of the health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
}

// ReadinessResponse is the body of the readiness endpoint.
type ReadinessResponse struct {
	Status    string                  `json:"status"`
	Timestamp time.Time               `json:"timestamp"`
	Checks    map[string]*CheckResult `json:"checks,omitempty"`
}

// CheckResult represents the result of a single health check.
type CheckResult struct {
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// NewHandler creates a health handler. clients reports the number of
// connected clients.
func NewHandler(clients func() int, logger observability.Logger) *Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if clients == nil {
		clients = func() int { return 0 }
	}
	return &Handler{
		checks:  make([]HealthCheck, 0),
		clients: clients,
		logger:  logger,
		timeout: DefaultReadinessProbeTimeout,
	}
}

// SetReadinessTimeout sets the deadline for running all readiness checks.
func (h *Handler) SetReadinessTimeout(timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if timeout > 0 {
		h.timeout = timeout
	}
}

// AddCheck adds a readiness check.
func (h *Handler) AddCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// SetDraining marks the relay as shutting down. A draining relay reports
// not ready.
func (h *Handler) SetDraining(draining bool) {
	h.draining.Store(draining)
}

// HealthHandler returns a handler reporting liveness and the number of
// connected clients.
func (h *Handler) HealthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthResponse{
			Status:  StatusOK,
			Clients: h.clients(),
		})
	}
}

// ReadinessHandler returns a handler for readiness probes.
func (h *Handler) ReadinessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.draining.Load() {
			c.JSON(http.StatusServiceUnavailable, ReadinessResponse{
				Status:    StatusDraining,
				Timestamp: time.Now().UTC(),
			})
			return
		}

		h.mu.RLock()
		timeout := h.timeout
		h.mu.RUnlock()

		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		status := h.runChecks(ctx)

		statusCode := http.StatusOK
		if status.Status != StatusOK {
			statusCode = http.StatusServiceUnavailable
		}

		c.JSON(statusCode, status)
	}
}

// runChecks runs all checks concurrently.
func (h *Handler) runChecks(ctx context.Context) *ReadinessResponse {
	h.mu.RLock()
	checks := make([]HealthCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := &ReadinessResponse{
		Status:    StatusOK,
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]*CheckResult),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, check := range checks {
		wg.Add(1)
		go func(hc HealthCheck) {
			defer wg.Done()

			start := time.Now()
			err := hc.Check(ctx)
			duration := time.Since(start)

			result := &CheckResult{
				Status:   StatusOK,
				Duration: duration.String(),
			}

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				result.Status = StatusError
				result.Error = err.Error()
				status.Status = StatusError

				h.logger.Warn("health check failed",
					observability.String("check", hc.Name()),
					observability.Error(err),
					observability.Duration("duration", duration),
				)
			}
			status.Checks[hc.Name()] = result
		}(check)
	}

	wg.Wait()
	return status
}

// RegisterRoutes registers health routes on a Gin engine.
func (h *Handler) RegisterRoutes(engine *gin.Engine) {
	engine.GET("/health", h.HealthHandler())
	engine.GET("/ready", h.ReadinessHandler())
}
