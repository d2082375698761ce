package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/vyrodovalexey/speechrelay/internal/ratelimit"
)

// MockLimiter is a mock implementation of ratelimit.Limiter for testing
type MockLimiter struct {
	allowFunc func(ctx context.Context, key string) (*ratelimit.Result, error)
}

func (m *MockLimiter) Allow(ctx context.Context, key string) (*ratelimit.Result, error) {
	if m.allowFunc != nil {
		return m.allowFunc(ctx, key)
	}
	return &ratelimit.Result{
		Allowed:    true,
		Limit:      1,
		Remaining:  0,
		ResetAfter: 5 * time.Second,
	}, nil
}

func (m *MockLimiter) GetLimit() *ratelimit.Limit {
	return &ratelimit.Limit{Requests: 1, Window: 5 * time.Second}
}

func (m *MockLimiter) Reset(ctx context.Context, key string) error {
	return nil
}

func newRateLimitedEngine(config RateLimitConfig) *gin.Engine {
	router := gin.New()
	router.Use(RateLimit(config))
	router.POST("/speak", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"key": GetRateLimitKey(c)})
	})
	return router
}

func TestRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("allows request when under limit", func(t *testing.T) {
		router := newRateLimitedEngine(RateLimitConfig{
			Limiter:        &MockLimiter{},
			IncludeHeaders: true,
		})

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/speak", nil)
		req.RemoteAddr = "192.0.2.1:1234"
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"key":"192.0.2.1"}`, w.Body.String())
		assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
		assert.Empty(t, w.Header().Get("Retry-After"))
	})

	t.Run("rejects request over limit", func(t *testing.T) {
		called := false
		router := gin.New()
		router.Use(RateLimit(RateLimitConfig{
			Limiter: &MockLimiter{
				allowFunc: func(ctx context.Context, key string) (*ratelimit.Result, error) {
					return &ratelimit.Result{
						Allowed:    false,
						Limit:      1,
						ResetAfter: 3 * time.Second,
						RetryAfter: 2500 * time.Millisecond,
					}, nil
				},
			},
			IncludeHeaders: true,
		}))
		router.POST("/speak", func(c *gin.Context) {
			called = true
		})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/speak", nil))

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.JSONEq(t, `{"error":"Cooldown active"}`, w.Body.String())
		assert.Equal(t, "3", w.Header().Get("Retry-After"))
		assert.False(t, called)
	})

	t.Run("rejects request when limiter fails", func(t *testing.T) {
		router := newRateLimitedEngine(RateLimitConfig{
			Limiter: &MockLimiter{
				allowFunc: func(ctx context.Context, key string) (*ratelimit.Result, error) {
					return nil, errors.New("store unavailable")
				},
			},
		})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/speak", nil))

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
	})

	t.Run("uses custom key func", func(t *testing.T) {
		router := newRateLimitedEngine(RateLimitConfig{
			Limiter: &MockLimiter{},
			KeyFunc: ratelimit.ForwardedIPKeyFunc,
		})

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/speak", nil)
		req.Header.Set("X-Forwarded-For", "198.51.100.7")
		router.ServeHTTP(w, req)

		assert.JSONEq(t, `{"key":"198.51.100.7"}`, w.Body.String())
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"), "headers are opt-in")
	})

	t.Run("real limiter counts per client", func(t *testing.T) {
		limiter := ratelimit.NewFixedWindowLimiter(nil, 1, 5*time.Second, nil)
		defer limiter.Close()

		router := newRateLimitedEngine(RateLimitConfig{Limiter: limiter})

		codes := make([]int, 0, 3)
		for _, addr := range []string{"192.0.2.1:1", "192.0.2.1:2", "192.0.2.2:1"} {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/speak", nil)
			req.RemoteAddr = addr
			router.ServeHTTP(w, req)
			codes = append(codes, w.Code)
		}

		assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests, http.StatusOK}, codes)
	})
}
