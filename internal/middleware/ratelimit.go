package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/speechrelay/internal/observability"
	"github.com/vyrodovalexey/speechrelay/internal/ratelimit"
)

// CooldownMessage is the error body of a rate limited request.
const CooldownMessage = "Cooldown active"

// RateLimitKey is the context key holding the rate limit key of a request.
const RateLimitKey = "rateLimitKey"

// RateLimitConfig holds configuration for the rate limit middleware.
type RateLimitConfig struct {
	// Limiter is the rate limiter to use.
	Limiter ratelimit.Limiter

	// KeyFunc extracts the rate limit key from the request.
	KeyFunc ratelimit.KeyFunc

	// Logger for logging rate limit events.
	Logger observability.Logger

	// Metrics records rate limit decisions.
	Metrics *observability.Metrics

	// IncludeHeaders determines whether to include rate limit headers.
	IncludeHeaders bool
}

// RateLimit returns a middleware that consumes one point per request and
// answers 429 once the client's budget is spent. Limiter errors reject
// the request as well.
func RateLimit(config RateLimitConfig) gin.HandlerFunc {
	if config.Limiter == nil {
		config.Limiter = ratelimit.NewNoopLimiter()
	}
	if config.KeyFunc == nil {
		config.KeyFunc = ratelimit.RemoteIPKeyFunc
	}
	if config.Logger == nil {
		config.Logger = observability.NopLogger()
	}

	return func(c *gin.Context) {
		key := config.KeyFunc(c.Request)
		c.Set(RateLimitKey, key)

		result, err := config.Limiter.Allow(c.Request.Context(), key)
		if err != nil {
			config.Logger.Error("rate limit check failed",
				observability.String("key", key),
				observability.Error(err),
			)
			config.Metrics.RecordRateLimit(false)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": CooldownMessage})
			return
		}

		if config.IncludeHeaders {
			c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			c.Header("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(result.ResetAfter).Unix(), 10))
		}

		if !result.Allowed {
			config.Metrics.RecordRateLimit(false)
			if config.IncludeHeaders {
				c.Header("Retry-After", strconv.Itoa(int(math.Ceil(result.RetryAfter.Seconds()))))
			}

			config.Logger.Debug("rate limit exceeded",
				observability.String("key", key),
				observability.Int("limit", result.Limit),
			)

			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": CooldownMessage})
			return
		}

		config.Metrics.RecordRateLimit(true)
		c.Next()
	}
}

// GetRateLimitKey returns the rate limit key assigned to the request.
func GetRateLimitKey(c *gin.Context) string {
	return c.GetString(RateLimitKey)
}
