package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vyrodovalexey/speechrelay/internal/observability"
)

const (
	// RequestIDHeader is the header name for request ID.
	RequestIDHeader = "X-Request-ID"
	// RequestIDKey is the context key for request ID.
	RequestIDKey = "requestID"
)

// LoggingConfig holds configuration for the logging middleware.
type LoggingConfig struct {
	Logger          observability.Logger
	SkipPaths       []string
	SkipHealthCheck bool
}

// Logging returns a middleware that logs HTTP requests.
func Logging(logger observability.Logger) gin.HandlerFunc {
	return LoggingWithConfig(LoggingConfig{Logger: logger})
}

// isHealthCheckPath checks if the path is a health check endpoint.
func isHealthCheckPath(path string) bool {
	return path == "/health" || path == "/ready" || path == "/metrics"
}

// LoggingWithConfig returns a logging middleware with custom configuration.
// It also assigns the request ID, so RequestID is not needed alongside it.
func LoggingWithConfig(config LoggingConfig) gin.HandlerFunc {
	if config.Logger == nil {
		config.Logger = observability.NopLogger()
	}

	skipPaths := make(map[string]bool)
	for _, path := range config.SkipPaths {
		skipPaths[path] = true
	}

	return func(c *gin.Context) {
		requestID := assignRequestID(c)

		path := c.Request.URL.Path
		if skipPaths[path] || (config.SkipHealthCheck && isHealthCheckPath(path)) {
			c.Next()
			return
		}

		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		fields := []observability.Field{
			observability.String("requestID", requestID),
			observability.String("method", c.Request.Method),
			observability.String("path", path),
			observability.Int("status", status),
			observability.Duration("latency", time.Since(start)),
			observability.String("clientIP", c.ClientIP()),
			observability.String("userAgent", c.Request.UserAgent()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, observability.String("errors", c.Errors.String()))
		}

		switch {
		case status >= 500:
			config.Logger.Error("request completed", fields...)
		case status >= 400:
			config.Logger.Warn("request completed", fields...)
		default:
			config.Logger.Info("request completed", fields...)
		}
	}
}

// RequestID returns a middleware that generates and sets a request ID.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		assignRequestID(c)
		c.Next()
	}
}

func assignRequestID(c *gin.Context) string {
	if id := GetRequestID(c); id != "" {
		return id
	}
	requestID := c.GetHeader(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.New().String()
	}
	c.Set(RequestIDKey, requestID)
	c.Header(RequestIDHeader, requestID)
	c.Request = c.Request.WithContext(
		observability.ContextWithRequestID(c.Request.Context(), requestID))
	return requestID
}

// GetRequestID returns the request ID from the context.
func GetRequestID(c *gin.Context) string {
	if id, exists := c.Get(RequestIDKey); exists {
		if requestID, ok := id.(string); ok {
			return requestID
		}
	}
	return ""
}
