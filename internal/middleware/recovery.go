package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/speechrelay/internal/observability"
)

// Recovery returns a middleware that turns panics into a 500 JSON response.
func Recovery(logger observability.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = observability.NopLogger()
	}

	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				fields := []observability.Field{
					observability.Any("error", err),
					observability.String("method", c.Request.Method),
					observability.String("path", c.Request.URL.Path),
					observability.String("clientIP", c.ClientIP()),
					observability.String("stack", string(debug.Stack())),
				}
				if requestID := GetRequestID(c); requestID != "" {
					fields = append(fields, observability.String("requestID", requestID))
				}

				logger.Error("panic recovered", fields...)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "Internal Server Error",
				})
			}
		}()

		c.Next()
	}
}
