package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mantonx/cadenza/internal/logger"
)

// RequestLogger logs HTTP requests at debug level
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip logging for health checks
		if c.Request.URL.Path == "/api/health" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		logger.Debug("%s %s -> %d (%s, %d bytes)",
			c.Request.Method,
			c.Request.URL.Path,
			c.Writer.Status(),
			time.Since(start).Round(time.Microsecond),
			c.Writer.Size(),
		)
	}
}

// ErrorLogger logs handler errors with request context
func ErrorLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		for _, err := range c.Errors {
			logger.Error("Request error on %s %s: %v",
				c.Request.Method, c.Request.URL.Path, err.Err)
		}
	}
}
