package middleware

import (
	"time"

	"github.com/findoc/backend/internal/logger"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RequestLogger writes one access log entry per request.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		entry := logger.WithContext(logrus.Fields{
			"component": "api",
			"method":    c.Request.Method,
			"path":      c.FullPath(),
			"status":    status,
			"latency":   time.Since(start).String(),
			"ip":        c.ClientIP(),
			"user_id":   CurrentUserID(c),
		})
		if c.FullPath() == "" {
			entry = entry.WithField("path", c.Request.URL.Path)
		}
		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.String())
		}

		switch {
		case status >= 500:
			entry.Error("[API] request failed")
		case status >= 400:
			entry.Warn("[API] request rejected")
		default:
			entry.Info("[API] request")
		}
	}
}
