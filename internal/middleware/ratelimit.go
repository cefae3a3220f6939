package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/findoc/backend/internal/logger"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type RateLimiterConfig struct {
	Client    *redis.Client
	Limit     int
	Window    time.Duration
	KeyPrefix string
	// KeyFunc identifies the caller; defaults to the authenticated user, then the client IP.
	KeyFunc func(c *gin.Context) string
}

// RateLimiter is a fixed-window counter in Redis. It fails open when Redis
// is unavailable.
func RateLimiter(cfg RateLimiterConfig) gin.HandlerFunc {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "rl:"
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(c *gin.Context) string {
			if id := CurrentUserID(c); id != "" {
				return "user:" + id
			}
			return "ip:" + c.ClientIP()
		}
	}
	limit := strconv.Itoa(cfg.Limit)

	return func(c *gin.Context) {
		if cfg.Client == nil || cfg.Limit <= 0 {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		key := cfg.KeyPrefix + cfg.KeyFunc(c)

		count, err := cfg.Client.Incr(ctx, key).Result()
		if err != nil {
			logger.WithError(err, "ratelimit").Debug("Rate limiter unavailable, allowing request")
			c.Next()
			return
		}
		if count == 1 {
			cfg.Client.Expire(ctx, key, cfg.Window)
		}

		reset := 0
		if ttl, err := cfg.Client.TTL(ctx, key).Result(); err == nil && ttl > 0 {
			reset = int(ttl.Seconds())
		}
		c.Header("X-RateLimit-Limit", limit)
		c.Header("X-RateLimit-Reset", strconv.Itoa(reset))

		if count > int64(cfg.Limit) {
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", strconv.Itoa(reset))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":         "rate limit exceeded",
				"retryAfterSec": reset,
				"window":        cfg.Window.String(),
			})
			return
		}
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", cfg.Limit-int(count)))
		c.Next()
	}
}
