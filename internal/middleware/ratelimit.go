package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/taskora/taskora-api/pkg/config"
	appErrors "github.com/taskora/taskora-api/pkg/errors"
	"github.com/taskora/taskora-api/pkg/response"
)

// RateLimit throttles credential endpoints per client IP with a fixed Redis
// window. Redis being unreachable does not block logins: availability
// failures here are not auth failures, so the limiter fails open and logs.
func RateLimit(client *redis.Client, cfg config.RateLimitConfig, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		if client == nil || !cfg.Enabled {
			c.Next()
			return
		}

		key := fmt.Sprintf("ratelimit:auth:%s", c.ClientIP())

		count, err := client.Incr(c.Request.Context(), key).Result()
		if err != nil {
			logger.Warn("rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if count == 1 {
			if err := client.Expire(c.Request.Context(), key, cfg.Window).Err(); err != nil {
				logger.Warn("rate limiter expire failed", zap.Error(err))
			}
		}

		if count > int64(cfg.MaxAttempts) {
			response.Error(c, appErrors.Clone(appErrors.ErrRateLimited, ""))
			c.Abort()
			return
		}

		c.Next()
	}
}
