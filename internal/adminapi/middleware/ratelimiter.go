// Package middleware carries the admin API's gin middleware: a Redis
// sliding-window rate limiter grounded on the upstream reference's
// api/internal/delivery/http/middleware/rate_limiter.go, adapted from
// per-IP job submission limiting to per-IP operator-endpoint limiting.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RateLimiter enforces per-IP rate limiting with a Redis sorted-set sliding
// window, same algorithm as the job-submission limiter: remove entries
// outside the window, count what's left, add the current hit, cap the TTL.
func RateLimiter(rdb *redis.Client, maxRequestsPerMinute int) gin.HandlerFunc {
	window := time.Minute

	return func(c *gin.Context) {
		if rdb == nil {
			c.Next()
			return
		}

		ip := c.ClientIP()
		key := fmt.Sprintf("qbroker:adminapi:ratelimit:%s", ip)
		now := time.Now()
		nowUnixNano := float64(now.UnixNano())
		windowStart := float64(now.Add(-window).UnixNano())

		ctx := context.Background()
		pipe := rdb.Pipeline()
		pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%f", windowStart))
		countCmd := pipe.ZCard(ctx, key)
		pipe.ZAdd(ctx, key, redis.Z{Score: nowUnixNano, Member: nowUnixNano})
		pipe.Expire(ctx, key, window+time.Second)

		if _, err := pipe.Exec(ctx); err != nil {
			// Fail-open: an unreachable Redis must not take the admin API down.
			c.Next()
			return
		}

		count := countCmd.Val()
		if count >= int64(maxRequestsPerMinute) {
			rdb.ZRemRangeByScore(ctx, key, fmt.Sprintf("%f", nowUnixNano), fmt.Sprintf("%f", nowUnixNano))
			c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", maxRequestsPerMinute))
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": fmt.Sprintf("rate limit exceeded: max %d requests per minute", maxRequestsPerMinute),
			})
			return
		}

		remaining := int64(maxRequestsPerMinute) - count - 1
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", maxRequestsPerMinute))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		c.Next()
	}
}
