package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"pdftrans-go/internal/ratelimit"
)

// GlobalGuard is a process-wide token bucket in front of all routes so a flood
// of distinct identities cannot saturate the server before per-identity
// tracking kicks in.
func GlobalGuard(rps, burst int) gin.HandlerFunc {
	if rps <= 0 {
		rps = 50
	}
	if burst <= 0 {
		burst = 100
	}
	global := rate.NewLimiter(rate.Limit(rps), burst)
	return func(c *gin.Context) {
		if !global.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{"message": "Server is busy, please retry shortly", "type": "rate_limit_error"},
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// RateLimit enforces a per-identity sliding-window quota on the routes it is
// mounted on. The scope keeps the window separate from other quotas tracked
// in the same limiter, so polling a task status never consumes submission
// quota.
func RateLimit(limiter *ratelimit.Limiter, scope string, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := scope + ":" + CallerIdentity(c)
		res := limiter.Check(identity, limit, window)
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", res.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", res.Remaining))
		if !res.Allowed {
			retryAfter := int(time.Until(res.ResetTime) / time.Second)
			if retryAfter < 0 {
				retryAfter = 0
			}
			c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"message": fmt.Sprintf("Rate limit exceeded. %d requests remaining.", res.Remaining),
					"type":    "rate_limit_error",
				},
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// CallerIdentity resolves the key under which quota is tracked: an explicit
// user id set by auth, a bearer token, or the client IP.
func CallerIdentity(c *gin.Context) string {
	if v, ok := c.Get("user_id"); ok {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	auth := strings.TrimSpace(c.GetHeader("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	if v := strings.TrimSpace(c.GetHeader("x-api-key")); v != "" {
		return v
	}
	return c.ClientIP()
}
