package middleware

import (
	"net/http"
	"strconv"

	"github.com/aman-churiwal/chatguard/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RateLimit admits or rejects the request for one limit type. Rejections look the
// same whether they come from quota, block or blacklist, and never name the
// identifier.
func RateLimit(limiter *ratelimit.Limiter, limitType ratelimit.LimitType, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		rc := ratelimit.RequestContext{
			UserID:   c.GetString("user_id"),
			RemoteIP: c.ClientIP(),
		}

		verdict, err := limiter.Evaluate(c.Request.Context(), rc, limitType)
		if err != nil {
			logger.Error("rate limit misconfigured",
				zap.String("request_id", c.GetString("request_id")),
				zap.String("path", c.FullPath()),
				zap.Error(err),
			)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "internal server error",
			})
			c.Abort()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(verdict.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(verdict.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetUnix(verdict), 10))

		if !verdict.Allowed {
			retryAfter := verdict.RetryAfterSeconds()

			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"limit_type":  string(verdict.LimitType),
				"retry_after": retryAfter,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// Rounds up so the advertised reset is never earlier than the real one
func resetUnix(v ratelimit.Verdict) int64 {
	ts := v.ResetAt.Unix()
	if v.ResetAt.Nanosecond() > 0 {
		ts++
	}
	return ts
}
