package middleware

import (
	"github.com/aman-churiwal/chatguard/internal/service"
	"github.com/gin-gonic/gin"
)

// Identity reads the dashboard session token, if any, so authenticated traffic is
// limited per user. A missing or invalid token leaves the request anonymous; the
// dashboard itself rejects bad tokens.
func Identity(secret string) gin.HandlerFunc {
	key := []byte(secret)

	return func(c *gin.Context) {
		if len(key) == 0 {
			c.Next()
			return
		}

		tokenString, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.Next()
			return
		}

		claims, err := service.ParseHS256(tokenString, key)
		if err != nil {
			c.Next()
			return
		}

		userID := claimString(claims, "user_id")
		if userID == "" {
			userID = claimString(claims, "sub")
		}
		if userID != "" {
			c.Set("user_id", userID)
		}

		c.Next()
	}
}
