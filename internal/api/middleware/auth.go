package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIKeyMiddleware guards the processor-facing routes with a shared
// X-API-Key header. An empty configured key rejects everything; deployments
// must opt in explicitly.
func APIKeyMiddleware(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := c.GetHeader("X-API-Key")
		if key == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "invalid or missing API key",
				"code":    "ERR_UNAUTHORIZED",
			})
			return
		}
		c.Next()
	}
}
