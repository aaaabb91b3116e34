package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"bothost/pkg/logger"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware checks the bearer token against apiKey. An empty apiKey
// disables authentication.
func AuthMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}

		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" {
			token = c.Query("api_key") // browsers cannot set headers on websocket upgrades
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
			logger.WarnCtx(c.Request.Context(), "unauthorized request to %s, invalid API key", c.FullPath())
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		c.Next()
	}
}
