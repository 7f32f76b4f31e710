package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware validates bearer API keys.
type AuthMiddleware struct {
	validApiKey string
}

// NewAuthMiddleware creates a new AuthMiddleware instance.
func NewAuthMiddleware(apiKey string) *AuthMiddleware {
	return &AuthMiddleware{
		validApiKey: apiKey,
	}
}

// MiddlewareFunc creates a Gin middleware function for API key validation.
func (am *AuthMiddleware) MiddlewareFunc() gin.HandlerFunc {
	return func(c *gin.Context) {
		if am == nil || am.validApiKey == "" {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			c.Abort()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			c.Abort()
			return
		}

		apiKey := strings.TrimPrefix(authHeader, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(am.validApiKey)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			c.Abort()
			return
		}

		c.Next()
	}
}
