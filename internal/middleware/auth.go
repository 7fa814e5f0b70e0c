package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"spawnhub/internal/auth"
	"spawnhub/internal/authz"
)

const callerContextKey = "caller"

func CallerFromContext(c *gin.Context) (authz.Caller, bool) {
	value, ok := c.Get(callerContextKey)
	if !ok {
		return authz.Caller{}, false
	}
	caller, ok := value.(authz.Caller)
	return caller, ok && caller.Name != ""
}

func RequireAuth(cfg auth.TokenConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			c.Abort()
			return
		}

		claims, err := auth.VerifyToken(parts[1], cfg)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			c.Abort()
			return
		}

		c.Set(callerContextKey, authz.Caller{Name: claims.Name, Admin: claims.Admin})
		c.Next()
	}
}
