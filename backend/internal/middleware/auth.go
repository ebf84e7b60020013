package middleware

import (
	"net/http"
	"strings"

	"collab-board/backend/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
)

// ContextUserID is the gin context key holding the caller's uuid.UUID.
const ContextUserID = "user_id"

type AuthzConfig struct {
	Secret string
	// AllowQueryToken accepts ?token= for clients that cannot set headers,
	// such as browser WebSocket connections.
	AllowQueryToken bool
}

func AuthzMiddleware(cfg AuthzConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c.GetHeader("Authorization"))
		if raw == "" && cfg.AllowQueryToken {
			raw = c.Query("token")
		}
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization token"})
			return
		}

		claims, err := utils.ParseJWT(raw, cfg.Secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		if tokenType, _ := claims["type"].(string); tokenType != "access" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "access token required"})
			return
		}
		userID, err := utils.ClaimUUID(claims, "user_id")
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.Set(ContextUserID, userID)
		c.Next()
	}
}

// UserID returns the authenticated caller set by AuthzMiddleware.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
