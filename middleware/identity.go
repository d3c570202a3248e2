package middleware

import (
	"net/http"
	"strings"

	"checkout-service/common/auth"

	"github.com/gin-gonic/gin"
)

const (
	UserContextKey = "userID"
	RoleContextKey = "role"
)

// Identity resolves the caller from a bearer token, falling back to the
// X-User-ID / X-User-Role headers set by the API gateway. Requests with
// neither continue as guests. A bearer token that fails validation is
// rejected outright.
func Identity(parser *auth.TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		if header := c.GetHeader("Authorization"); header != "" {
			tokenStr, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid Authorization header format"})
				return
			}
			id, err := parser.Parse(strings.TrimSpace(tokenStr))
			if err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
				return
			}
			setIdentity(c, id)
			c.Next()
			return
		}

		setIdentity(c, auth.Identity{
			UserID: strings.TrimSpace(c.GetHeader("X-User-ID")),
			Role:   strings.TrimSpace(c.GetHeader("X-User-Role")),
		})
		c.Next()
	}
}

func setIdentity(c *gin.Context, id auth.Identity) {
	c.Set(UserContextKey, id.UserID)
	c.Set(RoleContextKey, id.Role)
}

// GetIdentity returns the caller stored by Identity. Missing values read as a guest.
func GetIdentity(c *gin.Context) auth.Identity {
	return auth.Identity{
		UserID: c.GetString(UserContextKey),
		Role:   c.GetString(RoleContextKey),
	}
}

func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetIdentity(c).IsGuest() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}

func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := GetIdentity(c)
		if id.IsGuest() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		if !id.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			return
		}
		c.Next()
	}
}
