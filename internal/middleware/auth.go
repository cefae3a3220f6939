package middleware

import (
	"net/http"
	"strings"

	"github.com/findoc/backend/internal/config"
	"github.com/findoc/backend/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	ContextUserID    = "user_id"
	ContextUserEmail = "user_email"
	ContextUserRole  = "user_role"

	SessionHeader   = "X-Session-Token"
	anonymousPrefix = "anon:"
)

// AuthMiddleware validates the bearer token and stores the caller in the context.
// When anonymous access is enabled, a request without a token may identify
// itself with a session UUID instead.
func AuthMiddleware(cfg config.AuthConfig) gin.HandlerFunc {
	secret := []byte(cfg.JWTSecret)

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			if cfg.AllowAnonymous {
				if session, err := uuid.Parse(c.GetHeader(SessionHeader)); err == nil {
					c.Set(ContextUserID, anonymousPrefix+session.String())
					c.Set(ContextUserRole, string(models.RoleUser))
					c.Next()
					return
				}
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
			return
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return secret, nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}
		userID, _ := claims["user_id"].(string)
		if userID == "" || strings.HasPrefix(userID, anonymousPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}
		c.Set(ContextUserID, userID)
		if email, ok := claims["email"].(string); ok {
			c.Set(ContextUserEmail, email)
		}
		if role, ok := claims["role"].(string); ok {
			c.Set(ContextUserRole, role)
		}

		c.Next()
	}
}

// RequireRole rejects callers whose role differs.
func RequireRole(role models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		if CurrentRole(c) != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
			return
		}
		c.Next()
	}
}

// CurrentUserID returns the authenticated owner, empty when unauthenticated.
func CurrentUserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

func CurrentRole(c *gin.Context) models.UserRole {
	return models.UserRole(c.GetString(ContextUserRole))
}

// IsAnonymous reports whether the caller authenticated with a session token.
func IsAnonymous(c *gin.Context) bool {
	return strings.HasPrefix(CurrentUserID(c), anonymousPrefix)
}
