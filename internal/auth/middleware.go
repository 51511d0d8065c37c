package auth

import (
	"strings"

	"github.com/gin-gonic/gin"

	apierrors "github.com/ozoneai/ozone/internal/errors"
	"github.com/ozoneai/ozone/internal/logger"
)

type contextKey string

const (
	// UserIDKey is the gin context key for the authenticated user id.
	UserIDKey contextKey = "user_id"
	// UserEmailKey is the gin context key for the authenticated user email.
	UserEmailKey contextKey = "user_email"
)

type Middleware struct {
	validator TokenValidator
}

func NewMiddleware(validator TokenValidator) *Middleware {
	return &Middleware{validator: validator}
}

// RequireAuth validates the bearer token and attaches the user id to the request.
func (m *Middleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")

		// Browser WebSocket API cannot set headers during the upgrade.
		if authHeader == "" && strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
			if token := c.Query("token"); token != "" {
				authHeader = "Bearer " + token
			}
		}

		if authHeader == "" {
			apierrors.AbortWithUnauthorized(c, "Authorization header is required")
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			apierrors.AbortWithUnauthorized(c, "Authorization header must be a Bearer token")
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if token == "" {
			apierrors.AbortWithUnauthorized(c, "Bearer token is empty")
			return
		}

		info, err := m.validator.ExtractUserInfo(token)
		if err != nil {
			apierrors.AbortWithUnauthorized(c, "Invalid or expired token")
			return
		}

		ctx := logger.WithUserID(c.Request.Context(), info.UserID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(string(UserIDKey), info.UserID)
		if info.Email != "" {
			c.Set(string(UserEmailKey), info.Email)
		}

		c.Next()
	}
}

// GetUserID extracts the authenticated user id from the Gin context.
func GetUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get(string(UserIDKey))
	if !exists {
		return "", false
	}

	id, ok := userID.(string)
	return id, ok && id != ""
}

// GetUserEmail extracts the authenticated user email, when the token carried one.
func GetUserEmail(c *gin.Context) (string, bool) {
	email, exists := c.Get(string(UserEmailKey))
	if !exists {
		return "", false
	}

	e, ok := email.(string)
	return e, ok
}
