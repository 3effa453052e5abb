package middleware

import (
	"context"
	"strings"

	"coachroom/internal/core/domain"
	"coachroom/internal/core/services"
	"coachroom/pkg/errors"
	"coachroom/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Gin context keys set by AuthMiddleware.
const (
	UserIDKey            = "user_id"
	IdentityKey          = "identity"
	IdentitySessionIDKey = "identity_session_id"
)

// TokenAuthenticator is the part of the auth service the middleware needs.
type TokenAuthenticator interface {
	ValidateToken(token string) (*services.Claims, error)
	CurrentIdentity(ctx context.Context, sessionID string) (*domain.Identity, error)
}

// AuthMiddleware requires an access token of a live identity session. The
// token comes from the Authorization header, or from the access_token query
// parameter for WebSocket upgrades, which cannot carry headers from a browser.
func AuthMiddleware(auth TokenAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, appErr := bearerToken(c)
		if appErr != nil {
			AbortWithError(c, appErr)
			return
		}

		claims, err := auth.ValidateToken(token)
		if err != nil {
			AbortWithError(c, errors.NewUnauthorizedError(err.Error()))
			return
		}

		identity, err := auth.CurrentIdentity(c.Request.Context(), claims.SessionID)
		if err != nil {
			AbortWithError(c, errors.NewUnauthorizedError("session has ended"))
			return
		}

		c.Set(UserIDKey, identity.ID)
		c.Set(IdentityKey, *identity)
		c.Set(IdentitySessionIDKey, claims.SessionID)
		c.Request = c.Request.WithContext(logger.WithUserID(c.Request.Context(), string(identity.ID)))
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, *errors.AppError) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if token := c.Query("access_token"); token != "" {
			return token, nil
		}
		return "", errors.NewUnauthorizedError("authorization header required")
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", errors.NewUnauthorizedError("invalid authorization header format")
	}
	return parts[1], nil
}

// UserID returns the authenticated user set by AuthMiddleware.
func UserID(c *gin.Context) domain.UserID {
	id, _ := c.Get(UserIDKey)
	userID, _ := id.(domain.UserID)
	return userID
}

// Identity returns the authenticated identity set by AuthMiddleware.
func Identity(c *gin.Context) (domain.Identity, bool) {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return domain.Identity{}, false
	}
	identity, ok := v.(domain.Identity)
	return identity, ok
}

func IdentitySessionID(c *gin.Context) string {
	return c.GetString(IdentitySessionIDKey)
}
