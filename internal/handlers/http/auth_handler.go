package http

import (
	stderrors "errors"
	"net/http"
	"strings"

	"coachroom/internal/core/domain"
	"coachroom/internal/core/services"
	"coachroom/internal/infrastructure/middleware"
	"coachroom/pkg/errors"
	"coachroom/pkg/utils"
	"coachroom/pkg/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AuthHandler struct {
	authService *services.AuthService
	logger      *zap.SugaredLogger
}

func NewAuthHandler(authService *services.AuthService, logger *zap.SugaredLogger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		logger:      logger,
	}
}

// SetupRoutes registers the public and the authenticated auth routes.
func (h *AuthHandler) SetupRoutes(router *gin.Engine, requireAuth gin.HandlerFunc) {
	api := router.Group("/api/v1/auth")
	{
		api.POST("/login", h.Login)
		api.POST("/refresh", h.RefreshToken)
	}

	authed := router.Group("/api/v1/auth", requireAuth)
	{
		authed.POST("/logout", h.Logout)
		authed.POST("/logout/all", h.LogoutEverywhere)
		authed.GET("/me", h.Me)
	}
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,max=254"`
	Password string `json:"password" binding:"required,max=128"`
}

type LoginResponse struct {
	Success bool                `json:"success"`
	User    *domain.Identity    `json:"user,omitempty"`
	Tokens  *services.TokenPair `json:"tokens,omitempty"`
	Error   string              `json:"error,omitempty"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required,max=2048"`
}

// Login checks the demo credential. Every rejection, malformed email
// included, answers 401 with the same message.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.NewInvalidInputError("email and password are required"))
		return
	}

	req.Email = utils.NormalizeEmail(req.Email)
	if err := validation.ValidateEmail(req.Email); err != nil {
		h.rejectLogin(c, req.Email)
		return
	}
	if err := validation.ValidatePassword(req.Password); err != nil {
		h.rejectLogin(c, req.Email)
		return
	}

	tokens, err := h.authService.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if stderrors.Is(err, domain.ErrInvalidCredentials) {
			h.rejectLogin(c, req.Email)
			return
		}
		fail(c, err)
		return
	}

	identity := tokens.Identity
	c.JSON(http.StatusOK, LoginResponse{
		Success: true,
		User:    &identity,
		Tokens:  tokens,
	})
}

func (h *AuthHandler) rejectLogin(c *gin.Context, email string) {
	h.logger.Infow("login rejected", "email", utils.MaskEmail(email))
	c.JSON(http.StatusUnauthorized, LoginResponse{
		Success: false,
		Error:   "Invalid credentials",
	})
}

func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.NewInvalidInputError("refresh_token is required"))
		return
	}

	tokens, err := h.authService.Refresh(c.Request.Context(), strings.TrimSpace(req.RefreshToken))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": tokens})
}

func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.authService.SignOut(c.Request.Context(), middleware.IdentitySessionID(c)); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *AuthHandler) LogoutEverywhere(c *gin.Context) {
	n, err := h.authService.SignOutEverywhere(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "sessions": n})
}

func (h *AuthHandler) Me(c *gin.Context) {
	identity, ok := middleware.Identity(c)
	if !ok {
		fail(c, errors.NewUnauthorizedError("authentication required"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": identity})
}
