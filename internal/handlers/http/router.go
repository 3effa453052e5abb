package http

import (
	"net/http"

	"coachroom/internal/infrastructure/middleware"
	"coachroom/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Auth     *AuthHandler
	Sessions *SessionHandler
	Uploads  *UploadHandler
	Health   *HealthHandler

	RequireAuth gin.HandlerFunc
	// HTTPLimit and WSLimit may be nil when rate limiting is off.
	HTTPLimit gin.HandlerFunc
	WSLimit   gin.HandlerFunc
	// Metrics serves /metrics when set.
	Metrics http.Handler

	Logger        *zap.SugaredLogger
	ContextLogger *logger.ContextLogger
}

func passThrough(c *gin.Context) { c.Next() }

// NewRouter assembles the API. Recovery is outermost; the error handler sits
// inside the request logger so the logged status is the rendered one.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	router := gin.New()

	router.Use(middleware.RecoveryMiddleware(cfg.Logger))
	if cfg.ContextLogger != nil {
		router.Use(middleware.RequestLoggerMiddleware(cfg.ContextLogger))
	}
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.ErrorHandlerMiddleware(cfg.Logger))
	if cfg.HTTPLimit != nil {
		router.Use(cfg.HTTPLimit)
	}

	wsLimit := cfg.WSLimit
	if wsLimit == nil {
		wsLimit = passThrough
	}

	router.GET("/health", cfg.Health.Health)
	router.GET("/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	cfg.Auth.SetupRoutes(router, cfg.RequireAuth)

	api := router.Group("/api/v1", cfg.RequireAuth)
	{
		api.GET("/stats", cfg.Health.Stats)
		cfg.Sessions.SetupRoutes(api, wsLimit)
		cfg.Uploads.SetupRoutes(api, wsLimit)
	}

	return router
}
