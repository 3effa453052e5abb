package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coachroom/internal/core/domain"
	"coachroom/internal/core/ports"
	"coachroom/internal/core/services"
	httphandlers "coachroom/internal/handlers/http"
	"coachroom/internal/infrastructure/events"
	"coachroom/internal/infrastructure/media"
	"coachroom/internal/infrastructure/middleware"
	"coachroom/internal/infrastructure/monitoring"
	"coachroom/internal/infrastructure/repositories"
	"coachroom/internal/infrastructure/upload"
	"coachroom/pkg/config"
	"coachroom/pkg/logger"
	"coachroom/pkg/storage"
	"coachroom/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var configPaths = []string{
	"configs/config.yaml",
	"./configs/config.yaml",
	"/etc/coachroom/config.yaml",
	"config.yaml",
}

func main() {
	cfg, path, err := config.LoadFirst(configPaths...)
	if err != nil {
		// logger level comes from config, so this one goes to a default logger
		zap.NewExample().Sugar().Fatalw("failed to load config", "error", err)
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()
	if path != "" {
		log.Infow("loaded config", "path", path)
	} else {
		log.Info("no config file found, using defaults")
	}

	if err := run(cfg, zapLogger); err != nil {
		log.Fatalw("coachroom stopped with error", "error", err)
	}
	log.Info("coachroom stopped")
}

func run(cfg *config.Config, zapLogger *zap.Logger) error {
	log := zapLogger.Sugar()
	clock := clockwork.NewRealClock()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "coachroom",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return err
	}

	repoFactory, err := repositories.NewRepositoryFactory(cfg, clock, log)
	if err != nil {
		return err
	}

	// Metrics: in-process counters, mirrored to Prometheus when enabled
	var delegate ports.Metrics
	var metricsHandler http.Handler
	if cfg.Monitoring.PrometheusEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		delegate = monitoring.NewPrometheusCollector(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
		log.Info("Prometheus metrics enabled")
	}
	metricsService := services.NewMetricsService(delegate)

	hub := events.NewHub(cfg.WebSocket.SendBuffer, log)
	streamer := events.NewStreamer(hub, events.StreamerConfig{
		PingInterval:   cfg.WebSocket.PingInterval,
		PongTimeout:    cfg.WebSocket.PongTimeout,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, log)

	devices := media.NewDeviceManager(media.DeviceManagerConfig{
		Camera:     deviceSettings(cfg.Media.Camera),
		Microphone: deviceSettings(cfg.Media.Microphone),
		Clock:      clock,
	}, log)

	sessionService := services.NewSessionService(
		services.SessionServiceConfig{
			ProbeGrace:   cfg.Media.ProbeGrace,
			TickInterval: cfg.Media.TickInterval,
			IdleTTL:      cfg.Sessions.IdleTTL,
			MaxPerOwner:  cfg.Sessions.MaxPerOwner,
		},
		devices,
		media.NewRecorderFactory(clock, log),
		func(id domain.SessionID) ports.PreviewSink { return media.NewPreviewSlot(id, log) },
		hub,
		metricsService,
		clock,
		log,
	)

	uploader, err := newUploader(context.Background(), cfg, clock, log)
	if err != nil {
		return err
	}
	uploadService := services.NewUploadService(services.UploadConfig{
		MaxSize:   cfg.Upload.MaxSizeBytes,
		Timeout:   cfg.Upload.Timeout,
		Retention: cfg.Upload.Retention,
	}, uploader, hub, metricsService, clock, log)

	authService, err := services.NewAuthService(services.AuthConfig{
		JWTSecret:        cfg.Auth.JWTSecret,
		AccessTokenTTL:   cfg.Auth.AccessTokenTTL,
		RefreshTokenTTL:  cfg.Auth.RefreshTokenTTL,
		DemoUserID:       domain.UserID(cfg.Auth.Demo.UserID),
		DemoEmail:        cfg.Auth.Demo.Email,
		DemoName:         cfg.Auth.Demo.Name,
		DemoPassword:     cfg.Auth.Demo.Password,
		DemoPasswordHash: cfg.Auth.Demo.PasswordHash,
		BcryptCost:       cfg.Auth.BcryptCost,
	}, repoFactory.CreateIdentityStore(), clock, log)
	if err != nil {
		return err
	}

	checker := monitoring.NewHealthChecker()
	if repoFactory.UsingRedis() {
		checker.AddPingCheck("redis", repoFactory.HealthCheck, 30*time.Second, 2*time.Second)
	}
	if cfg.RateLimiting.Enabled {
		checker.AddCapacityCheck("event_streams", func() int { return int(streamer.Active()) }, cfg.RateLimiting.WebSocket.MaxConcurrent)
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httphandlers.NewRouter(httphandlers.RouterConfig{
		Auth:     httphandlers.NewAuthHandler(authService, log),
		Sessions: httphandlers.NewSessionHandler(sessionService, streamer),
		Uploads:  httphandlers.NewUploadHandler(uploadService, streamer, cfg.Upload.MaxSizeBytes),
		Health: httphandlers.NewHealthHandler(checker, httphandlers.StatsSource{
			Metrics:       metricsService,
			EventsDropped: hub.Dropped,
			ActiveStreams: streamer.Active,
		}, clock),
		RequireAuth:   middleware.AuthMiddleware(authService),
		HTTPLimit:     middleware.NewHTTPRateLimitMiddleware(cfg),
		WSLimit:       middleware.NewWebSocketRateLimitMiddleware(cfg),
		Metrics:       metricsHandler,
		Logger:        log,
		ContextLogger: logger.NewContextLogger(zapLogger),
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infow("Starting coachroom server", "address", cfg.Server.Address, "redis", repoFactory.UsingRedis())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.Sessions.JanitorInterval > 0 {
		g.Go(func() error {
			return sessionService.RunJanitor(gctx, cfg.Sessions.JanitorInterval)
		})
	}
	checker.StartBackgroundChecks(gctx, func(name string, err error) {
		log.Warnw("health check failing", "check", name, "error", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down coachroom server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorw("Error during server shutdown", "error", err)
			if closeErr := srv.Close(); closeErr != nil {
				log.Errorw("Error force closing server", "error", closeErr)
			}
		} else {
			log.Info("Server shutdown gracefully")
		}

		// release every camera and microphone before the process exits
		sessionService.CloseAll()
		uploadService.Close()
		hub.Close()

		if err := repoFactory.Close(); err != nil {
			log.Errorw("Error closing repository factory", "error", err)
		}
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Errorw("Error shutting down tracer provider", "error", err)
		}
		return nil
	})

	return g.Wait()
}

func deviceSettings(d config.DeviceConfig) media.DeviceSettings {
	return media.DeviceSettings{
		Present:    d.Present,
		Permission: media.Permission(d.Permission),
		Exclusive:  d.Exclusive,
	}
}

func newUploader(ctx context.Context, cfg *config.Config, clock clockwork.Clock, log *zap.SugaredLogger) (ports.Uploader, error) {
	var store storage.Storage
	switch cfg.Upload.Backend {
	case "file":
		dir, err := storage.NewFileStorage(cfg.Upload.Dir)
		if err != nil {
			return nil, err
		}
		log.Infow("Storing uploaded documents on disk", "dir", cfg.Upload.Dir)
		store = dir
	case "s3":
		s3cfg := cfg.Upload.S3
		bucket, err := storage.NewS3Storage(ctx, storage.S3Config{
			Endpoint:        s3cfg.Endpoint,
			Region:          s3cfg.Region,
			Bucket:          s3cfg.Bucket,
			Prefix:          s3cfg.Prefix,
			AccessKeyID:     s3cfg.AccessKeyID,
			SecretAccessKey: s3cfg.SecretAccessKey,
			UsePathStyle:    s3cfg.UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		log.Infow("Storing uploaded documents in S3", "bucket", s3cfg.Bucket, "prefix", s3cfg.Prefix)
		store = bucket
	}
	if store != nil {
		return upload.NewStorageUploader(store, cfg.Upload.StepPercent, clock, log), nil
	}

	return upload.NewSimulatedUploader(upload.SimulatedConfig{
		Step:     cfg.Upload.StepPercent,
		Interval: cfg.Upload.StepInterval,
		Clock:    clock,
	}, log), nil
}
