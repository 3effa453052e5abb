package repositories

import (
	"context"

	"coachroom/internal/core/ports"
	"coachroom/internal/infrastructure/reliability"
	"coachroom/internal/infrastructure/repositories/memory"
	redisrepo "coachroom/internal/infrastructure/repositories/redis"
	"coachroom/pkg/circuitbreaker"
	"coachroom/pkg/config"
	"coachroom/pkg/retry"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates repositories, falling back to memory when Redis
// is disabled or unreachable.
type RepositoryFactory struct {
	cfg         *config.Config
	useRedis    bool
	redisClient *redis.Client
	clock       clockwork.Clock
	logger      *zap.SugaredLogger

	closers []func()
}

// NewRepositoryFactory creates a new repository factory
func NewRepositoryFactory(cfg *config.Config, clock clockwork.Clock, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	factory := &RepositoryFactory{
		cfg:      cfg,
		useRedis: cfg.Redis.Enabled,
		clock:    clock,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			cfg.Redis.KeyPrefix,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis repositories")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory repositories")
	}

	return factory, nil
}

// UsingRedis reports whether repositories are backed by Redis.
func (f *RepositoryFactory) UsingRedis() bool {
	return f.useRedis && f.redisClient != nil
}

// CreateIdentityStore returns the identity session store. The Redis store is
// wrapped with retry and a circuit breaker.
func (f *RepositoryFactory) CreateIdentityStore() ports.IdentityStore {
	if f.UsingRedis() {
		store := redisrepo.NewIdentityRepository(f.redisClient, f.cfg.Redis.KeyPrefix)
		return reliability.NewIdentityStoreWrapper(store, f.retryConfig(), f.breakerConfig(), f.logger)
	}

	store := memory.NewIdentityRepository(f.clock, f.cfg.Sessions.JanitorInterval)
	f.closers = append(f.closers, store.Close)
	return store
}

func (f *RepositoryFactory) retryConfig() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.Enabled = f.cfg.Reliability.RetryAttempts > 0
	cfg.MaxAttempts = f.cfg.Reliability.RetryAttempts
	if f.cfg.Reliability.RetryDelay > 0 {
		cfg.InitialDelay = f.cfg.Reliability.RetryDelay
	}
	return cfg
}

func (f *RepositoryFactory) breakerConfig() circuitbreaker.Config {
	cfg := circuitbreaker.DefaultConfig()
	cfg.FailureThreshold = f.cfg.Reliability.FailureThreshold
	if f.cfg.Reliability.BreakerTimeout > 0 {
		cfg.Timeout = f.cfg.Reliability.BreakerTimeout
	}
	cfg.Clock = f.clock
	return cfg
}

// Close releases the Redis connection and stops memory store cleanup.
func (f *RepositoryFactory) Close() error {
	for _, closeFn := range f.closers {
		closeFn()
	}
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}

// HealthCheck pings Redis when it is in use.
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.UsingRedis() {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
