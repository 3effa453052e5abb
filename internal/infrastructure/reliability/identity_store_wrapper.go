package reliability

import (
	"context"
	"errors"

	"coachroom/internal/core/domain"
	"coachroom/internal/core/ports"
	"coachroom/pkg/circuitbreaker"
	"coachroom/pkg/retry"
	"coachroom/pkg/tracing"

	"go.uber.org/zap"
)

// IdentityStoreWrapper wraps an IdentityStore with retry logic and a circuit
// breaker. A missing session is an answer, not a failure: it is neither
// retried nor counted by the breaker.
type IdentityStoreWrapper struct {
	store  ports.IdentityStore
	logger *zap.SugaredLogger

	retryConfig    retry.Config
	circuitBreaker *circuitbreaker.CircuitBreaker
}

func NewIdentityStoreWrapper(
	store ports.IdentityStore,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *IdentityStoreWrapper {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	retryConfig.NonRetryableErrors = append(append([]error(nil), retryConfig.NonRetryableErrors...),
		domain.ErrIdentityNotFound,
		circuitbreaker.ErrOpen,
		context.Canceled,
		context.DeadlineExceeded,
	)
	if cbConfig.IsFailure == nil {
		cbConfig.IsFailure = isStoreFailure
	}

	wrapper := &IdentityStoreWrapper{
		store:          store,
		logger:         logger,
		retryConfig:    retryConfig,
		circuitBreaker: circuitbreaker.New(cbConfig),
	}

	wrapper.circuitBreaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("identity store circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return wrapper
}

var _ ports.IdentityStore = (*IdentityStoreWrapper)(nil)

func isStoreFailure(err error) bool {
	return !errors.Is(err, domain.ErrIdentityNotFound)
}

// traced runs op inside a store span, recording failures other than a
// missing session.
func traced[T any](ctx context.Context, operation string, op func(ctx context.Context) (T, error)) (T, error) {
	ctx, span := tracing.TraceStoreOperation(ctx, operation, "identity")
	defer span.End()

	result, err := op(ctx)
	if err != nil && isStoreFailure(err) {
		tracing.RecordError(ctx, err)
	}
	return result, err
}

func (w *IdentityStoreWrapper) Load(ctx context.Context, sessionID string) (*domain.IdentitySession, error) {
	return traced(ctx, "load", func(ctx context.Context) (*domain.IdentitySession, error) {
		return retry.RetryWithResult(ctx, w.retryConfig, func() (*domain.IdentitySession, error) {
			return circuitbreaker.Execute(ctx, w.circuitBreaker, func() (*domain.IdentitySession, error) {
				return w.store.Load(ctx, sessionID)
			})
		})
	})
}

func (w *IdentityStoreWrapper) Save(ctx context.Context, session *domain.IdentitySession) error {
	_, err := traced(ctx, "save", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, retry.Retry(ctx, w.retryConfig, func() error {
			return w.circuitBreaker.Execute(ctx, func() error {
				return w.store.Save(ctx, session)
			})
		})
	})
	return err
}

func (w *IdentityStoreWrapper) Clear(ctx context.Context, sessionID string) error {
	_, err := traced(ctx, "clear", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, retry.Retry(ctx, w.retryConfig, func() error {
			return w.circuitBreaker.Execute(ctx, func() error {
				return w.store.Clear(ctx, sessionID)
			})
		})
	})
	return err
}

func (w *IdentityStoreWrapper) ClearUser(ctx context.Context, userID domain.UserID) (int, error) {
	return traced(ctx, "clear_user", func(ctx context.Context) (int, error) {
		return retry.RetryWithResult(ctx, w.retryConfig, func() (int, error) {
			return circuitbreaker.Execute(ctx, w.circuitBreaker, func() (int, error) {
				return w.store.ClearUser(ctx, userID)
			})
		})
	})
}

// GetCircuitBreakerStats returns circuit breaker statistics
func (w *IdentityStoreWrapper) GetCircuitBreakerStats() circuitbreaker.Stats {
	return w.circuitBreaker.GetStats()
}
