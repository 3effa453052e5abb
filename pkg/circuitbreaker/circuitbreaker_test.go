package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend down")

func newTestBreaker(clock clockwork.Clock) *CircuitBreaker {
	return New(Config{
		FailureThreshold:    2,
		SuccessThreshold:    2,
		Timeout:             time.Second,
		MaxRequestsHalfOpen: 2,
		Clock:               clock,
	})
}

func fail() error    { return errBackend }
func succeed() error { return nil }

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := newTestBreaker(clockwork.NewFakeClock())
	ctx := context.Background()

	assert.ErrorIs(t, cb.Execute(ctx, fail), errBackend)
	assert.Equal(t, StateClosed, cb.GetState())
	assert.ErrorIs(t, cb.Execute(ctx, fail), errBackend)
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Execute(ctx, func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := newTestBreaker(clockwork.NewFakeClock())
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	require.NoError(t, cb.Execute(ctx, succeed))
	_ = cb.Execute(ctx, fail)

	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenClosesAfterSuccesses(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := newTestBreaker(clock)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	require.Equal(t, StateOpen, cb.GetState())

	clock.Advance(time.Second)
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateHalfOpen, cb.GetState())
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := newTestBreaker(clock)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	clock.Advance(time.Second)

	assert.ErrorIs(t, cb.Execute(ctx, fail), errBackend)
	assert.Equal(t, StateOpen, cb.GetState())
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrOpen)
}

func TestCircuitBreaker_HalfOpenLimit(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := New(Config{
		FailureThreshold:    1,
		SuccessThreshold:    5,
		Timeout:             time.Second,
		MaxRequestsHalfOpen: 2,
		Clock:               clock,
	})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.Advance(time.Second)

	require.NoError(t, cb.Execute(ctx, succeed))
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrOpen)
}

func TestCircuitBreaker_IsFailureFilter(t *testing.T) {
	notFound := errors.New("not found")
	cb := New(Config{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Second,
		IsFailure:        func(err error) bool { return !errors.Is(err, notFound) },
		Clock:            clockwork.NewFakeClock(),
	})

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(context.Background(), func() error { return notFound }), notFound)
	}
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestExecute_Generic(t *testing.T) {
	cb := newTestBreaker(clockwork.NewFakeClock())

	value, err := Execute(context.Background(), cb, func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, value)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Execute(ctx, cb, func() (int, error) { return 1, nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	cb := newTestBreaker(clockwork.NewFakeClock())

	var mu sync.Mutex
	var transitions []string
	cb.OnStateChange(func(from, to State) {
		mu.Lock()
		transitions = append(transitions, from.String()+"->"+to.String())
		mu.Unlock()
	})

	_ = cb.Execute(context.Background(), fail)
	_ = cb.Execute(context.Background(), fail)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(transitions) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"closed->open"}, transitions)
}

func TestCircuitBreaker_StatsAndReset(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := newTestBreaker(clock)

	_ = cb.Execute(context.Background(), fail)
	stats := cb.GetStats()
	assert.Equal(t, 1, stats.FailureCount)
	assert.Equal(t, clock.Now(), stats.LastFailureTime)

	_ = cb.Execute(context.Background(), fail)
	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, 0, cb.GetStats().FailureCount)
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := New(DefaultConfig())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_ = cb.Execute(context.Background(), succeed)
				return
			}
			_ = cb.GetStats()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
