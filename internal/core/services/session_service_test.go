package services

import (
	"context"
	"testing"
	"time"

	"coachroom/internal/core/domain"
	"coachroom/internal/core/ports"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type serviceFixture struct {
	svc      *SessionService
	acquirer *fakeAcquirer
	events   *eventLog
	clock    clockwork.FakeClock
	previews map[domain.SessionID]*fakePreview
}

func newServiceFixture(t *testing.T, cfg SessionServiceConfig) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		acquirer: &fakeAcquirer{},
		events:   &eventLog{},
		clock:    clockwork.NewFakeClock(),
		previews: make(map[domain.SessionID]*fakePreview),
	}
	newPreview := func(id domain.SessionID) ports.PreviewSink {
		p := &fakePreview{}
		f.previews[id] = p
		return p
	}
	f.svc = NewSessionService(cfg, f.acquirer, &fakeRecorders{}, newPreview, f.events, nil, f.clock, zaptest.NewLogger(t).Sugar())
	t.Cleanup(f.svc.CloseAll)
	return f
}

func testServiceConfig() SessionServiceConfig {
	return SessionServiceConfig{
		ProbeGrace:  5 * time.Second,
		IdleTTL:     30 * time.Minute,
		MaxPerOwner: 2,
	}
}

func TestSessionService_Open(t *testing.T) {
	f := newServiceFixture(t, testServiceConfig())
	ctx := context.Background()

	snap, err := f.svc.Open(ctx, "u1", domain.FlowPractice)
	require.NoError(t, err)
	assert.Equal(t, domain.StateIdle, snap.State)
	assert.Equal(t, domain.UserID("u1"), snap.Owner)
	assert.Equal(t, 0, snap.QuestionIndex)
	assert.Equal(t, 5, snap.QuestionCount)
	assert.Equal(t, domain.QuestionsFor(domain.FlowPractice)[0], snap.Question)
	assert.Contains(t, f.previews, snap.ID)

	lobby, err := f.svc.Open(ctx, "u1", domain.FlowLobby)
	require.NoError(t, err)
	assert.Empty(t, lobby.Question)
	assert.Equal(t, 0, lobby.QuestionCount)

	_, err = f.svc.Open(ctx, "u1", "kitchen")
	assert.ErrorIs(t, err, domain.ErrInvalidFlow)
}

func TestSessionService_OpenReturnsWhileOthersUseTheService(t *testing.T) {
	f := newServiceFixture(t, testServiceConfig())
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		for i := 0; i < 2; i++ {
			snap, err := f.svc.Open(ctx, "u1", domain.FlowPractice)
			if err != nil {
				done <- err
				return
			}
			if _, err := f.svc.Get(ctx, "u1", snap.ID); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Open did not return")
	}
	assert.Equal(t, 2, f.svc.Count())
}

func TestSessionService_OwnerLimit(t *testing.T) {
	f := newServiceFixture(t, testServiceConfig())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.svc.Open(ctx, "u1", domain.FlowRoom)
		require.NoError(t, err)
	}
	_, err := f.svc.Open(ctx, "u1", domain.FlowRoom)
	assert.ErrorIs(t, err, domain.ErrSessionLimit)

	_, err = f.svc.Open(ctx, "u2", domain.FlowRoom)
	assert.NoError(t, err)
	assert.Equal(t, 3, f.svc.Count())
}

func TestSessionService_Ownership(t *testing.T) {
	f := newServiceFixture(t, testServiceConfig())
	ctx := context.Background()

	snap, err := f.svc.Open(ctx, "u1", domain.FlowRoom)
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, "u2", snap.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = f.svc.Start(ctx, "u2", snap.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.ErrorIs(t, f.svc.Close(ctx, "u2", snap.ID), domain.ErrSessionNotFound)
	_, err = f.svc.Get(ctx, "u1", "missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	assert.Equal(t, 0, f.acquirer.Calls())
}

func TestSessionService_RecordingLifecycle(t *testing.T) {
	f := newServiceFixture(t, testServiceConfig())
	ctx := context.Background()

	snap, err := f.svc.Open(ctx, "u1", domain.FlowRoom)
	require.NoError(t, err)

	status, err := f.svc.Probe(ctx, "u1", snap.ID)
	require.NoError(t, err)
	assert.True(t, status.Ready())

	rec, err := f.svc.Start(ctx, "u1", snap.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateRecording, rec.State)

	f.clock.Advance(65 * time.Second)
	elapsed, err := f.svc.Tick(ctx, "u1", snap.ID)
	require.NoError(t, err)
	assert.Equal(t, 65, elapsed)

	summary, err := f.svc.Stop(ctx, "u1", snap.ID)
	require.NoError(t, err)
	assert.Equal(t, 65, summary.DurationSeconds)

	got, err := f.svc.Get(ctx, "u1", snap.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateStopped, got.State)
	require.NotNil(t, got.LastSummary)
	assert.Len(t, got.Summaries, 1)

	require.NoError(t, f.svc.Reset(ctx, "u1", snap.ID))
	require.NoError(t, f.svc.Close(ctx, "u1", snap.ID))
	assert.Equal(t, 0, f.acquirer.Live())
	_, err = f.svc.Get(ctx, "u1", snap.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSessionService_NextQuestion(t *testing.T) {
	f := newServiceFixture(t, testServiceConfig())
	ctx := context.Background()

	snap, err := f.svc.Open(ctx, "u1", domain.FlowPractice)
	require.NoError(t, err)

	_, err = f.svc.Start(ctx, "u1", snap.ID)
	require.NoError(t, err)
	f.clock.Advance(12 * time.Second)

	next, err := f.svc.NextQuestion(ctx, "u1", snap.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, next.QuestionIndex)
	assert.Equal(t, domain.QuestionsFor(domain.FlowPractice)[1], next.Question)
	assert.Equal(t, domain.StateIdle, next.State)
	assert.Equal(t, 0, next.Clock.ElapsedSeconds)
	require.Len(t, next.Summaries, 1)
	assert.Equal(t, 12, next.Summaries[0].DurationSeconds)
	assert.Equal(t, 0, next.Summaries[0].QuestionIndex)
	assert.Equal(t, 0, f.acquirer.Live())

	// skipping without recording adds no summary and wraps at the end
	for i := 0; i < 4; i++ {
		next, err = f.svc.NextQuestion(ctx, "u1", snap.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, 0, next.QuestionIndex)
	assert.Len(t, next.Summaries, 1)

	room, err := f.svc.Open(ctx, "u1", domain.FlowRoom)
	require.NoError(t, err)
	_, err = f.svc.NextQuestion(ctx, "u1", room.ID)
	assert.ErrorIs(t, err, domain.ErrNotPracticeFlow)
}

func TestSessionService_SweepIdle(t *testing.T) {
	f := newServiceFixture(t, testServiceConfig())
	ctx := context.Background()

	stale, err := f.svc.Open(ctx, "u1", domain.FlowLobby)
	require.NoError(t, err)

	f.clock.Advance(20 * time.Minute)
	fresh, err := f.svc.Open(ctx, "u1", domain.FlowLobby)
	require.NoError(t, err)

	f.clock.Advance(11 * time.Minute)
	assert.Equal(t, 1, f.svc.Sweep())
	assert.Equal(t, 1, f.svc.Count())

	_, err = f.svc.Get(ctx, "u1", stale.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = f.svc.Get(ctx, "u1", fresh.ID)
	assert.NoError(t, err)
	assert.Contains(t, f.events.Types(), domain.EventSessionClosed)
}

func TestSessionService_SweepKeepsRecordingContexts(t *testing.T) {
	f := newServiceFixture(t, testServiceConfig())
	ctx := context.Background()

	room, err := f.svc.Open(ctx, "u1", domain.FlowRoom)
	require.NoError(t, err)
	_, err = f.svc.Start(ctx, "u1", room.ID)
	require.NoError(t, err)

	// a long answer with no HTTP traffic
	f.clock.Advance(45 * time.Minute)
	assert.Equal(t, 0, f.svc.Sweep())
	assert.Equal(t, 1, f.svc.Count())
	assert.Equal(t, 2, f.acquirer.Live())

	_, err = f.svc.Stop(ctx, "u1", room.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, f.acquirer.Live())

	// idle time counts from the stop
	f.clock.Advance(29 * time.Minute)
	assert.Equal(t, 0, f.svc.Sweep())
	f.clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, f.svc.Sweep())
	assert.Equal(t, 0, f.svc.Count())
}

func TestSessionService_SweepDisabled(t *testing.T) {
	cfg := testServiceConfig()
	cfg.IdleTTL = 0
	f := newServiceFixture(t, cfg)

	_, err := f.svc.Open(context.Background(), "u1", domain.FlowRoom)
	require.NoError(t, err)
	f.clock.Advance(24 * time.Hour)
	assert.Equal(t, 0, f.svc.Sweep())
}

func TestSessionService_RunJanitor(t *testing.T) {
	f := newServiceFixture(t, testServiceConfig())

	_, err := f.svc.Open(context.Background(), "u1", domain.FlowRoom)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.svc.RunJanitor(ctx, time.Minute) }()

	f.clock.BlockUntil(1)
	f.clock.Advance(31 * time.Minute)
	require.Eventually(t, func() bool { return f.svc.Count() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestSessionService_CloseAll(t *testing.T) {
	f := newServiceFixture(t, testServiceConfig())
	ctx := context.Background()

	for _, owner := range []domain.UserID{"u1", "u2"} {
		snap, err := f.svc.Open(ctx, owner, domain.FlowRoom)
		require.NoError(t, err)
		_, err = f.svc.Start(ctx, owner, snap.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, 4, f.acquirer.Live())

	f.svc.CloseAll()
	assert.Equal(t, 0, f.svc.Count())
	assert.Equal(t, 0, f.acquirer.Live())
}
