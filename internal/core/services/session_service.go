package services

import (
	"context"
	"sync"
	"time"

	"coachroom/internal/core/domain"
	"coachroom/internal/core/ports"
	"coachroom/pkg/tracing"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type SessionServiceConfig struct {
	ProbeGrace   time.Duration
	TickInterval time.Duration
	// IdleTTL disposes contexts nobody touched for this long. Zero keeps them
	// until closed.
	IdleTTL time.Duration
	// MaxPerOwner caps open contexts per user. Zero means unlimited.
	MaxPerOwner int
}

// PreviewFactory creates the preview sink of a new UI context.
type PreviewFactory func(id domain.SessionID) ports.PreviewSink

type sessionEntry struct {
	id         domain.SessionID
	owner      domain.UserID
	flow       domain.FlowKind
	openedAt   time.Time
	lastSeen   time.Time
	controller *SessionController
	summaries  []domain.SessionSummary
}

// SessionService keeps one SessionController per open UI context (lobby,
// interview room or practice question loop).
type SessionService struct {
	cfg        SessionServiceConfig
	acquirer   ports.MediaAcquirer
	recorders  ports.RecorderFactory
	newPreview PreviewFactory
	events     ports.EventPublisher
	metrics    ports.Metrics
	clock      clockwork.Clock
	logger     *zap.SugaredLogger

	mu       sync.Mutex
	sessions map[domain.SessionID]*sessionEntry
}

func NewSessionService(
	cfg SessionServiceConfig,
	acquirer ports.MediaAcquirer,
	recorders ports.RecorderFactory,
	newPreview PreviewFactory,
	events ports.EventPublisher,
	metrics ports.Metrics,
	clock clockwork.Clock,
	logger *zap.SugaredLogger,
) *SessionService {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SessionService{
		cfg:        cfg,
		acquirer:   acquirer,
		recorders:  recorders,
		newPreview: newPreview,
		events:     events,
		metrics:    metrics,
		clock:      clock,
		logger:     logger,
		sessions:   make(map[domain.SessionID]*sessionEntry),
	}
}

var _ ports.SessionService = (*SessionService)(nil)

// Open creates a session context for owner.
func (s *SessionService) Open(ctx context.Context, owner domain.UserID, flow domain.FlowKind) (*domain.SessionSnapshot, error) {
	ctx, span := tracing.TraceSession(ctx, "open", "")
	defer span.End()

	if !flow.Valid() {
		return nil, domain.ErrInvalidFlow
	}

	s.mu.Lock()
	if s.cfg.MaxPerOwner > 0 && s.countOwnerLocked(owner) >= s.cfg.MaxPerOwner {
		s.mu.Unlock()
		return nil, domain.ErrSessionLimit
	}

	id := domain.SessionID(uuid.New().String())
	now := s.clock.Now()
	var preview ports.PreviewSink
	if s.newPreview != nil {
		preview = s.newPreview(id)
	}
	entry := &sessionEntry{
		id:       id,
		owner:    owner,
		flow:     flow,
		openedAt: now,
		lastSeen: now,
		controller: NewSessionController(SessionControllerConfig{
			ID:           id,
			Flow:         flow,
			ProbeGrace:   s.cfg.ProbeGrace,
			TickInterval: s.cfg.TickInterval,
			Acquirer:     s.acquirer,
			Recorders:    s.recorders,
			Preview:      preview,
			Events:       s.events,
			Metrics:      s.metrics,
			Clock:        s.clock,
			Logger:       s.logger,
		}),
	}
	s.sessions[id] = entry
	open := len(s.sessions)
	s.mu.Unlock()

	s.metrics.SessionContexts(open)
	tracing.AddSpanAttributes(ctx, attribute.String("session.id", string(id)))

	s.logger.Infow("session context opened", "session_id", id, "owner", owner, "flow", flow)
	// snapshot takes s.mu itself, so it runs after the unlock above
	return s.snapshot(entry), nil
}

// Get returns a snapshot of the context.
func (s *SessionService) Get(ctx context.Context, owner domain.UserID, id domain.SessionID) (*domain.SessionSnapshot, error) {
	entry, err := s.lookup(owner, id)
	if err != nil {
		return nil, err
	}
	return s.snapshot(entry), nil
}

func (s *SessionService) Probe(ctx context.Context, owner domain.UserID, id domain.SessionID) (domain.EquipmentStatus, error) {
	entry, err := s.lookup(owner, id)
	if err != nil {
		return domain.EquipmentStatus{}, err
	}
	return entry.controller.ProbeEquipment(ctx), nil
}

// Start begins recording.
func (s *SessionService) Start(ctx context.Context, owner domain.UserID, id domain.SessionID) (*domain.RecordingSession, error) {
	entry, err := s.lookup(owner, id)
	if err != nil {
		return nil, err
	}
	return entry.controller.StartSession(ctx)
}

// Tick returns the elapsed recording seconds.
func (s *SessionService) Tick(ctx context.Context, owner domain.UserID, id domain.SessionID) (int, error) {
	entry, err := s.lookup(owner, id)
	if err != nil {
		return 0, err
	}
	return entry.controller.Tick(), nil
}

// Stop ends the recording and returns its summary.
func (s *SessionService) Stop(ctx context.Context, owner domain.UserID, id domain.SessionID) (*domain.SessionSummary, error) {
	entry, err := s.lookup(owner, id)
	if err != nil {
		return nil, err
	}
	summary := s.stopAndRecord(entry)
	return &summary, nil
}

// Reset returns a stopped context to Idle.
func (s *SessionService) Reset(ctx context.Context, owner domain.UserID, id domain.SessionID) error {
	entry, err := s.lookup(owner, id)
	if err != nil {
		return err
	}
	return entry.controller.Reset()
}

// NextQuestion ends the current attempt of a practice context and moves to
// the next question of its bank, wrapping around at the end.
func (s *SessionService) NextQuestion(ctx context.Context, owner domain.UserID, id domain.SessionID) (*domain.SessionSnapshot, error) {
	entry, err := s.lookup(owner, id)
	if err != nil {
		return nil, err
	}
	if entry.flow != domain.FlowPractice {
		return nil, domain.ErrNotPracticeFlow
	}

	s.stopAndRecord(entry)
	if err := entry.controller.Reset(); err != nil {
		return nil, err
	}
	questions := domain.QuestionsFor(entry.flow)
	next := (entry.controller.QuestionIndex() + 1) % len(questions)
	entry.controller.SetQuestionIndex(next)

	return s.snapshot(entry), nil
}

// Close tears the context down when the UI navigates away.
func (s *SessionService) Close(ctx context.Context, owner domain.UserID, id domain.SessionID) error {
	_, span := tracing.TraceSession(ctx, "close", string(id))
	defer span.End()

	s.mu.Lock()
	entry, ok := s.sessions[id]
	if !ok || entry.owner != owner {
		s.mu.Unlock()
		return domain.ErrSessionNotFound
	}
	delete(s.sessions, id)
	open := len(s.sessions)
	s.mu.Unlock()

	entry.controller.Dispose()
	s.metrics.SessionContexts(open)
	s.logger.Infow("session context closed", "session_id", id)
	return nil
}

// Sweep disposes contexts idle for longer than IdleTTL and returns how many
// were removed. A context that is acquiring or recording is never idle, and
// its idle window restarts from the last sweep that saw it active.
func (s *SessionService) Sweep() int {
	if s.cfg.IdleTTL <= 0 {
		return 0
	}
	now := s.clock.Now()

	s.mu.Lock()
	var stale []*sessionEntry
	for id, entry := range s.sessions {
		if entry.controller.State().Active() {
			entry.lastSeen = now
			continue
		}
		if now.Sub(entry.lastSeen) > s.cfg.IdleTTL {
			stale = append(stale, entry)
			delete(s.sessions, id)
		}
	}
	open := len(s.sessions)
	s.mu.Unlock()

	for _, entry := range stale {
		entry.controller.Dispose()
		s.logger.Infow("idle session context disposed", "session_id", entry.id, "owner", entry.owner)
	}
	if len(stale) > 0 {
		s.metrics.SessionContexts(open)
	}
	return len(stale)
}

// RunJanitor sweeps idle contexts every interval until ctx is cancelled.
func (s *SessionService) RunJanitor(ctx context.Context, interval time.Duration) error {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			s.Sweep()
		}
	}
}

// CloseAll disposes every open context.
func (s *SessionService) CloseAll() {
	s.mu.Lock()
	entries := make([]*sessionEntry, 0, len(s.sessions))
	for _, entry := range s.sessions {
		entries = append(entries, entry)
	}
	s.sessions = make(map[domain.SessionID]*sessionEntry)
	s.mu.Unlock()

	for _, entry := range entries {
		entry.controller.Dispose()
	}
	s.metrics.SessionContexts(0)
	s.logger.Infow("all session contexts closed", "count", len(entries))
}

// Count returns the number of open contexts.
func (s *SessionService) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *SessionService) lookup(owner domain.UserID, id domain.SessionID) (*sessionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[id]
	if !ok || entry.owner != owner {
		return nil, domain.ErrSessionNotFound
	}
	entry.lastSeen = s.clock.Now()
	return entry, nil
}

func (s *SessionService) stopAndRecord(entry *sessionEntry) domain.SessionSummary {
	wasRecording := entry.controller.State() == domain.StateRecording
	summary := entry.controller.StopSession()
	if wasRecording && summary.StoppedAt != nil {
		s.mu.Lock()
		entry.summaries = append(entry.summaries, summary)
		s.mu.Unlock()
	}
	return summary
}

func (s *SessionService) countOwnerLocked(owner domain.UserID) int {
	n := 0
	for _, entry := range s.sessions {
		if entry.owner == owner {
			n++
		}
	}
	return n
}

func (s *SessionService) snapshot(entry *sessionEntry) *domain.SessionSnapshot {
	ctrl := entry.controller
	rec := ctrl.Recording()
	questions := domain.QuestionsFor(entry.flow)
	index := ctrl.QuestionIndex()

	snap := &domain.SessionSnapshot{
		ID:            entry.id,
		Owner:         entry.owner,
		Flow:          entry.flow,
		State:         rec.State,
		Equipment:     ctrl.Equipment(),
		Clock:         rec.Clock,
		QuestionIndex: index,
		QuestionCount: len(questions),
		OpenedAt:      entry.openedAt,
	}
	if index < len(questions) {
		snap.Question = questions[index]
	}
	if last := ctrl.LastSummary(); last.StoppedAt != nil {
		snap.LastSummary = &last
	}

	s.mu.Lock()
	snap.Summaries = append([]domain.SessionSummary(nil), entry.summaries...)
	s.mu.Unlock()
	return snap
}
