package services

import (
	"context"
	"sync"
	"time"

	"coachroom/internal/core/domain"
	"coachroom/internal/core/ports"
	"coachroom/pkg/tracing"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// DefaultProbeGrace is how long a successful probe keeps its stream.
const DefaultProbeGrace = 5 * time.Second

// SessionControllerConfig wires a controller to its collaborators. Preview,
// Events, Metrics, Clock and Logger are optional.
type SessionControllerConfig struct {
	ID   domain.SessionID
	Flow domain.FlowKind

	// ProbeGrace is how long a probe stream stays live before it is released.
	ProbeGrace time.Duration
	// TickInterval is the cadence of the internal tick goroutine. Zero
	// disables it; Tick can still be called directly.
	TickInterval time.Duration

	Acquirer  ports.MediaAcquirer
	Recorders ports.RecorderFactory
	Preview   ports.PreviewSink
	Events    ports.EventPublisher
	Metrics   ports.Metrics
	Clock     clockwork.Clock
	Logger    *zap.SugaredLogger
}

type nopPreview struct{}

func (nopPreview) Attach(ports.MediaStream) {}
func (nopPreview) Detach(ports.MediaStream) {}

type probeHandle struct {
	stream ports.MediaStream
	timer  clockwork.Timer
}

// SessionController owns the camera and microphone of one UI context. It
// drives the Idle -> Acquiring -> Ready -> Recording -> Stopped machine and
// guarantees every stream it acquires is released exactly once.
type SessionController struct {
	id           domain.SessionID
	flow         domain.FlowKind
	probeGrace   time.Duration
	tickInterval time.Duration

	acquirer  ports.MediaAcquirer
	recorders ports.RecorderFactory
	preview   ports.PreviewSink
	events    ports.EventPublisher
	metrics   ports.Metrics
	clock     clockwork.Clock
	logger    *zap.SugaredLogger

	mu            sync.Mutex
	state         domain.SessionState
	stream        ports.MediaStream
	recorder      ports.Recorder
	startedAt     time.Time
	stoppedAt     time.Time
	running       bool
	elapsed       int
	equipment     domain.EquipmentStatus
	questionIndex int
	lastSummary   domain.SessionSummary
	cadenceStop   chan struct{}
	probe         *probeHandle
	// sessionGen and checkGen let a pending acquisition notice it was
	// abandoned while the lock was released.
	sessionGen uint64
	checkGen   uint64
	disposed   bool
}

// NewSessionController returns an Idle controller. Acquirer and Recorders are
// required.
func NewSessionController(cfg SessionControllerConfig) *SessionController {
	if cfg.ProbeGrace <= 0 {
		cfg.ProbeGrace = DefaultProbeGrace
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NopMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Preview == nil {
		cfg.Preview = nopPreview{}
	}

	c := &SessionController{
		id:           cfg.ID,
		flow:         cfg.Flow,
		probeGrace:   cfg.ProbeGrace,
		tickInterval: cfg.TickInterval,
		acquirer:     cfg.Acquirer,
		recorders:    cfg.Recorders,
		preview:      cfg.Preview,
		events:       cfg.Events,
		metrics:      cfg.Metrics,
		clock:        cfg.Clock,
		logger:       cfg.Logger.With("session_id", cfg.ID, "flow", cfg.Flow),
		state:        domain.StateIdle,
		equipment:    domain.EquipmentStatus{Network: true},
	}
	c.lastSummary = c.summaryLocked()
	return c
}

// ProbeEquipment checks camera and microphone with a short-lived preview
// acquisition. Failure is reported in the returned status, never as an error.
func (c *SessionController) ProbeEquipment(ctx context.Context) domain.EquipmentStatus {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return domain.EquipmentStatus{Network: true}
	}
	gen := c.checkGen
	c.releaseProbeLocked()
	c.mu.Unlock()

	stream, err := c.acquire(ctx, ports.PurposeProbe)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		ports.ReleaseStream(stream)
		mediaErr := domain.AsMediaError(err)
		c.metrics.MediaAcquireFailed(ports.PurposeProbe, mediaErr.Kind)
		c.logger.Infow("equipment probe failed", "kind", mediaErr.Kind, "reason", mediaErr.Reason)
		if !c.disposed {
			c.equipment = domain.EquipmentStatus{Network: true}
			c.publishLocked(domain.Event{Type: domain.EventProbeFailed, Equipment: c.equipmentRef(), Error: mediaErr.Error()})
		}
		return domain.EquipmentStatus{Network: true}
	}

	c.metrics.MediaAcquired(ports.PurposeProbe)
	if c.disposed || gen != c.checkGen {
		ports.ReleaseStream(stream)
		c.metrics.MediaReleased(ports.PurposeProbe)
		return domain.EquipmentStatus{Network: true}
	}

	// a concurrent probe may have landed first
	c.releaseProbeLocked()

	c.equipment = domain.EquipmentStatus{Camera: true, Microphone: true, Network: true}
	c.preview.Attach(stream)
	p := &probeHandle{stream: stream}
	p.timer = c.clock.AfterFunc(c.probeGrace, func() { c.expireProbe(p) })
	c.probe = p

	c.logger.Debugw("equipment probe acquired", "stream_id", stream.ID(), "grace", c.probeGrace)
	c.publishLocked(domain.Event{Type: domain.EventProbeStarted, Equipment: c.equipmentRef()})
	return c.equipment
}

// StartSession acquires a fresh stream and begins recording. Only valid from
// Idle; a second call while a session is in flight fails with ErrAlreadyActive.
func (c *SessionController) StartSession(ctx context.Context) (*domain.RecordingSession, error) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil, domain.ErrDisposed
	}
	switch {
	case c.state.Active():
		c.mu.Unlock()
		return nil, domain.ErrAlreadyActive
	case c.state == domain.StateStopped:
		c.mu.Unlock()
		return nil, domain.ErrInvalidTransition
	}
	c.setStateLocked(domain.StateAcquiring)
	gen := c.sessionGen
	c.mu.Unlock()

	stream, err := c.acquire(ctx, ports.PurposeSession)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed || gen != c.sessionGen {
		ports.ReleaseStream(stream)
		if err == nil {
			c.metrics.MediaAcquired(ports.PurposeSession)
			c.metrics.MediaReleased(ports.PurposeSession)
		}
		c.logger.Infow("media acquisition abandoned", "disposed", c.disposed)
		if c.disposed {
			return nil, domain.ErrDisposed
		}
		return nil, domain.ErrAcquireAbandoned
	}

	if err != nil {
		ports.ReleaseStream(stream)
		mediaErr := domain.AsMediaError(err)
		c.metrics.MediaAcquireFailed(ports.PurposeSession, mediaErr.Kind)
		c.logger.Infow("session start failed", "kind", mediaErr.Kind, "reason", mediaErr.Reason)
		c.setStateLocked(domain.StateIdle)
		return nil, mediaErr
	}

	c.metrics.MediaAcquired(ports.PurposeSession)
	c.stream = stream
	c.preview.Attach(stream)
	c.setStateLocked(domain.StateReady)

	recorder, err := c.recorders.NewRecorder(stream)
	if err == nil {
		err = recorder.Start()
	}
	if err != nil {
		c.releaseStreamLocked()
		c.setStateLocked(domain.StateIdle)
		c.logger.Warnw("recorder failed to start", "error", err)
		return nil, &domain.MediaError{Kind: domain.MediaUnknown, Reason: "recorder failed to start", Err: err}
	}
	c.recorder = recorder

	c.startedAt = c.clock.Now()
	c.stoppedAt = time.Time{}
	c.elapsed = 0
	c.running = true
	c.setStateLocked(domain.StateRecording)
	c.startCadenceLocked()
	c.metrics.RecordingStarted(c.flow)

	c.logger.Infow("session recording", "stream_id", stream.ID())
	return c.recordingLocked(), nil
}

// Tick recomputes the elapsed seconds from the wall clock while recording.
// Outside Recording it returns the last value unchanged.
func (c *SessionController) Tick() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != domain.StateRecording || !c.running {
		return c.elapsed
	}
	c.advanceClockLocked(c.clock.Now())
	elapsed := c.elapsed
	c.publishLocked(domain.Event{Type: domain.EventTick, Elapsed: &elapsed})
	return c.elapsed
}

// StopSession ends the recording and releases the stream. Calling it when
// nothing is recording returns the last summary without side effects.
func (c *SessionController) StopSession() domain.SessionSummary {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case domain.StateRecording, domain.StateReady:
		now := c.clock.Now()
		if c.running {
			c.advanceClockLocked(now)
		}
		c.running = false
		c.stoppedAt = now
		c.teardownLocked()
		c.lastSummary = c.summaryLocked()
		c.setStateLocked(domain.StateStopped)
		c.metrics.RecordingEnded(c.flow, now.Sub(c.startedAt))

		summary := c.lastSummary
		c.publishLocked(domain.Event{Type: domain.EventSessionSummary, Summary: &summary})
		c.logger.Infow("session stopped", "duration_seconds", summary.DurationSeconds)
	case domain.StateAcquiring:
		// the pending acquisition sees the new generation and releases its
		// stream; an equipment check in flight is not affected
		c.sessionGen++
		c.setStateLocked(domain.StateIdle)
	}
	return c.lastSummary
}

// Reset returns a stopped or idle controller to Idle with a fresh clock.
func (c *SessionController) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return domain.ErrDisposed
	}
	if c.state != domain.StateStopped && c.state != domain.StateIdle {
		return domain.ErrInvalidTransition
	}
	c.elapsed = 0
	c.startedAt = time.Time{}
	c.stoppedAt = time.Time{}
	c.running = false
	c.setStateLocked(domain.StateIdle)
	return nil
}

// Dispose releases everything the controller holds. It is safe to call on
// every exit path and more than once.
func (c *SessionController) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return
	}
	c.disposed = true
	c.sessionGen++
	c.checkGen++

	c.releaseProbeLocked()
	if c.state == domain.StateRecording || c.state == domain.StateReady {
		now := c.clock.Now()
		if c.running {
			c.advanceClockLocked(now)
		}
		c.metrics.RecordingEnded(c.flow, now.Sub(c.startedAt))
	}
	c.running = false
	c.teardownLocked()
	c.setStateLocked(domain.StateIdle)
	c.publishLocked(domain.Event{Type: domain.EventSessionClosed})
	c.logger.Debug("session controller disposed")
}

// SetQuestionIndex records the caller's question context for summaries.
func (c *SessionController) SetQuestionIndex(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.questionIndex = index
}

// QuestionIndex returns the question context set by SetQuestionIndex.
func (c *SessionController) QuestionIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.questionIndex
}

// State returns the current state of the machine.
func (c *SessionController) State() domain.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Equipment returns the result of the last equipment check. Camera and
// microphone stay ready after its stream is released.
func (c *SessionController) Equipment() domain.EquipmentStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.equipment
}

// Recording returns the state, stream id and clock of the current session.
func (c *SessionController) Recording() domain.RecordingSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.recordingLocked()
}

// LastSummary returns the summary of the most recent stop, or a zero-duration
// summary when nothing was recorded yet.
func (c *SessionController) LastSummary() domain.SessionSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSummary
}

func (c *SessionController) acquire(ctx context.Context, purpose string) (ports.MediaStream, error) {
	ctx, span := tracing.TraceMedia(ctx, "acquire", string(c.id))
	defer span.End()
	span.SetAttributes(attribute.String("media.purpose", purpose))

	stream, err := c.acquirer.Acquire(ctx, domain.MediaConstraints{Video: true, Audio: true})
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	return stream, err
}

func (c *SessionController) expireProbe(p *probeHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.probe != p {
		return
	}
	c.releaseProbeLocked()
	c.publishLocked(domain.Event{Type: domain.EventProbeReleased, Equipment: c.equipmentRef()})
	c.logger.Debug("probe stream released after grace window")
}

func (c *SessionController) releaseProbeLocked() {
	if c.probe == nil {
		return
	}
	p := c.probe
	c.probe = nil
	p.timer.Stop()
	c.preview.Detach(p.stream)
	ports.ReleaseStream(p.stream)
	c.metrics.MediaReleased(ports.PurposeProbe)
}

// teardownLocked stops the recorder, the cadence and the session stream.
func (c *SessionController) teardownLocked() {
	c.stopCadenceLocked()
	if c.recorder != nil {
		if err := c.recorder.Stop(); err != nil {
			c.logger.Warnw("recorder stop failed", "error", err)
		}
		c.recorder = nil
	}
	c.releaseStreamLocked()
}

func (c *SessionController) releaseStreamLocked() {
	if c.stream == nil {
		return
	}
	stream := c.stream
	c.stream = nil
	c.preview.Detach(stream)
	ports.ReleaseStream(stream)
	c.metrics.MediaReleased(ports.PurposeSession)
}

func (c *SessionController) startCadenceLocked() {
	if c.tickInterval <= 0 {
		return
	}
	stop := make(chan struct{})
	c.cadenceStop = stop
	ticker := c.clock.NewTicker(c.tickInterval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.Chan():
				select {
				case <-stop:
					return
				default:
				}
				c.Tick()
			}
		}
	}()
}

func (c *SessionController) stopCadenceLocked() {
	if c.cadenceStop == nil {
		return
	}
	close(c.cadenceStop)
	c.cadenceStop = nil
}

// advanceClockLocked never moves the elapsed counter backwards.
func (c *SessionController) advanceClockLocked(now time.Time) {
	delta := now.Sub(c.startedAt)
	if delta < 0 {
		return
	}
	if secs := int(delta / time.Second); secs > c.elapsed {
		c.elapsed = secs
	}
}

func (c *SessionController) setStateLocked(state domain.SessionState) {
	if c.state == state {
		return
	}
	c.state = state
	c.publishLocked(domain.Event{Type: domain.EventStateChanged, State: state})
}

func (c *SessionController) publishLocked(event domain.Event) {
	if c.events == nil {
		return
	}
	event.Topic = string(c.id)
	if event.State == "" {
		event.State = c.state
	}
	event.Timestamp = c.clock.Now()
	c.events.Publish(event)
}

func (c *SessionController) equipmentRef() *domain.EquipmentStatus {
	status := c.equipment
	return &status
}

func (c *SessionController) summaryLocked() domain.SessionSummary {
	summary := domain.SessionSummary{
		SessionID:       c.id,
		Flow:            c.flow,
		DurationSeconds: c.elapsed,
		QuestionIndex:   c.questionIndex,
	}
	if !c.startedAt.IsZero() {
		started := c.startedAt
		summary.StartedAt = &started
	}
	if !c.stoppedAt.IsZero() {
		stopped := c.stoppedAt
		summary.StoppedAt = &stopped
	}
	return summary
}

func (c *SessionController) recordingLocked() *domain.RecordingSession {
	rec := &domain.RecordingSession{
		State: c.state,
		Clock: domain.SessionClock{ElapsedSeconds: c.elapsed},
	}
	if c.stream != nil {
		rec.StreamID = c.stream.ID()
	}
	if !c.startedAt.IsZero() {
		started := c.startedAt
		rec.Clock.StartedAt = &started
	}
	return rec
}
