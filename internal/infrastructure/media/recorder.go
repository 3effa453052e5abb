package media

import (
	"errors"
	"sync"
	"time"

	"coachroom/internal/core/ports"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

var (
	ErrRecorderStarted    = errors.New("recorder already started")
	ErrRecorderNotStarted = errors.New("recorder not started")
)

// Recording describes one finished take.
type Recording struct {
	StreamID  string
	Tracks    int
	StartedAt time.Time
	StoppedAt time.Time
}

func (r Recording) Duration() time.Duration {
	return r.StoppedAt.Sub(r.StartedAt)
}

// RecorderFactory hands out recorders that only mark start and stop; no media
// is encoded. Finished takes are kept for inspection.
type RecorderFactory struct {
	clock  clockwork.Clock
	logger *zap.SugaredLogger

	mu         sync.Mutex
	recordings []Recording
	failNext   error
}

func NewRecorderFactory(clock clockwork.Clock, logger *zap.SugaredLogger) *RecorderFactory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RecorderFactory{clock: clock, logger: logger}
}

var _ ports.RecorderFactory = (*RecorderFactory)(nil)

func (f *RecorderFactory) NewRecorder(stream ports.MediaStream) (ports.Recorder, error) {
	f.mu.Lock()
	err := f.failNext
	f.failNext = nil
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &stubRecorder{factory: f, streamID: stream.ID(), tracks: len(stream.Tracks())}, nil
}

// FailNext makes the next NewRecorder call return err.
func (f *RecorderFactory) FailNext(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = err
}

func (f *RecorderFactory) Recordings() []Recording {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Recording(nil), f.recordings...)
}

func (f *RecorderFactory) finished(r Recording) {
	f.mu.Lock()
	f.recordings = append(f.recordings, r)
	f.mu.Unlock()
	f.logger.Debugw("recording finished", "stream_id", r.StreamID, "duration", r.Duration())
}

type stubRecorder struct {
	factory  *RecorderFactory
	streamID string
	tracks   int

	mu        sync.Mutex
	startedAt time.Time
	stopped   bool
}

func (r *stubRecorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.startedAt.IsZero() {
		return ErrRecorderStarted
	}
	r.startedAt = r.factory.clock.Now()
	return nil
}

func (r *stubRecorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.startedAt.IsZero() {
		return ErrRecorderNotStarted
	}
	if r.stopped {
		return nil
	}
	r.stopped = true
	r.factory.finished(Recording{
		StreamID:  r.streamID,
		Tracks:    r.tracks,
		StartedAt: r.startedAt,
		StoppedAt: r.factory.clock.Now(),
	})
	return nil
}
