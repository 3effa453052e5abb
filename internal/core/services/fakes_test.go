package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"coachroom/internal/core/domain"
	"coachroom/internal/core/ports"
)

type fakeTrack struct {
	id    string
	kind  domain.TrackKind
	stops atomic.Int32
}

func (t *fakeTrack) ID() string             { return t.id }
func (t *fakeTrack) Kind() domain.TrackKind { return t.kind }
func (t *fakeTrack) Stop()                  { t.stops.Add(1) }

type fakeStream struct {
	id     string
	tracks []ports.MediaTrack
}

func (s *fakeStream) ID() string                 { return s.id }
func (s *fakeStream) Tracks() []ports.MediaTrack { return s.tracks }

// fakeAcquirer grants fake tracks and remembers every one of them so tests
// can check that each was stopped exactly once.
type fakeAcquirer struct {
	mu        sync.Mutex
	calls     int
	err       error
	denyAudio bool
	// entered and gate, when set, let a test hold an acquisition in flight.
	entered chan struct{}
	gate    chan struct{}
	streams []*fakeStream
	tracks  []*fakeTrack
}

func (a *fakeAcquirer) Acquire(ctx context.Context, constraints domain.MediaConstraints) (ports.MediaStream, error) {
	a.mu.Lock()
	a.calls++
	n := a.calls
	entered, gate := a.entered, a.gate
	a.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.err != nil {
		return nil, a.err
	}
	stream := &fakeStream{id: fmt.Sprintf("stream-%d", n)}
	a.streams = append(a.streams, stream)
	stream.tracks = append(stream.tracks, a.trackLocked(stream, domain.TrackVideo))
	if a.denyAudio {
		return stream, domain.NewMediaError(domain.MediaPermissionDenied, "microphone denied")
	}
	stream.tracks = append(stream.tracks, a.trackLocked(stream, domain.TrackAudio))
	return stream, nil
}

func (a *fakeAcquirer) trackLocked(stream *fakeStream, kind domain.TrackKind) *fakeTrack {
	track := &fakeTrack{id: stream.id + "-" + string(kind), kind: kind}
	a.tracks = append(a.tracks, track)
	return track
}

func (a *fakeAcquirer) set(fn func(a *fakeAcquirer)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(a)
}

func (a *fakeAcquirer) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// Live returns the tracks not stopped yet.
func (a *fakeAcquirer) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, t := range a.tracks {
		if t.stops.Load() == 0 {
			n++
		}
	}
	return n
}

// DoubleStops returns how many tracks were stopped more than once.
func (a *fakeAcquirer) DoubleStops() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, t := range a.tracks {
		if t.stops.Load() > 1 {
			n++
		}
	}
	return n
}

func (a *fakeAcquirer) Granted() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.tracks)
}

// StreamLive reports whether any track of the n-th acquired stream (from 1)
// is still running.
func (a *fakeAcquirer) StreamLive(n int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, track := range a.streams[n-1].tracks {
		if track.(*fakeTrack).stops.Load() == 0 {
			return true
		}
	}
	return false
}

var errRecorderBroken = errors.New("recorder broken")

type fakeRecorder struct {
	factory *fakeRecorders
}

func (r *fakeRecorder) Start() error {
	r.factory.started.Add(1)
	return nil
}

func (r *fakeRecorder) Stop() error {
	r.factory.stopped.Add(1)
	return nil
}

type fakeRecorders struct {
	fail    atomic.Bool
	started atomic.Int32
	stopped atomic.Int32
}

func (f *fakeRecorders) NewRecorder(stream ports.MediaStream) (ports.Recorder, error) {
	if f.fail.Load() {
		return nil, errRecorderBroken
	}
	return &fakeRecorder{factory: f}, nil
}

type fakePreview struct {
	mu       sync.Mutex
	attached ports.MediaStream
	attaches int
}

func (p *fakePreview) Attach(stream ports.MediaStream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attached = stream
	p.attaches++
}

func (p *fakePreview) Detach(stream ports.MediaStream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.attached == stream {
		p.attached = nil
	}
}

func (p *fakePreview) Current() ports.MediaStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attached
}

type eventLog struct {
	mu     sync.Mutex
	events []domain.Event
}

func (l *eventLog) Publish(event domain.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) Types() []domain.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	types := make([]domain.EventType, 0, len(l.events))
	for _, e := range l.events {
		types = append(types, e.Type)
	}
	return types
}

// States returns the states announced by state_changed events in order.
func (l *eventLog) States() []domain.SessionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	var states []domain.SessionState
	for _, e := range l.events {
		if e.Type == domain.EventStateChanged {
			states = append(states, e.State)
		}
	}
	return states
}

func (l *eventLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}

type fakeIdentityStore struct {
	mu       sync.Mutex
	sessions map[string]domain.IdentitySession
}

func newFakeIdentityStore() *fakeIdentityStore {
	return &fakeIdentityStore{sessions: make(map[string]domain.IdentitySession)}
}

func (s *fakeIdentityStore) Load(ctx context.Context, sessionID string) (*domain.IdentitySession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, domain.ErrIdentityNotFound
	}
	return &session, nil
}

func (s *fakeIdentityStore) Save(ctx context.Context, session *domain.IdentitySession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = *session
	return nil
}

func (s *fakeIdentityStore) Clear(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return domain.ErrIdentityNotFound
	}
	delete(s.sessions, sessionID)
	return nil
}

func (s *fakeIdentityStore) ClearUser(ctx context.Context, userID domain.UserID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, session := range s.sessions {
		if session.Identity.ID == userID {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}
