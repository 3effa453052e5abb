package media

import (
	"sync"

	"coachroom/internal/core/domain"
	"coachroom/internal/core/ports"

	"go.uber.org/zap"
)

// PreviewSlot is the live preview of one UI context. It holds at most one
// stream.
type PreviewSlot struct {
	sessionID domain.SessionID
	logger    *zap.SugaredLogger

	mu      sync.Mutex
	current ports.MediaStream
}

func NewPreviewSlot(sessionID domain.SessionID, logger *zap.SugaredLogger) *PreviewSlot {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &PreviewSlot{sessionID: sessionID, logger: logger}
}

var _ ports.PreviewSink = (*PreviewSlot)(nil)

func (p *PreviewSlot) Attach(stream ports.MediaStream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = stream
	p.logger.Debugw("preview attached", "session_id", p.sessionID, "stream_id", stream.ID())
}

// Detach clears the slot only if stream is the one shown.
func (p *PreviewSlot) Detach(stream ports.MediaStream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil || stream == nil || p.current.ID() != stream.ID() {
		return
	}
	p.current = nil
	p.logger.Debugw("preview detached", "session_id", p.sessionID, "stream_id", stream.ID())
}

// StreamID returns the id of the attached stream, or "".
func (p *PreviewSlot) StreamID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return ""
	}
	return p.current.ID()
}
