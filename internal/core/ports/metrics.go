package ports

import (
	"time"

	"coachroom/internal/core/domain"
)

// Media acquisition purposes reported to Metrics.
const (
	PurposeProbe   = "probe"
	PurposeSession = "session"
)

type Metrics interface {
	MediaAcquired(purpose string)
	MediaAcquireFailed(purpose string, kind domain.MediaErrorKind)
	MediaReleased(purpose string)
	RecordingStarted(flow domain.FlowKind)
	RecordingEnded(flow domain.FlowKind, duration time.Duration)
	SessionContexts(open int)
	UploadFinished(state domain.UploadState, duration time.Duration)
}
