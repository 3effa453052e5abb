package ports

import (
	"context"

	"coachroom/internal/core/domain"
)

// MediaTrack is one granted device. Stop releases the device and must be
// safe to call more than once.
type MediaTrack interface {
	ID() string
	Kind() domain.TrackKind
	Stop()
}

// MediaStream is a handle on a set of granted tracks.
type MediaStream interface {
	ID() string
	Tracks() []MediaTrack
}

// MediaAcquirer is the platform capability that grants camera and microphone
// access. On failure it may still return a partial stream holding the tracks
// that were granted before the failing one; the caller owns and must release it.
type MediaAcquirer interface {
	Acquire(ctx context.Context, constraints domain.MediaConstraints) (MediaStream, error)
}

type Recorder interface {
	Start() error
	Stop() error
}

type RecorderFactory interface {
	NewRecorder(stream MediaStream) (Recorder, error)
}

// PreviewSink shows a live stream to the user. Detach is a no-op unless the
// given stream is the one currently attached.
type PreviewSink interface {
	Attach(stream MediaStream)
	Detach(stream MediaStream)
}

// ReleaseStream stops every track of stream. It tolerates a nil stream.
func ReleaseStream(stream MediaStream) {
	if stream == nil {
		return
	}
	for _, track := range stream.Tracks() {
		track.Stop()
	}
}
