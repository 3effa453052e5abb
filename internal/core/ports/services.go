package ports

import (
	"context"
	"io"

	"coachroom/internal/core/domain"
)

// EventPublisher delivers events to live subscribers. Publish must not block.
type EventPublisher interface {
	Publish(event domain.Event)
}

// Uploader moves a file to its destination, reporting discrete progress.
// The progress callback is invoked from the uploader's goroutine in order.
type Uploader interface {
	Upload(ctx context.Context, file domain.UploadFile, r io.Reader, progress func(domain.UploadProgress)) error
}

type SessionService interface {
	Open(ctx context.Context, owner domain.UserID, flow domain.FlowKind) (*domain.SessionSnapshot, error)
	Get(ctx context.Context, owner domain.UserID, id domain.SessionID) (*domain.SessionSnapshot, error)
	Probe(ctx context.Context, owner domain.UserID, id domain.SessionID) (domain.EquipmentStatus, error)
	Start(ctx context.Context, owner domain.UserID, id domain.SessionID) (*domain.RecordingSession, error)
	Tick(ctx context.Context, owner domain.UserID, id domain.SessionID) (int, error)
	Stop(ctx context.Context, owner domain.UserID, id domain.SessionID) (*domain.SessionSummary, error)
	Reset(ctx context.Context, owner domain.UserID, id domain.SessionID) error
	NextQuestion(ctx context.Context, owner domain.UserID, id domain.SessionID) (*domain.SessionSnapshot, error)
	Close(ctx context.Context, owner domain.UserID, id domain.SessionID) error
}

type UploadService interface {
	Submit(ctx context.Context, owner domain.UserID, file domain.UploadFile, r io.Reader, jobDescription string) (*domain.UploadTask, error)
	Get(ctx context.Context, owner domain.UserID, id domain.UploadID) (*domain.UploadTask, error)
}
