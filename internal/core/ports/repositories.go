package ports

import (
	"context"

	"coachroom/internal/core/domain"
)

// IdentityStore persists the signed-in identity session outside the UI.
type IdentityStore interface {
	Load(ctx context.Context, sessionID string) (*domain.IdentitySession, error)
	Save(ctx context.Context, session *domain.IdentitySession) error
	Clear(ctx context.Context, sessionID string) error
	// ClearUser removes every session of a user and returns how many were live.
	ClearUser(ctx context.Context, userID domain.UserID) (int, error)
}
