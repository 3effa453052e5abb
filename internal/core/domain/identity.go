package domain

import "time"

type UserID string

// Identity is the signed-in user as the UI sees it.
type Identity struct {
	ID    UserID `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// IdentitySession replaces the ambient browser-stored user object with an
// explicit, expiring record.
type IdentitySession struct {
	ID        string    `json:"id"`
	Identity  Identity  `json:"identity"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *IdentitySession) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}
