package memory

import (
	"context"
	"sync"
	"time"

	"coachroom/internal/core/domain"
	"coachroom/internal/core/ports"
	"coachroom/pkg/cache"

	"github.com/jonboulle/clockwork"
)

// IdentityRepository keeps identity sessions in an expiring cache.
type IdentityRepository struct {
	sessions *cache.Cache[domain.IdentitySession]
	clock    clockwork.Clock

	mu    sync.Mutex
	users map[domain.UserID]map[string]struct{}
}

func NewIdentityRepository(clock clockwork.Clock, cleanupInterval time.Duration) *IdentityRepository {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &IdentityRepository{
		sessions: cache.New[domain.IdentitySession](0, cleanupInterval, clock),
		clock:    clock,
		users:    make(map[domain.UserID]map[string]struct{}),
	}
}

var _ ports.IdentityStore = (*IdentityRepository)(nil)

func (r *IdentityRepository) Load(ctx context.Context, sessionID string) (*domain.IdentitySession, error) {
	session, ok := r.sessions.Get(sessionID)
	if !ok {
		return nil, domain.ErrIdentityNotFound
	}
	return &session, nil
}

func (r *IdentityRepository) Save(ctx context.Context, session *domain.IdentitySession) error {
	var ttl time.Duration
	if !session.ExpiresAt.IsZero() {
		ttl = session.ExpiresAt.Sub(r.clock.Now())
		if ttl <= 0 {
			return nil
		}
	}
	r.sessions.SetWithTTL(session.ID, *session, ttl)

	r.mu.Lock()
	defer r.mu.Unlock()
	ids, ok := r.users[session.Identity.ID]
	if !ok {
		ids = make(map[string]struct{})
		r.users[session.Identity.ID] = ids
	}
	ids[session.ID] = struct{}{}
	return nil
}

func (r *IdentityRepository) Clear(ctx context.Context, sessionID string) error {
	session, ok := r.sessions.Get(sessionID)
	if !r.sessions.Delete(sessionID) || !ok {
		return domain.ErrIdentityNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if ids, ok := r.users[session.Identity.ID]; ok {
		delete(ids, sessionID)
		if len(ids) == 0 {
			delete(r.users, session.Identity.ID)
		}
	}
	return nil
}

func (r *IdentityRepository) ClearUser(ctx context.Context, userID domain.UserID) (int, error) {
	r.mu.Lock()
	ids := r.users[userID]
	delete(r.users, userID)
	r.mu.Unlock()

	removed := 0
	for id := range ids {
		if r.sessions.Delete(id) {
			removed++
		}
	}
	return removed, nil
}

// Close stops the cache cleanup.
func (r *IdentityRepository) Close() {
	r.sessions.Stop()
}
