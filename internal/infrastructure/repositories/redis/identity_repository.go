package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"coachroom/internal/core/domain"
	"coachroom/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// IdentityRepository stores identity sessions as JSON values that expire with
// the session, plus a per-user set of session ids.
type IdentityRepository struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewIdentityRepository(client *redis.Client, prefix string) *IdentityRepository {
	return &IdentityRepository{client: client, prefix: prefix, now: time.Now}
}

var _ ports.IdentityStore = (*IdentityRepository)(nil)

func (r *IdentityRepository) sessionKey(id string) string {
	return r.prefix + "identity:" + id
}

func (r *IdentityRepository) userKey(id domain.UserID) string {
	return r.prefix + "user:" + string(id) + ":identities"
}

func (r *IdentityRepository) Load(ctx context.Context, sessionID string) (*domain.IdentitySession, error) {
	return r.get(ctx, r.sessionKey(sessionID))
}

func (r *IdentityRepository) get(ctx context.Context, key string) (*domain.IdentitySession, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get identity session from Redis: %w", err)
	}

	var session domain.IdentitySession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal identity session: %w", err)
	}
	return &session, nil
}

func (r *IdentityRepository) Save(ctx context.Context, session *domain.IdentitySession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal identity session: %w", err)
	}

	var ttl time.Duration
	if !session.ExpiresAt.IsZero() {
		ttl = session.ExpiresAt.Sub(r.now())
		if ttl <= 0 {
			return nil
		}
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.sessionKey(session.ID), data, ttl)
	pipe.SAdd(ctx, r.userKey(session.Identity.ID), session.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save identity session in Redis: %w", err)
	}
	return nil
}

func (r *IdentityRepository) Clear(ctx context.Context, sessionID string) error {
	session, err := r.Load(ctx, sessionID)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.sessionKey(sessionID))
	pipe.SRem(ctx, r.userKey(session.Identity.ID), sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to clear identity session in Redis: %w", err)
	}
	return nil
}

// ClearUser removes every identity session of userID, including ids whose
// values already expired.
func (r *IdentityRepository) ClearUser(ctx context.Context, userID domain.UserID) (int, error) {
	key := r.userKey(userID)
	ids, err := r.client.SMembers(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list identity sessions: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, r.sessionKey(id))
	}

	pipe := r.client.TxPipeline()
	removed := pipe.Del(ctx, keys...)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to clear identity sessions: %w", err)
	}
	return int(removed.Val()), nil
}
