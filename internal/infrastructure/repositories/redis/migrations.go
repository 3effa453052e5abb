package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coachroom/pkg/distributed"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	currentSchemaVersion = 2

	migrationLockTTL  = 30 * time.Second
	migrationLockWait = 10 * time.Second
)

// Migration moves the key layout under a prefix forward by one version.
type Migration struct {
	Version int
	Up      func(ctx context.Context, client *redis.Client, prefix string) error
}

// Migrate runs all pending migrations. Instances starting together serialize
// on a lock so each migration runs once.
func Migrate(ctx context.Context, client *redis.Client, prefix string, logger *zap.SugaredLogger) error {
	lock := distributed.NewLock(client, prefix+"schema:lock", migrationLockTTL)
	if err := lock.Acquire(ctx, migrationLockWait); err != nil {
		return fmt.Errorf("failed to take migration lock: %w", err)
	}
	defer func() {
		if err := lock.Release(context.Background()); err != nil && logger != nil {
			logger.Warnw("failed to release migration lock", "error", err)
		}
	}()

	currentVersion, err := getSchemaVersion(ctx, client, prefix)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	if currentVersion >= currentSchemaVersion {
		if logger != nil {
			logger.Infow("schema is up to date",
				"current_version", currentVersion,
				"target_version", currentSchemaVersion,
			)
		}
		return nil
	}

	for _, migration := range getMigrations() {
		if migration.Version <= currentVersion {
			continue
		}
		if logger != nil {
			logger.Infow("running migration", "version", migration.Version)
		}
		if err := migration.Up(ctx, client, prefix); err != nil {
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}
		if err := setSchemaVersion(ctx, client, prefix, migration.Version); err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}
	}

	if logger != nil {
		logger.Infow("all migrations completed", "final_version", currentSchemaVersion)
	}
	return nil
}

func schemaVersionKey(prefix string) string {
	return prefix + "schema:version"
}

func getSchemaVersion(ctx context.Context, client *redis.Client, prefix string) (int, error) {
	val, err := client.Get(ctx, schemaVersionKey(prefix)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func setSchemaVersion(ctx context.Context, client *redis.Client, prefix string, version int) error {
	return client.Set(ctx, schemaVersionKey(prefix), version, 0).Err()
}

func getMigrations() []Migration {
	return []Migration{
		{
			// 1: identity sessions stored as JSON strings with a TTL.
			Version: 1,
			Up: func(ctx context.Context, client *redis.Client, prefix string) error {
				return nil
			},
		},
		{
			// 2: per-user index of identity sessions. Existing sessions are
			// indexed so ClearUser can find them.
			Version: 2,
			Up: func(ctx context.Context, client *redis.Client, prefix string) error {
				repo := &IdentityRepository{client: client, prefix: prefix}
				iter := client.Scan(ctx, 0, prefix+"identity:*", 100).Iterator()
				for iter.Next(ctx) {
					session, err := repo.get(ctx, iter.Val())
					if err != nil {
						continue
					}
					if err := client.SAdd(ctx, repo.userKey(session.Identity.ID), session.ID).Err(); err != nil {
						return err
					}
				}
				return iter.Err()
			},
		},
	}
}
