// redis.go -- go-redis client for session caching.
//
// Stores {user_id, role} per token hash with a TTL.
// Fast path for session validation; Postgres stays the source of truth.
// If Redis is unavailable, callers fall back to Postgres.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient parses redisURL, connects and pings.
// All Redis-backed structs share the returned client's pool.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return rdb, nil
}

// RedisStore wraps a Redis client for session cache operations.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore wraps an existing client. Safe for concurrent use.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb}
}

// Ping checks connectivity for the health endpoint.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func sessionKey(tokenHash string) string { return "session:" + tokenHash }

func userSessionsKey(userID uuid.UUID) string { return "user_sessions:" + userID.String() }

// SetSession caches a session identity with the given TTL.
// Also tracks the token hash in a per-user set for bulk deletion.
func (s *RedisStore) SetSession(ctx context.Context, tokenHash string, sess CachedSession, ttl time.Duration) error {
	cacheOut, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}

	// Pipeline so the session key and the tracking set move together
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, sessionKey(tokenHash), cacheOut, ttl)
	pipe.SAdd(ctx, userSessionsKey(sess.UserID), tokenHash)
	// Tracking set outlives every member it references
	pipe.Expire(ctx, userSessionsKey(sess.UserID), ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("caching session: %w", err)
	}
	return nil
}

// GetSession retrieves a cached session by its token hash.
// Returns ErrCacheMiss if the key is absent; any other error is an infrastructure failure.
func (s *RedisStore) GetSession(ctx context.Context, tokenHash string) (*CachedSession, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(tokenHash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("fetching session: %w", err)
	}

	var cached CachedSession
	if err := json.Unmarshal(raw, &cached); err != nil {
		return nil, fmt.Errorf("parsing session: %w", err)
	}
	return &cached, nil
}

// DeleteSession removes a single cached session and its entry in the user's tracking set.
func (s *RedisStore) DeleteSession(ctx context.Context, tokenHash string, userID uuid.UUID) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, sessionKey(tokenHash))
	pipe.SRem(ctx, userSessionsKey(userID), tokenHash)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// DeleteAllUserSessions removes all cached sessions for the given user.
func (s *RedisStore) DeleteAllUserSessions(ctx context.Context, userID uuid.UUID) error {
	setKey := userSessionsKey(userID)

	hashes, err := s.rdb.SMembers(ctx, setKey).Result()
	if err != nil {
		return fmt.Errorf("fetching user sessions: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	for _, hash := range hashes {
		pipe.Del(ctx, sessionKey(hash))
	}
	pipe.Del(ctx, setKey)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting user sessions: %w", err)
	}
	return nil
}

// NoopSessionCache stands in when Redis is not configured; every read misses.
type NoopSessionCache struct{}

func (NoopSessionCache) SetSession(context.Context, string, CachedSession, time.Duration) error {
	return nil
}

func (NoopSessionCache) GetSession(context.Context, string) (*CachedSession, error) {
	return nil, ErrCacheMiss
}

func (NoopSessionCache) DeleteSession(context.Context, string, uuid.UUID) error { return nil }

func (NoopSessionCache) DeleteAllUserSessions(context.Context, uuid.UUID) error { return nil }
