// sessions.go -- Session lifecycle: create, validate, revoke.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/egiraffe/egiraffe/internal/store"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// SessionStore defines durable session operations.
// Satisfied by *store.PostgresStore -- defined here (at consumer) per Go convention.
type SessionStore interface {
	// CreateSession inserts a new session row keyed by token hash.
	CreateSession(ctx context.Context, id, userID uuid.UUID, tokenHash []byte) error

	// GetSessionIdentity resolves a token hash to its user and the user's current role.
	// Returns pgx.ErrNoRows if no session matches.
	GetSessionIdentity(ctx context.Context, tokenHash []byte) (*store.SessionIdentity, error)

	// DeleteSession removes a single session row. Missing rows are not an error.
	DeleteSession(ctx context.Context, tokenHash []byte) error

	// DeleteAllUserSessions removes every session row of a user.
	DeleteAllUserSessions(ctx context.Context, userID uuid.UUID) error
}

// SessionCache defines session cache operations.
// Satisfied by *store.RedisStore and store.NoopSessionCache.
type SessionCache interface {
	GetSession(ctx context.Context, tokenHash string) (*store.CachedSession, error)
	SetSession(ctx context.Context, tokenHash string, sess store.CachedSession, ttl time.Duration) error
	DeleteSession(ctx context.Context, tokenHash string, userID uuid.UUID) error
	DeleteAllUserSessions(ctx context.Context, userID uuid.UUID) error
}

// Validation is the outcome of resolving a token.
// Valid=false carries no identity.
type Validation struct {
	Valid  bool
	UserID uuid.UUID
	Level  Level
}

// SessionManager issues and resolves opaque session tokens.
// Postgres is the source of truth; the cache is a fast path only.
type SessionManager struct {
	PS       SessionStore
	RS       SessionCache
	CacheTTL time.Duration
}

// Create mints a fresh token for userID and persists its hash.
// Every call allocates a new row, so a pre-login token never becomes a post-login one.
func (m *SessionManager) Create(ctx context.Context, userID uuid.UUID) (string, error) {
	token, hash, err := GenerateToken()
	if err != nil {
		return "", err
	}
	sessionID, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generating session id: %w", err)
	}
	if err := m.PS.CreateSession(ctx, sessionID, userID, hash[:]); err != nil {
		return "", fmt.Errorf("persisting session: %w", err)
	}
	return token, nil
}

// Validate resolves token to the user and their current level.
// Unknown, malformed, or unresolvable tokens are Invalid; store failures are logged, never returned.
func (m *SessionManager) Validate(ctx context.Context, token string) Validation {
	hash, err := HashToken(token)
	if err != nil {
		return Validation{}
	}
	key := cacheKey(hash)

	cached, err := m.RS.GetSession(ctx, key)
	if err == nil {
		level, err := ParseLevel(cached.Role)
		if err == nil {
			return Validation{Valid: true, UserID: cached.UserID, Level: level}
		}
		slog.WarnContext(ctx, "cached session has invalid role, ignoring cache", "role", cached.Role)
	} else if !errors.Is(err, store.ErrCacheMiss) {
		slog.ErrorContext(ctx, "session cache lookup failed, falling back to postgres", "error", err)
	}

	ident, err := m.PS.GetSessionIdentity(ctx, hash[:])
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			slog.ErrorContext(ctx, "session lookup failed", "error", err)
		}
		return Validation{}
	}
	level, err := ParseLevel(ident.Role)
	if err != nil {
		slog.ErrorContext(ctx, "session user has invalid role", "user_id", ident.UserID, "error", err)
		return Validation{}
	}

	if err := m.RS.SetSession(ctx, key, store.CachedSession{UserID: ident.UserID, Role: ident.Role}, m.CacheTTL); err != nil {
		slog.WarnContext(ctx, "failed to repopulate session cache", "error", err)
		return Validation{Valid: true, UserID: ident.UserID, Level: level}
	}

	// A revoke or role change may land between the read above and the write.
	// Re-read so the cache never holds more than the row does.
	again, err := m.PS.GetSessionIdentity(ctx, hash[:])
	if err == nil && again.Role == ident.Role {
		return Validation{Valid: true, UserID: ident.UserID, Level: level}
	}
	if derr := m.RS.DeleteSession(ctx, key, ident.UserID); derr != nil {
		slog.ErrorContext(ctx, "failed to drop stale session from cache", "user_id", ident.UserID, "error", derr)
	}
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			slog.ErrorContext(ctx, "session re-check failed", "error", err)
		}
		return Validation{}
	}
	level, err = ParseLevel(again.Role)
	if err != nil {
		slog.ErrorContext(ctx, "session user has invalid role", "user_id", again.UserID, "error", err)
		return Validation{}
	}
	return Validation{Valid: true, UserID: again.UserID, Level: level}
}

// Revoke deletes the session behind token. Unknown or malformed tokens are a no-op.
func (m *SessionManager) Revoke(ctx context.Context, token string) error {
	hash, err := HashToken(token)
	if err != nil {
		return nil
	}
	key := cacheKey(hash)

	// The cache entry is tracked per user; find the owner so the set stays clean.
	var owner uuid.UUID
	if cached, err := m.RS.GetSession(ctx, key); err == nil {
		owner = cached.UserID
	} else if ident, err := m.PS.GetSessionIdentity(ctx, hash[:]); err == nil {
		owner = ident.UserID
	}

	// Row first: a Validate racing with us re-checks the row after caching.
	if err := m.PS.DeleteSession(ctx, hash[:]); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	if err := m.RS.DeleteSession(ctx, key, owner); err != nil {
		return fmt.Errorf("deleting cached session: %w", err)
	}
	return nil
}

// RevokeAll deletes every session of userID.
func (m *SessionManager) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	if err := m.PS.DeleteAllUserSessions(ctx, userID); err != nil {
		return fmt.Errorf("deleting user sessions: %w", err)
	}
	if err := m.RS.DeleteAllUserSessions(ctx, userID); err != nil {
		return fmt.Errorf("deleting cached user sessions: %w", err)
	}
	return nil
}

// InvalidateUser drops cached identities of userID so the next request
// re-reads the role from Postgres. Sessions stay valid.
// Call it after the role is written.
func (m *SessionManager) InvalidateUser(ctx context.Context, userID uuid.UUID) error {
	if err := m.RS.DeleteAllUserSessions(ctx, userID); err != nil {
		return fmt.Errorf("invalidating cached sessions: %w", err)
	}
	return nil
}
