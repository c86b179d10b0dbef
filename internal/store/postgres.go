// Package store handles all database and cache interactions.
//
// postgres.go -- pgxpool connection setup and user/session queries.
// Creates a connection pool at startup, shared across all handlers.
// All queries use parameterized statements (no string concatenation).
package store

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the durable store backing sessions, users, uploads and the ECS ledger.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a verified connection pool to PostgreSQL wrapped in a store.
// Call once at startup from main.go...the returned store is safe for concurrent use.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	// Ping db to make sure connection works
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool}, nil
}

// Close shuts down the connection pool and releases all resources.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks connectivity; used by the health endpoint.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Users ---

const userColumns = `id, email, first_names, last_name, nick, password_hash, totp_secret, user_role, created_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.FirstNames, &u.LastName, &u.Nick,
		&u.PasswordHash, &u.TOTPSecret, &u.Role, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a new user. Caller generates the UUID and Argon2id hash.
// Returns raw pgx error, handler inspects it for unique violations (duplicate email).
func (s *PostgresStore) CreateUser(ctx context.Context, u *User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, email, first_names, last_name, nick, password_hash, user_role)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Email, u.FirstNames, u.LastName, u.Nick, u.PasswordHash, u.Role)
	return err
}

// GetUserByEmail fetches a user by (case-insensitive) email for login.
// Returns pgx.ErrNoRows if no user has that email.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
}

// GetUserByID fetches a user by id. Returns pgx.ErrNoRows if missing.
func (s *PostgresStore) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// UpdateUserPassword replaces the stored hash for the user.
func (s *PostgresStore) UpdateUserPassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	tag, err := s.pool.Exec(ctx, "UPDATE users SET password_hash = $2 WHERE id = $1", id, passwordHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// UpdateUserRole sets the user's authorization level.
// Returns pgx.ErrNoRows if the user does not exist.
func (s *PostgresStore) UpdateUserRole(ctx context.Context, id uuid.UUID, role int16) error {
	tag, err := s.pool.Exec(ctx, "UPDATE users SET user_role = $2 WHERE id = $1", id, role)
	if err != nil {
		return fmt.Errorf("updating user role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// --- Sessions ---

// CreateSession inserts a new session row keyed by the token hash.
func (s *PostgresStore) CreateSession(ctx context.Context, id, userID uuid.UUID, tokenHash []byte) error {
	_, err := s.pool.Exec(ctx,
		"INSERT INTO sessions (id, token_hash, of_user) VALUES ($1, $2, $3)",
		id, tokenHash, userID)
	return err
}

// GetSessionIdentity resolves a token hash to its user and the user's current role.
// The role is read at lookup time so role changes apply on the next request.
// Returns pgx.ErrNoRows if no session matches.
func (s *PostgresStore) GetSessionIdentity(ctx context.Context, tokenHash []byte) (*SessionIdentity, error) {
	var si SessionIdentity
	err := s.pool.QueryRow(ctx, `
		SELECT s.of_user, u.user_role
		FROM sessions AS s
		INNER JOIN users AS u ON s.of_user = u.id
		WHERE s.token_hash = $1`, tokenHash).Scan(&si.UserID, &si.Role)
	if err != nil {
		return nil, err
	}
	return &si, nil
}

// DeleteSession removes a single session by token hash. Missing rows are not an error.
func (s *PostgresStore) DeleteSession(ctx context.Context, tokenHash []byte) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM sessions WHERE token_hash = $1", tokenHash)
	return err
}

// DeleteAllUserSessions removes every session for a user.
func (s *PostgresStore) DeleteAllUserSessions(ctx context.Context, userID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM sessions WHERE of_user = $1", userID)
	return err
}
