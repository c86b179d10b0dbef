// imports.go -- Write path for the one-time legacy import.
//
// Everything runs inside one transaction so a failed import leaves the target
// database untouched.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ImportTx wraps the import transaction; only the import job uses it.
type ImportTx struct {
	tx pgx.Tx
}

// WithImportTx runs fn inside a transaction, committing only if fn returns nil.
func (s *PostgresStore) WithImportTx(ctx context.Context, fn func(*ImportTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning import transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&ImportTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing import: %w", err)
	}
	return nil
}

// CreateUniversity inserts a university with a caller-chosen (legacy-derived) id.
func (t *ImportTx) CreateUniversity(ctx context.Context, u *University) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO universities (id, name_full, name_mid, name_short)
		VALUES ($1, $2, $3, $4)`,
		u.ID, u.FullName, u.MidName, u.ShortName)
	if err != nil {
		return fmt.Errorf("inserting university %s: %w", u.ID, err)
	}
	return nil
}

// CreateCourse inserts a course with a caller-chosen (legacy-derived) id.
func (t *ImportTx) CreateCourse(ctx context.Context, c *Course) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO courses (id, course_name, held_at)
		VALUES ($1, $2, $3)`,
		c.ID, c.Name, c.HeldAt)
	if err != nil {
		return fmt.Errorf("inserting course %s: %w", c.ID, err)
	}
	return nil
}

// CreateUser inserts an imported user, skipping rows whose id or email already exists.
// Returns false when the row was skipped.
func (t *ImportTx) CreateUser(ctx context.Context, u *User) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO users (id, email, first_names, last_name, nick, password_hash, user_role)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING`,
		u.ID, u.Email, u.FirstNames, u.LastName, u.Nick, u.PasswordHash, u.Role)
	if err != nil {
		return false, fmt.Errorf("inserting user %s: %w", u.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}
