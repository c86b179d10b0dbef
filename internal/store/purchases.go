// purchases.go -- Purchase records and the ECS ledger.
//
// Balances are never stored; they are derived from system transactions,
// earnings from sold uploads and spending on purchases. PurchaseUpload is the
// only read-modify-write path and runs inside a single transaction.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// availableFundsSQL sums grants/deductions + earnings - spending for $1.
const availableFundsSQL = `
	SELECT
		COALESCE((SELECT SUM(delta_ec) FROM system_ec_transactions WHERE affected_user = $1), 0)::bigint
		+ COALESCE((SELECT SUM(p.ecs_spent) FROM purchases AS p
			INNER JOIN uploads AS u ON p.upload_id = u.id
			WHERE u.uploader = $1), 0)::bigint
		- COALESCE((SELECT SUM(ecs_spent) FROM purchases WHERE user_id = $1), 0)::bigint`

func availableFunds(ctx context.Context, q querier, userID uuid.UUID) (int64, error) {
	var funds int64
	if err := q.QueryRow(ctx, availableFundsSQL, userID).Scan(&funds); err != nil {
		return 0, fmt.Errorf("calculating available funds: %w", err)
	}
	return funds, nil
}

// AvailableFunds returns the ECS the user can currently spend.
func (s *PostgresStore) AvailableFunds(ctx context.Context, userID uuid.UUID) (int64, error) {
	return availableFunds(ctx, s.pool, userID)
}

// CreateSystemTransaction records an administrative grant or deduction.
func (s *PostgresStore) CreateSystemTransaction(ctx context.Context, t *SystemTransaction) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO system_ec_transactions (affected_user, transaction_date, delta_ec, reason)
		VALUES ($1, $2, $3, $4)`,
		t.AffectedUser, t.TransactionDate, t.DeltaEC, t.Reason)
	if err != nil {
		return fmt.Errorf("creating system transaction: %w", err)
	}
	return nil
}

// GetPurchase fetches the purchase for (userID, uploadID). Returns pgx.ErrNoRows if none.
func (s *PostgresStore) GetPurchase(ctx context.Context, userID, uploadID uuid.UUID) (*Purchase, error) {
	var p Purchase
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, upload_id, ecs_spent, purchase_date, rating
		FROM purchases
		WHERE user_id = $1 AND upload_id = $2`, userID, uploadID).Scan(
		&p.UserID, &p.UploadID, &p.ECSSpent, &p.PurchaseDate, &p.Rating)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// PurchaseUpload buys an upload for a user.
//
// The buyer's users row is locked FOR UPDATE first, so two concurrent purchases
// by the same user serialize: the second one sees the first one's purchase row
// and its effect on the balance. The UNIQUE(user_id, upload_id) constraint is
// the backstop. Nothing is persisted unless the transaction commits.
//
// Returns pgx.ErrNoRows (unknown buyer or upload), ErrOwnUpload, ErrAlreadyPurchased
// or ErrInsufficientFunds.
func (s *PostgresStore) PurchaseUpload(ctx context.Context, userID, uploadID uuid.UUID) (*Purchase, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning purchase transaction: %w", err)
	}
	// No-op once committed
	defer tx.Rollback(ctx)

	var locked uuid.UUID
	if err := tx.QueryRow(ctx, "SELECT id FROM users WHERE id = $1 FOR UPDATE", userID).Scan(&locked); err != nil {
		return nil, err
	}

	var uploader uuid.UUID
	var price int16
	if err := tx.QueryRow(ctx, "SELECT uploader, price FROM uploads WHERE id = $1", uploadID).Scan(&uploader, &price); err != nil {
		return nil, err
	}
	if uploader == userID {
		return nil, ErrOwnUpload
	}

	var exists bool
	err = tx.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM purchases WHERE user_id = $1 AND upload_id = $2)",
		userID, uploadID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("checking existing purchase: %w", err)
	}
	if exists {
		return nil, ErrAlreadyPurchased
	}

	funds, err := availableFunds(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if funds < int64(price) {
		return nil, ErrInsufficientFunds
	}

	p := &Purchase{
		UserID:       userID,
		UploadID:     uploadID,
		ECSSpent:     price,
		PurchaseDate: time.Now().UTC(),
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO purchases (user_id, upload_id, ecs_spent, purchase_date, rating)
		VALUES ($1, $2, $3, $4, $5)`,
		p.UserID, p.UploadID, p.ECSSpent, p.PurchaseDate, p.Rating)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrAlreadyPurchased
		}
		return nil, fmt.Errorf("inserting purchase: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing purchase: %w", err)
	}
	return p, nil
}
