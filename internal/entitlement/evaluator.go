// evaluator.go -- File-level access decisions and the purchase transition.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/egiraffe/egiraffe/internal/store"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// Purchase outcomes callers map to HTTP statuses.
var (
	ErrAlreadyPurchased  = store.ErrAlreadyPurchased
	ErrInsufficientFunds = store.ErrInsufficientFunds
	ErrOwnUpload         = store.ErrOwnUpload
	ErrUnknownUpload     = errors.New("unknown upload")
)

// Store defines the lookups the evaluator needs.
// Satisfied by *store.PostgresStore -- defined here (at consumer) per Go convention.
type Store interface {
	// GetFileAccess returns ownership and approval state for a file.
	// Returns pgx.ErrNoRows if the file does not exist.
	GetFileAccess(ctx context.Context, fileID uuid.UUID) (*store.FileAccess, error)

	// GetUploadOwner returns the uploader of an upload, pgx.ErrNoRows if absent.
	GetUploadOwner(ctx context.Context, uploadID uuid.UUID) (uuid.UUID, error)

	// GetPurchase returns the purchase of uploadID by userID, pgx.ErrNoRows if none.
	GetPurchase(ctx context.Context, userID, uploadID uuid.UUID) (*store.Purchase, error)

	// PurchaseUpload records a purchase atomically with its balance check.
	PurchaseUpload(ctx context.Context, userID, uploadID uuid.UUID) (*store.Purchase, error)
}

// Reason explains a decision. Logged and counted, never returned to clients.
type Reason string

const (
	ReasonOwner       Reason = "owner"
	ReasonApproved    Reason = "approved"
	ReasonPurchased   Reason = "purchased"
	ReasonNotOwner    Reason = "not_owner"
	ReasonNotApproved Reason = "not_approved"
	ReasonNoPurchase  Reason = "no_purchase"
	ReasonNotFound    Reason = "not_found"
)

// Decision is Granted or Denied with the reason.
type Decision struct {
	Granted bool
	Reason  Reason
}

func grant(r Reason) Decision { return Decision{Granted: true, Reason: r} }
func deny(r Reason) Decision  { return Decision{Reason: r} }

// Evaluator decides file reads and upload mutations.
type Evaluator struct {
	Store Store

	// PurchaseRequiresApproval makes a purchase grant nothing until both
	// approval flags are set. Owners are unaffected.
	PurchaseRequiresApproval bool
}

// CanRead decides whether userID may download fileID.
// Grants on ownership, on full approval, or on a matching purchase.
// Only storage failures return an error.
func (e *Evaluator) CanRead(ctx context.Context, userID, fileID uuid.UUID) (Decision, error) {
	d, err := e.canRead(ctx, userID, fileID)
	if err != nil {
		decisions.WithLabelValues("read", "error", "").Inc()
		return Decision{}, err
	}
	record(ctx, "read", d, "user_id", userID, "file_id", fileID)
	return d, nil
}

func (e *Evaluator) canRead(ctx context.Context, userID, fileID uuid.UUID) (Decision, error) {
	fa, err := e.Store.GetFileAccess(ctx, fileID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return deny(ReasonNotFound), nil
		}
		return Decision{}, fmt.Errorf("loading file access: %w", err)
	}

	if userID != uuid.Nil && userID == fa.Uploader {
		return grant(ReasonOwner), nil
	}
	approved := fa.ApprovalMod && fa.ApprovalUploader
	if approved {
		return grant(ReasonApproved), nil
	}
	if userID == uuid.Nil {
		return deny(ReasonNotApproved), nil
	}

	_, err = e.Store.GetPurchase(ctx, userID, fa.UploadID)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return deny(ReasonNoPurchase), nil
	case err != nil:
		return Decision{}, fmt.Errorf("loading purchase: %w", err)
	case e.PurchaseRequiresApproval:
		return deny(ReasonNotApproved), nil
	}
	return grant(ReasonPurchased), nil
}

// CanModify decides whether userID may change uploadID. Only the uploader may.
func (e *Evaluator) CanModify(ctx context.Context, userID, uploadID uuid.UUID) (Decision, error) {
	owner, err := e.Store.GetUploadOwner(ctx, uploadID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			d := deny(ReasonNotFound)
			record(ctx, "modify", d, "user_id", userID, "upload_id", uploadID)
			return d, nil
		}
		decisions.WithLabelValues("modify", "error", "").Inc()
		return Decision{}, fmt.Errorf("loading upload owner: %w", err)
	}

	d := deny(ReasonNotOwner)
	if userID != uuid.Nil && owner == userID {
		d = grant(ReasonOwner)
	}
	record(ctx, "modify", d, "user_id", userID, "upload_id", uploadID)
	return d, nil
}

// Purchase buys uploadID for userID. The check-and-insert is one transaction
// in the store, so concurrent duplicates produce exactly one purchase.
func (e *Evaluator) Purchase(ctx context.Context, userID, uploadID uuid.UUID) (*store.Purchase, error) {
	p, err := e.Store.PurchaseUpload(ctx, userID, uploadID)
	switch {
	case err == nil:
		purchases.WithLabelValues("created").Inc()
		slog.InfoContext(ctx, "upload purchased", "user_id", userID, "upload_id", uploadID, "ecs_spent", p.ECSSpent)
		return p, nil
	case errors.Is(err, pgx.ErrNoRows):
		purchases.WithLabelValues("unknown_upload").Inc()
		return nil, ErrUnknownUpload
	case errors.Is(err, ErrAlreadyPurchased):
		purchases.WithLabelValues("already_purchased").Inc()
	case errors.Is(err, ErrInsufficientFunds):
		purchases.WithLabelValues("insufficient_funds").Inc()
	case errors.Is(err, ErrOwnUpload):
		purchases.WithLabelValues("own_upload").Inc()
	default:
		purchases.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("purchasing upload: %w", err)
	}
	return nil, err
}

func record(ctx context.Context, action string, d Decision, args ...any) {
	outcome := "denied"
	if d.Granted {
		outcome = "granted"
	}
	decisions.WithLabelValues(action, outcome, string(d.Reason)).Inc()
	slog.DebugContext(ctx, "entitlement decision",
		append([]any{"action", action, "outcome", outcome, "reason", string(d.Reason)}, args...)...)
}
