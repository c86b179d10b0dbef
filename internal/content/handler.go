// Package content serves the entitlement-gated parts of the API: file
// downloads, purchases, upload management, moderation and ledger admin.
package content

import (
	"context"
	"errors"
	"net/http"

	"github.com/egiraffe/egiraffe/internal/auth"
	"github.com/egiraffe/egiraffe/internal/blob"
	"github.com/egiraffe/egiraffe/internal/entitlement"
	"github.com/egiraffe/egiraffe/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Store defines the upload, file and ledger operations the handlers need.
// Satisfied by *store.PostgresStore -- defined here (at consumer) per Go convention.
type Store interface {
	GetUpload(ctx context.Context, id uuid.UUID) (*store.Upload, error)
	CreateUpload(ctx context.Context, u *store.Upload) error
	UpdateUpload(ctx context.Context, u *store.Upload) error

	GetFile(ctx context.Context, id uuid.UUID) (*store.File, error)
	CreateFile(ctx context.Context, f *store.File) error
	SetFileApprovalUploader(ctx context.Context, fileID uuid.UUID, approved bool) error
	SetFileApprovalMod(ctx context.Context, fileID uuid.UUID, approved bool) error

	// UpdateUserRole returns pgx.ErrNoRows for an unknown user.
	UpdateUserRole(ctx context.Context, id uuid.UUID, role int16) error

	AvailableFunds(ctx context.Context, userID uuid.UUID) (int64, error)
	CreateSystemTransaction(ctx context.Context, t *store.SystemTransaction) error
}

// SessionInvalidator drops cached sessions so a role change is seen on the next request.
// Satisfied by *auth.SessionManager.
type SessionInvalidator interface {
	InvalidateUser(ctx context.Context, userID uuid.UUID) error
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Handler holds dependencies for the content routes.
type Handler struct {
	PS             Store
	Entitlement    *entitlement.Evaluator
	Blobs          blob.Store
	Sessions       SessionInvalidator
	MaxUploadBytes int64
}

// caller returns the authenticated identity, writing 401 when there is none.
// Routes are gated, so a miss here means a wiring error.
func caller(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok || id.Anonymous() {
		auth.Unauthorized(w)
		return auth.Identity{}, false
	}
	return id, true
}

// urlID parses a UUID route parameter.
func urlID(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.FromString(chi.URLParam(r, name))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// decode reads a JSON body into v and validates it, writing 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		logWarn(r, "failed to decode request body", "error", err)
		auth.BadRequest(w, "error decoding request body")
		return false
	}
	if err := validate.Struct(v); err != nil {
		logDebug(r, "request body rejected", "error", err)
		auth.BadRequest(w, "invalid request body")
		return false
	}
	return true
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
