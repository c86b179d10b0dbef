// models.go -- Shared domain types for the store package.
// Used by both Postgres (durable store) and Redis (cache layer).
package store

import (
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
)

// ErrCacheMiss is returned by GetSession when the key is not in Redis.
// Callers use errors.Is to distinguish a true miss from a Redis infrastructure failure.
var ErrCacheMiss = errors.New("cache miss")

// ErrAlreadyPurchased is returned by PurchaseUpload when a purchase row for the
// (user, upload) pair already exists.
var ErrAlreadyPurchased = errors.New("upload already purchased")

// ErrInsufficientFunds is returned by PurchaseUpload when the buyer's available
// ECS balance is lower than the upload price.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ErrOwnUpload is returned by PurchaseUpload when the buyer is the uploader.
var ErrOwnUpload = errors.New("cannot purchase own upload")

// User represents a row in the users table.
// Nullable columns are pointers; nil means SQL NULL.
// Role holds the numeric authorization level (1 user, 2 moderator, 3 admin).
type User struct {
	ID           uuid.UUID
	Email        string
	FirstNames   *string
	LastName     *string
	Nick         *string
	PasswordHash string
	TOTPSecret   *string
	Role         int16
	CreatedAt    time.Time
}

// Session represents a row in the sessions table.
// TokenHash is SHA-256 of the raw token; the textual token itself is never stored.
type Session struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash []byte
	CreatedAt time.Time
}

// SessionIdentity is the result of resolving a session joined with its user's current role.
type SessionIdentity struct {
	UserID uuid.UUID
	Role   int16
}

// CachedSession is the JSON shape stored in Redis for cached sessions.
// Role is cached alongside the user; role changes drop the user's cached sessions.
type CachedSession struct {
	UserID uuid.UUID `json:"user_id"`
	Role   int16     `json:"role"`
}

// University represents a row in the universities table.
type University struct {
	ID        uuid.UUID
	FullName  string
	MidName   string
	ShortName string
}

// Course represents a row in the courses table.
// HeldAt references the university.
type Course struct {
	ID     uuid.UUID
	Name   string
	HeldAt uuid.UUID
}

// Upload represents a row in the uploads table.
// Uploader owns the upload; only they (or a moderator route) may modify it.
type Upload struct {
	ID               uuid.UUID  `json:"id"`
	Name             string     `json:"name"`
	Description      string     `json:"description"`
	Price            int16      `json:"price"`
	Uploader         uuid.UUID  `json:"uploader"`
	UploadDate       time.Time  `json:"upload_date"`
	LastModifiedDate time.Time  `json:"last_modified_date"`
	AssociatedDate   *time.Time `json:"associated_date,omitempty"`
	UploadType       string     `json:"upload_type"`
	BelongsTo        uuid.UUID  `json:"belongs_to"`
	HeldBy           *uuid.UUID `json:"held_by,omitempty"`
}

// File represents a row in the files table.
// StorageKey locates the content in the blob store.
// ApprovalUploader and ApprovalMod must both be true for third-party visibility.
type File struct {
	ID               uuid.UUID `json:"id"`
	Name             string    `json:"name"`
	MimeType         string    `json:"mime_type"`
	Size             int64     `json:"size"`
	SHA3_256         string    `json:"sha3_256"`
	StorageKey       string    `json:"-"`
	RevisionAt       time.Time `json:"revision_at"`
	UploadID         uuid.UUID `json:"upload_id"`
	ApprovalUploader bool      `json:"approval_uploader"`
	ApprovalMod      bool      `json:"approval_mod"`
}

// FileAccess is the slice of file + parent upload state the entitlement evaluator needs.
type FileAccess struct {
	FileID           uuid.UUID
	UploadID         uuid.UUID
	Uploader         uuid.UUID
	ApprovalUploader bool
	ApprovalMod      bool
}

// Purchase represents a row in the purchases table.
// At most one row per (UserID, UploadID); never mutated after insert.
type Purchase struct {
	UserID       uuid.UUID `json:"user_id"`
	UploadID     uuid.UUID `json:"upload_id"`
	ECSSpent     int16     `json:"ecs_spent"`
	PurchaseDate time.Time `json:"purchase_date"`
	Rating       *int16    `json:"rating,omitempty"`
}

// SystemTransaction represents a row in the system_ec_transactions table.
// DeltaEC is positive for grants and negative for deductions.
type SystemTransaction struct {
	AffectedUser    uuid.UUID
	TransactionDate time.Time
	DeltaEC         int64
	Reason          *string
}
