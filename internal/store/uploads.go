// uploads.go -- Upload and file queries.
//
// Course/university CRUD lives outside the core; only what the entitlement
// and content handlers touch is here.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

const uploadColumns = `id, name, description, price, uploader, upload_date, last_modified_date,
	associated_date, upload_type, belongs_to, held_by`

func scanUpload(row pgx.Row) (*Upload, error) {
	var u Upload
	err := row.Scan(&u.ID, &u.Name, &u.Description, &u.Price, &u.Uploader,
		&u.UploadDate, &u.LastModifiedDate, &u.AssociatedDate, &u.UploadType,
		&u.BelongsTo, &u.HeldBy)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUpload fetches an upload by id. Returns pgx.ErrNoRows if missing.
func (s *PostgresStore) GetUpload(ctx context.Context, id uuid.UUID) (*Upload, error) {
	return scanUpload(s.pool.QueryRow(ctx,
		`SELECT `+uploadColumns+` FROM uploads WHERE id = $1`, id))
}

// GetUploadOwner returns the uploader of an upload. Returns pgx.ErrNoRows if missing.
func (s *PostgresStore) GetUploadOwner(ctx context.Context, uploadID uuid.UUID) (uuid.UUID, error) {
	var uploader uuid.UUID
	err := s.pool.QueryRow(ctx, "SELECT uploader FROM uploads WHERE id = $1", uploadID).Scan(&uploader)
	return uploader, err
}

// CreateUpload inserts a new upload. Caller sets ID, Uploader and dates.
func (s *PostgresStore) CreateUpload(ctx context.Context, u *Upload) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO uploads (id, name, description, price, uploader, upload_date, last_modified_date,
			associated_date, upload_type, belongs_to, held_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		u.ID, u.Name, u.Description, u.Price, u.Uploader, u.UploadDate, u.LastModifiedDate,
		u.AssociatedDate, u.UploadType, u.BelongsTo, u.HeldBy)
	return err
}

// UpdateUpload replaces the mutable fields of an upload, keeping id, uploader and upload_date.
// Returns pgx.ErrNoRows if the upload does not exist.
func (s *PostgresStore) UpdateUpload(ctx context.Context, u *Upload) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE uploads
		SET name = $2, description = $3, price = $4, last_modified_date = $5,
			associated_date = $6, upload_type = $7, belongs_to = $8, held_by = $9
		WHERE id = $1`,
		u.ID, u.Name, u.Description, u.Price, u.LastModifiedDate,
		u.AssociatedDate, u.UploadType, u.BelongsTo, u.HeldBy)
	if err != nil {
		return fmt.Errorf("updating upload: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// --- Files ---

// GetFile fetches a file row by id. Returns pgx.ErrNoRows if missing.
func (s *PostgresStore) GetFile(ctx context.Context, id uuid.UUID) (*File, error) {
	var f File
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, mime_type, size, sha3_256, storage_key, revision_at, upload_id,
			approval_uploader, approval_mod
		FROM files WHERE id = $1`, id).Scan(
		&f.ID, &f.Name, &f.MimeType, &f.Size, &f.SHA3_256, &f.StorageKey, &f.RevisionAt,
		&f.UploadID, &f.ApprovalUploader, &f.ApprovalMod)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// GetFileAccess returns the file's parent upload, its uploader and both approval flags in one query.
// Returns pgx.ErrNoRows if the file does not exist.
func (s *PostgresStore) GetFileAccess(ctx context.Context, fileID uuid.UUID) (*FileAccess, error) {
	var fa FileAccess
	err := s.pool.QueryRow(ctx, `
		SELECT f.id, f.upload_id, u.uploader, f.approval_uploader, f.approval_mod
		FROM files AS f
		INNER JOIN uploads AS u ON f.upload_id = u.id
		WHERE f.id = $1`, fileID).Scan(
		&fa.FileID, &fa.UploadID, &fa.Uploader, &fa.ApprovalUploader, &fa.ApprovalMod)
	if err != nil {
		return nil, err
	}
	return &fa, nil
}

// CreateFile inserts a file row for an existing upload.
func (s *PostgresStore) CreateFile(ctx context.Context, f *File) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO files (id, name, mime_type, size, sha3_256, storage_key, revision_at, upload_id,
			approval_uploader, approval_mod)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		f.ID, f.Name, f.MimeType, f.Size, f.SHA3_256, f.StorageKey, f.RevisionAt, f.UploadID,
		f.ApprovalUploader, f.ApprovalMod)
	return err
}

// SetFileApprovalUploader records the uploader's consent flag.
// Returns pgx.ErrNoRows if the file does not exist.
func (s *PostgresStore) SetFileApprovalUploader(ctx context.Context, fileID uuid.UUID, approved bool) error {
	return s.setFileFlag(ctx, "UPDATE files SET approval_uploader = $2, revision_at = $3 WHERE id = $1", fileID, approved)
}

// SetFileApprovalMod records the moderation sign-off flag.
// Returns pgx.ErrNoRows if the file does not exist.
func (s *PostgresStore) SetFileApprovalMod(ctx context.Context, fileID uuid.UUID, approved bool) error {
	return s.setFileFlag(ctx, "UPDATE files SET approval_mod = $2, revision_at = $3 WHERE id = $1", fileID, approved)
}

func (s *PostgresStore) setFileFlag(ctx context.Context, query string, fileID uuid.UUID, approved bool) error {
	tag, err := s.pool.Exec(ctx, query, fileID, approved, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("updating file approval: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
