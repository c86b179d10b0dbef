// uploads.go -- Upload metadata, file content and approval flags.
package content

import (
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/egiraffe/egiraffe/internal/auth"
	"github.com/egiraffe/egiraffe/internal/entitlement"
	"github.com/egiraffe/egiraffe/internal/store"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/sha3"
)

type uploadInput struct {
	ID             *uuid.UUID `json:"id"`
	Name           string     `json:"name" validate:"required,max=200"`
	Description    string     `json:"description" validate:"max=10000"`
	Price          int16      `json:"price" validate:"gte=0,lte=10000"`
	UploadType     string     `json:"upload_type" validate:"max=50"`
	BelongsTo      uuid.UUID  `json:"belongs_to"`
	HeldBy         *uuid.UUID `json:"held_by"`
	AssociatedDate *time.Time `json:"associated_date"`
}

type uploadResponse struct {
	Success bool          `json:"success"`
	Upload  *store.Upload `json:"upload"`
}

// SaveUpload handles PUT /action/uploads. Without an id it creates an upload
// owned by the caller; with an id it modifies one the caller owns.
func (h *Handler) SaveUpload(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	var in uploadInput
	if !decode(w, r, &in) {
		return
	}

	if in.ID == nil {
		h.createUpload(w, r, id, &in)
		return
	}

	d, err := h.Entitlement.CanModify(r.Context(), id.UserID, *in.ID)
	if err != nil {
		auth.InternalServerError(w, r, err)
		return
	}
	if !d.Granted {
		denyModify(w, r, id, d)
		return
	}
	h.updateUpload(w, r, &in)
}

// ModSaveUpload handles PUT /mod/uploads -- moderators edit any existing upload.
func (h *Handler) ModSaveUpload(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	var in uploadInput
	if !decode(w, r, &in) {
		return
	}
	if in.ID == nil {
		auth.BadRequest(w, "id required")
		return
	}
	logInfo(r, "moderator editing upload", "moderator_id", id.UserID, "upload_id", *in.ID)
	h.updateUpload(w, r, &in)
}

func (h *Handler) createUpload(w http.ResponseWriter, r *http.Request, id auth.Identity, in *uploadInput) {
	if in.BelongsTo == uuid.Nil {
		auth.BadRequest(w, "belongs_to required")
		return
	}
	uploadID, err := uuid.NewV7()
	if err != nil {
		auth.InternalServerError(w, r, err)
		return
	}
	now := time.Now().UTC()
	u := &store.Upload{
		ID:               uploadID,
		Name:             in.Name,
		Description:      in.Description,
		Price:            in.Price,
		Uploader:         id.UserID,
		UploadDate:       now,
		LastModifiedDate: now,
		AssociatedDate:   in.AssociatedDate,
		UploadType:       in.UploadType,
		BelongsTo:        in.BelongsTo,
		HeldBy:           in.HeldBy,
	}
	if u.UploadType == "" {
		u.UploadType = "unknown"
	}

	if err := h.PS.CreateUpload(r.Context(), u); err != nil {
		if isForeignKeyViolation(err) {
			auth.BadRequest(w, "unknown course")
			return
		}
		auth.InternalServerError(w, r, err)
		return
	}
	logInfo(r, "upload created", "user_id", id.UserID, "upload_id", u.ID)
	auth.WriteJSON(w, http.StatusOK, uploadResponse{Success: true, Upload: u})
}

// updateUpload overwrites the mutable fields. An empty belongs_to or
// upload_type keeps the stored value.
func (h *Handler) updateUpload(w http.ResponseWriter, r *http.Request, in *uploadInput) {
	u, err := h.PS.GetUpload(r.Context(), *in.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			auth.NotFound(w)
			return
		}
		auth.InternalServerError(w, r, err)
		return
	}

	u.Name = in.Name
	u.Description = in.Description
	u.Price = in.Price
	u.AssociatedDate = in.AssociatedDate
	u.HeldBy = in.HeldBy
	u.LastModifiedDate = time.Now().UTC()
	if in.UploadType != "" {
		u.UploadType = in.UploadType
	}
	if in.BelongsTo != uuid.Nil {
		u.BelongsTo = in.BelongsTo
	}

	if err := h.PS.UpdateUpload(r.Context(), u); err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			auth.NotFound(w)
		case isForeignKeyViolation(err):
			auth.BadRequest(w, "unknown course")
		default:
			auth.InternalServerError(w, r, err)
		}
		return
	}
	logInfo(r, "upload modified", "upload_id", u.ID)
	auth.WriteJSON(w, http.StatusOK, uploadResponse{Success: true, Upload: u})
}

func denyModify(w http.ResponseWriter, r *http.Request, id auth.Identity, d entitlement.Decision) {
	if d.Reason == entitlement.ReasonNotFound {
		auth.NotFound(w)
		return
	}
	logInfo(r, "modification denied", "user_id", id.UserID, "reason", string(d.Reason))
	auth.Forbidden(w)
}

type fileResponse struct {
	Success bool        `json:"success"`
	File    *store.File `json:"file"`
}

// UploadFile handles POST /action/uploads/{uploadID}/files.
// Takes a multipart "file" part, stores it in the blob store and records its
// SHA3-256 digest. The uploader's consent is implied; moderation is not.
func (h *Handler) UploadFile(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	uploadID, ok := urlID(r, "uploadID")
	if !ok {
		auth.NotFound(w)
		return
	}

	d, err := h.Entitlement.CanModify(r.Context(), id.UserID, uploadID)
	if err != nil {
		auth.InternalServerError(w, r, err)
		return
	}
	if !d.Granted {
		denyModify(w, r, id, d)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			auth.Fail(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		auth.BadRequest(w, "invalid multipart body")
		return
	}
	defer r.MultipartForm.RemoveAll()

	part, hdr, err := r.FormFile("file")
	if err != nil {
		auth.BadRequest(w, "file part required")
		return
	}
	defer part.Close()

	fileID, err := uuid.NewV7()
	if err != nil {
		auth.InternalServerError(w, r, err)
		return
	}
	mimeType := hdr.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	key := "files/" + fileID.String()

	// Digest in its own pass so Put gets the seekable part; the S3 client
	// needs to rewind unsigned-over-HTTP bodies.
	digest := sha3.New256()
	if _, err := io.Copy(digest, part); err != nil {
		auth.InternalServerError(w, r, err)
		return
	}
	if _, err := part.Seek(0, io.SeekStart); err != nil {
		auth.InternalServerError(w, r, err)
		return
	}
	if err := h.Blobs.Put(r.Context(), key, part, hdr.Size, mimeType); err != nil {
		auth.InternalServerError(w, r, err)
		return
	}
	uploadedBytes.Add(float64(hdr.Size))

	f := &store.File{
		ID:               fileID,
		Name:             filepath.Base(hdr.Filename),
		MimeType:         mimeType,
		Size:             hdr.Size,
		SHA3_256:         hex.EncodeToString(digest.Sum(nil)),
		StorageKey:       key,
		RevisionAt:       time.Now().UTC(),
		UploadID:         uploadID,
		ApprovalUploader: true,
	}
	if err := h.PS.CreateFile(r.Context(), f); err != nil {
		// The blob stays behind without a row; nothing can reach it.
		auth.InternalServerError(w, r, err)
		return
	}
	logInfo(r, "file uploaded", "user_id", id.UserID, "upload_id", uploadID, "file_id", fileID, "size", hdr.Size)
	auth.WriteJSON(w, http.StatusOK, fileResponse{Success: true, File: f})
}

// ApproveFile handles PUT /action/files/{fileID}/approval {approved} -- the
// uploader's consent flag.
func (h *Handler) ApproveFile(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	fileID, ok := urlID(r, "fileID")
	if !ok {
		auth.NotFound(w)
		return
	}
	var in struct {
		Approved *bool `json:"approved" validate:"required"`
	}
	if !decode(w, r, &in) {
		return
	}

	f, err := h.PS.GetFile(r.Context(), fileID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			auth.NotFound(w)
			return
		}
		auth.InternalServerError(w, r, err)
		return
	}
	d, err := h.Entitlement.CanModify(r.Context(), id.UserID, f.UploadID)
	if err != nil {
		auth.InternalServerError(w, r, err)
		return
	}
	if !d.Granted {
		denyModify(w, r, id, d)
		return
	}

	if err := h.PS.SetFileApprovalUploader(r.Context(), fileID, *in.Approved); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			auth.NotFound(w)
			return
		}
		auth.InternalServerError(w, r, err)
		return
	}
	logInfo(r, "uploader approval set", "user_id", id.UserID, "file_id", fileID, "approved", *in.Approved)
	auth.OK(w)
}

// ModApproveFile handles PUT /mod/files/{fileID} {approval_mod}.
func (h *Handler) ModApproveFile(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	fileID, ok := urlID(r, "fileID")
	if !ok {
		auth.NotFound(w)
		return
	}
	var in struct {
		ApprovalMod *bool `json:"approval_mod" validate:"required"`
	}
	if !decode(w, r, &in) {
		return
	}

	if err := h.PS.SetFileApprovalMod(r.Context(), fileID, *in.ApprovalMod); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			auth.NotFound(w)
			return
		}
		auth.InternalServerError(w, r, err)
		return
	}
	logInfo(r, "moderator approval set", "moderator_id", id.UserID, "file_id", fileID, "approved", *in.ApprovalMod)
	auth.OK(w)
}
