// download.go -- GET /files/{fileID}/download
package content

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/egiraffe/egiraffe/internal/auth"
	"github.com/egiraffe/egiraffe/internal/blob"
	"github.com/jackc/pgx/v5"
)

// Download streams a file the caller is entitled to read. Every denial,
// including an unknown or malformed file id, is the same 401.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	fileID, ok := urlID(r, "fileID")
	if !ok {
		downloads.WithLabelValues("denied").Inc()
		auth.Unauthorized(w)
		return
	}

	d, err := h.Entitlement.CanRead(r.Context(), id.UserID, fileID)
	if err != nil {
		downloads.WithLabelValues("error").Inc()
		auth.InternalServerError(w, r, err)
		return
	}
	if !d.Granted {
		downloads.WithLabelValues("denied").Inc()
		logInfo(r, "download denied", "user_id", id.UserID, "file_id", fileID, "reason", string(d.Reason))
		auth.Unauthorized(w)
		return
	}

	f, err := h.PS.GetFile(r.Context(), fileID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			downloads.WithLabelValues("denied").Inc()
			auth.Unauthorized(w)
			return
		}
		downloads.WithLabelValues("error").Inc()
		auth.InternalServerError(w, r, err)
		return
	}

	rc, err := h.Blobs.Open(r.Context(), f.StorageKey)
	if errors.Is(err, blob.ErrNotFound) {
		// The row outlived its content; nothing the caller can fix.
		downloads.WithLabelValues("missing").Inc()
		logError(r, "file content missing from blob store", "file_id", fileID, "storage_key", f.StorageKey)
		auth.Fail(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if err != nil {
		downloads.WithLabelValues("error").Inc()
		auth.InternalServerError(w, r, err)
		return
	}
	defer rc.Close()

	mimeType := f.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Disposition", contentDisposition(f.Name))
	w.Header().Set("Content-Length", strconv.FormatInt(f.Size, 10))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(w, rc)
	if err != nil {
		// Status already sent.
		logWarn(r, "download interrupted", "file_id", fileID, "written", n, "error", err)
		downloads.WithLabelValues("interrupted").Inc()
		return
	}
	downloads.WithLabelValues("ok").Inc()
	logDebug(r, "file downloaded", "user_id", id.UserID, "file_id", fileID, "reason", string(d.Reason))
}

// contentDisposition builds an attachment header with a quoted ASCII
// filename, adding an RFC 5987 filename* when the name is not plain ASCII.
func contentDisposition(name string) string {
	var b strings.Builder
	ascii := true
	for _, c := range name {
		switch {
		case c == '"' || c == '\\' || c < 0x20 || c == 0x7f:
			b.WriteByte('_')
		case c > 0x7f:
			ascii = false
			b.WriteByte('_')
		default:
			b.WriteRune(c)
		}
	}
	fallback := b.String()
	if fallback == "" {
		fallback = "download"
	}
	v := `attachment; filename="` + fallback + `"`
	if !ascii {
		v += "; filename*=UTF-8''" + url.PathEscape(name)
	}
	return v
}
