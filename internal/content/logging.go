package content

import (
	"log/slog"
	"net/http"

	"github.com/egiraffe/egiraffe/internal/auth"
)

func logDebug(r *http.Request, msg string, args ...any) {
	slog.DebugContext(r.Context(), msg, append(auth.RequestAttrs(r), args...)...)
}

func logInfo(r *http.Request, msg string, args ...any) {
	slog.InfoContext(r.Context(), msg, append(auth.RequestAttrs(r), args...)...)
}

func logWarn(r *http.Request, msg string, args ...any) {
	slog.WarnContext(r.Context(), msg, append(auth.RequestAttrs(r), args...)...)
}

func logError(r *http.Request, msg string, args ...any) {
	slog.ErrorContext(r.Context(), msg, append(auth.RequestAttrs(r), args...)...)
}
