// logging.go -- Request-scoped logging helpers.
//
// Wraps slog with the request id and client details so handlers don't
// repeat these fields on every call.
package auth

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// RequestAttrs returns standard request-scoped attributes for logging.
func RequestAttrs(r *http.Request) []any {
	return []any{
		"request_id", middleware.GetReqID(r.Context()),
		"ip", r.RemoteAddr,
		"user_agent", r.UserAgent(),
		"method", r.Method,
		"path", r.URL.Path,
	}
}

func logDebug(r *http.Request, msg string, args ...any) {
	slog.DebugContext(r.Context(), msg, append(RequestAttrs(r), args...)...)
}

func logInfo(r *http.Request, msg string, args ...any) {
	slog.InfoContext(r.Context(), msg, append(RequestAttrs(r), args...)...)
}

func logWarn(r *http.Request, msg string, args ...any) {
	slog.WarnContext(r.Context(), msg, append(RequestAttrs(r), args...)...)
}

func logError(r *http.Request, msg string, args ...any) {
	slog.ErrorContext(r.Context(), msg, append(RequestAttrs(r), args...)...)
}
