// responses.go -- HTTP response helpers shared by the API packages.
//
// Every body carries "success". Failure messages are fixed strings; no
// internal error detail reaches the client.
package auth

import (
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"
)

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response body", "error", err)
	}
}

type failure struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Fail writes {success:false,message} with the given status.
func Fail(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, failure{Message: message})
}

// InternalServerError logs the error and returns a generic 500.
func InternalServerError(w http.ResponseWriter, r *http.Request, err error) {
	logError(r, "internal server error", "error", err)
	Fail(w, http.StatusInternalServerError, "internal server error")
}

// BadRequest returns 400 with the given message.
func BadRequest(w http.ResponseWriter, message string) {
	Fail(w, http.StatusBadRequest, message)
}

// Unauthorized returns the generic 401 used for every gate and entitlement denial.
func Unauthorized(w http.ResponseWriter) {
	Fail(w, http.StatusUnauthorized, "Unauthorized")
}

// Forbidden returns a generic 403.
func Forbidden(w http.ResponseWriter) {
	Fail(w, http.StatusForbidden, "Forbidden")
}

// NotFound returns a generic 404.
func NotFound(w http.ResponseWriter) {
	Fail(w, http.StatusNotFound, "not found")
}

// OK returns 200 {success:true}.
func OK(w http.ResponseWriter) {
	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}
