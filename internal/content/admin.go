package content

import (
	"errors"
	"net/http"

	"github.com/egiraffe/egiraffe/internal/auth"
	"github.com/jackc/pgx/v5"
)

// SetRole handles PUT /admin/users/{userID}/role {role}.
// The user's cached sessions are dropped so the new level applies on their next request.
func (h *Handler) SetRole(w http.ResponseWriter, r *http.Request) {
	admin, ok := caller(w, r)
	if !ok {
		return
	}
	userID, ok := urlID(r, "userID")
	if !ok {
		auth.BadRequest(w, "invalid user id")
		return
	}
	var in struct {
		Role int16 `json:"role" validate:"required"`
	}
	if !decode(w, r, &in) {
		return
	}
	level, err := auth.ParseLevel(in.Role)
	if err != nil {
		auth.BadRequest(w, "invalid role")
		return
	}

	if err := h.PS.UpdateUserRole(r.Context(), userID, int16(level)); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			auth.NotFound(w)
			return
		}
		auth.InternalServerError(w, r, err)
		return
	}
	if err := h.Sessions.InvalidateUser(r.Context(), userID); err != nil {
		// Role is stored, but cached sessions would keep the old level until TTL.
		auth.InternalServerError(w, r, err)
		return
	}

	logInfo(r, "user role changed", "admin_id", admin.UserID, "user_id", userID, "level", level.String())
	auth.OK(w)
}
