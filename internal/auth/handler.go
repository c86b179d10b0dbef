// handler.go -- HTTP handlers for /api/v1/auth/* and /api/v1/get/me.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/egiraffe/egiraffe/internal/store"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Store defines user operations needed by auth handlers.
// Satisfied by *store.PostgresStore -- defined here (at consumer) per Go convention.
type Store interface {
	// CreateUser inserts a new user. Returns a 23505 PgError on duplicate email.
	CreateUser(ctx context.Context, u *store.User) error

	// GetUserByEmail fetches a user by case-insensitive email for login.
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)

	// GetUserByID fetches a user by id. Returns pgx.ErrNoRows if absent.
	GetUserByID(ctx context.Context, id uuid.UUID) (*store.User, error)

	// UpdateUserPassword replaces the stored hash.
	UpdateUserPassword(ctx context.Context, id uuid.UUID, passwordHash string) error
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// AuthHandler holds dependencies for the auth HTTP handlers and the gate.
type AuthHandler struct {
	PS       Store
	Sessions *SessionManager
	Hasher   *Hasher
	Cookie   CookieConfig
}

type loginResponse struct {
	Success bool   `json:"success"`
	Email   string `json:"email"`
}

// Login handles PUT /auth/login -- email + password authentication.
// Any failure is 400 {success:false,email} with no cookie; the reason is logged only.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string  `json:"email"`
		Password string  `json:"password"`
		TOTP     *string `json:"totp"` // accepted, no second factor is configured
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		logWarn(r, "failed to decode login input", "error", err)
		loginFailed(w, r, "", "bad_request")
		return
	}
	email := strings.TrimSpace(in.Email)

	user, err := h.PS.GetUserByEmail(r.Context(), email)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			InternalServerError(w, r, err)
			return
		}
		// Same KDF cost as the known-user branch.
		h.Hasher.Verify(in.Password, h.Hasher.Decoy())
		loginFailed(w, r, email, "unknown_email")
		return
	}

	ok, err := h.Hasher.Verify(in.Password, user.PasswordHash)
	if err != nil {
		logError(r, "stored password hash unusable", "user_id", user.ID, "error", err)
		// Parsing failed before any KDF work; pay it now so the account doesn't stand out.
		h.Hasher.Verify(in.Password, h.Hasher.Decoy())
		loginFailed(w, r, email, "malformed_hash")
		return
	}
	if !ok {
		loginFailed(w, r, email, "wrong_password")
		return
	}

	token, err := h.Sessions.Create(r.Context(), user.ID)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	h.Cookie.SetSessionCookie(w, token)
	loginAttempts.WithLabelValues("success").Inc()
	logInfo(r, "user logged in", "user_id", user.ID)
	WriteJSON(w, http.StatusOK, loginResponse{Success: true, Email: user.Email})
}

func loginFailed(w http.ResponseWriter, r *http.Request, email, reason string) {
	loginAttempts.WithLabelValues(reason).Inc()
	logInfo(r, "login failed", "reason", reason)
	WriteJSON(w, http.StatusBadRequest, loginResponse{Success: false, Email: email})
}

// Logout handles PUT /auth/logout. Always answers with a dead cookie;
// a missing or unknown session is already logged out.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := h.Cookie.sessionToken(r)
	h.Cookie.ClearSessionCookie(w)

	if token != "" {
		if err := h.Sessions.Revoke(r.Context(), token); err != nil {
			InternalServerError(w, r, err)
			return
		}
	}
	logInfo(r, "user logged out")
	OK(w)
}

// LogoutAll handles PUT /auth/logout-all -- ends every session of the caller.
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok || id.Anonymous() {
		Unauthorized(w)
		return
	}
	if err := h.Sessions.RevokeAll(r.Context(), id.UserID); err != nil {
		InternalServerError(w, r, err)
		return
	}
	h.Cookie.ClearSessionCookie(w)
	logInfo(r, "user logged out of all devices", "user_id", id.UserID)
	OK(w)
}

// Register handles PUT /auth/register. New accounts are regular users.
// A duplicate email is 400 {success:false} like any other rejected input.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var in struct {
		FirstNames string `json:"first_names" validate:"required,max=200"`
		LastName   string `json:"last_name" validate:"required,max=200"`
		Email      string `json:"email"`
		Password   string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		logWarn(r, "failed to decode register input", "error", err)
		BadRequest(w, "error decoding request body")
		return
	}
	in.Email = strings.TrimSpace(in.Email)

	if err := validate.Struct(in); err != nil {
		BadRequest(w, "first_names and last_name are required")
		return
	}
	if msg := ValidateEmail(in.Email); msg != "" {
		BadRequest(w, msg)
		return
	}
	if msg := ValidatePassword(in.Password); msg != "" {
		BadRequest(w, msg)
		return
	}

	hash, err := h.Hasher.Hash(in.Password)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	userID, err := uuid.NewV7()
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	err = h.PS.CreateUser(r.Context(), &store.User{
		ID:           userID,
		Email:        in.Email,
		FirstNames:   &in.FirstNames,
		LastName:     &in.LastName,
		PasswordHash: hash,
		Role:         int16(LevelRegularUser),
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			logInfo(r, "registration attempted with existing email")
			BadRequest(w, "registration failed")
			return
		}
		InternalServerError(w, r, err)
		return
	}

	logInfo(r, "user registered", "user_id", userID)
	OK(w)
}

// PasswordChange handles PUT /auth/password for the authenticated caller.
// Verifies the current password, stores the new hash, then ends every session.
func (h *AuthHandler) PasswordChange(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok || id.Anonymous() {
		Unauthorized(w)
		return
	}

	var in struct {
		CurrentPassword string `json:"current_password" validate:"required"`
		NewPassword     string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		BadRequest(w, "error decoding request body")
		return
	}
	if err := validate.Struct(in); err != nil {
		BadRequest(w, "current_password required")
		return
	}
	if msg := ValidatePassword(in.NewPassword); msg != "" {
		BadRequest(w, msg)
		return
	}

	user, err := h.PS.GetUserByID(r.Context(), id.UserID)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	match, err := h.Hasher.Verify(in.CurrentPassword, user.PasswordHash)
	if err != nil {
		logError(r, "stored password hash unusable", "user_id", user.ID, "error", err)
	}
	if !match {
		Unauthorized(w)
		return
	}

	hash, err := h.Hasher.Hash(in.NewPassword)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	if err := h.PS.UpdateUserPassword(r.Context(), user.ID, hash); err != nil {
		InternalServerError(w, r, err)
		return
	}
	if err := h.Sessions.RevokeAll(r.Context(), user.ID); err != nil {
		InternalServerError(w, r, err)
		return
	}

	h.Cookie.ClearSessionCookie(w)
	logInfo(r, "user changed password", "user_id", user.ID)
	OK(w)
}

type meResponse struct {
	Success    bool      `json:"success"`
	ID         uuid.UUID `json:"id"`
	Email      string    `json:"email"`
	FirstNames *string   `json:"first_names"`
	LastName   *string   `json:"last_name"`
	Nick       *string   `json:"nick"`
	Level      string    `json:"level"`
}

// Me handles GET /get/me. Mounted behind the anonymous gate; anonymous callers get 401.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok || id.Anonymous() {
		Unauthorized(w)
		return
	}
	user, err := h.PS.GetUserByID(r.Context(), id.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			Unauthorized(w)
			return
		}
		InternalServerError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, meResponse{
		Success:    true,
		ID:         user.ID,
		Email:      user.Email,
		FirstNames: user.FirstNames,
		LastName:   user.LastName,
		Nick:       user.Nick,
		Level:      id.Level.String(),
	})
}
