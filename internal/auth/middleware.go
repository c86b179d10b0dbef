// middleware.go

// Authorization gate: resolves the session cookie and enforces a minimum level.
package auth

import (
	"context"
	"net/http"

	"github.com/gofrs/uuid/v5"
)

// contextKey is unexported to prevent collisions with other packages using the same context.
type contextKey string

const identityKey contextKey = "identity"

// Identity is the resolved caller attached to the request context by Gate.
// Anonymous callers have UserID == uuid.Nil and Level == LevelAnonymous.
type Identity struct {
	UserID uuid.UUID
	Level  Level
	Token  string
}

// Anonymous reports whether no authenticated user is attached.
func (id Identity) Anonymous() bool {
	return id.Level == LevelAnonymous
}

// IdentityFromContext returns the identity set by Gate.
// Returns false if no Gate ran for this request.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// WithIdentity returns ctx carrying id. Used by Gate and by tests.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// Gate returns middleware admitting requests whose session level is at least required.
// Anonymous gates never reject: a missing or invalid cookie degrades to the anonymous identity.
// Rejections are 401 with a generic body.
func (h *AuthHandler) Gate(required Level) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			anon := Identity{UserID: uuid.Nil, Level: LevelAnonymous}

			token := h.Cookie.sessionToken(r)
			if token == "" {
				if required == LevelAnonymous {
					gateDecision(r, required, anon.Level, "allow", "no_cookie")
					next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), anon)))
					return
				}
				gateDecision(r, required, anon.Level, "deny", "missing_session_cookie")
				Unauthorized(w)
				return
			}

			v := h.Sessions.Validate(r.Context(), token)
			if !v.Valid {
				if required == LevelAnonymous {
					gateDecision(r, required, anon.Level, "allow", "invalid_session")
					next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), anon)))
					return
				}
				gateDecision(r, required, anon.Level, "deny", "invalid_session")
				Unauthorized(w)
				return
			}

			if !v.Level.Satisfies(required) {
				gateDecision(r, required, v.Level, "deny", "insufficient_level", "user_id", v.UserID)
				Unauthorized(w)
				return
			}

			gateDecision(r, required, v.Level, "allow", "authenticated", "user_id", v.UserID)
			id := Identity{UserID: v.UserID, Level: v.Level, Token: token}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// gateDecision logs and counts one gate outcome. The token itself is never logged.
func gateDecision(r *http.Request, required, user Level, outcome, reason string, args ...any) {
	gateDecisions.WithLabelValues(required.String(), outcome).Inc()
	attrs := append([]any{
		"required_level", required.String(),
		"user_level", user.String(),
		"outcome", outcome,
		"reason", reason,
	}, args...)
	if outcome == "deny" {
		logWarn(r, "authorization gate rejected request", attrs...)
		return
	}
	logDebug(r, "authorization gate admitted request", attrs...)
}
