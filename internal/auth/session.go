// session.go

// Session token generation and cookie management.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/egiraffe/egiraffe/internal/config"
)

const tokenLen = 32

var errMalformedToken = errors.New("malformed session token")

// GenerateToken returns a 256-bit random token in textual (base64url) form
// together with the SHA-256 of its raw bytes. The text goes in the cookie; the hash goes in storage.
func GenerateToken() (string, [32]byte, error) {
	var raw [tokenLen]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", [32]byte{}, fmt.Errorf("generating token with rand: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), sha256.Sum256(raw[:]), nil
}

// HashToken decodes a textual token and returns its storage hash.
func HashToken(token string) ([32]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != tokenLen {
		return [32]byte{}, errMalformedToken
	}
	return sha256.Sum256(raw), nil
}

// cacheKey is the Redis key form of a token hash.
func cacheKey(hash [32]byte) string {
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// CookieConfig holds the session cookie attributes.
type CookieConfig struct {
	Name     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
	MaxAge   time.Duration
}

// CookieConfigFromConfig builds cookie attributes from the session config.
func CookieConfigFromConfig(c config.SessionConfig) (CookieConfig, error) {
	sameSite, err := c.SameSiteMode()
	if err != nil {
		return CookieConfig{}, err
	}
	return CookieConfig{
		Name:     c.CookieName,
		Domain:   c.CookieDomain,
		Secure:   c.CookieSecure,
		SameSite: sameSite,
		MaxAge:   c.CookieMaxAge,
	}, nil
}

// SetSessionCookie writes the session cookie with HttpOnly and the configured attributes.
func (c CookieConfig) SetSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    token,
		Path:     "/",
		Domain:   c.Domain,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
		MaxAge:   int(c.MaxAge.Seconds()),
	})
}

// ClearSessionCookie overwrites the cookie with an empty, immediately expiring value.
func (c CookieConfig) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    "",
		Path:     "/",
		Domain:   c.Domain,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
		MaxAge:   -1,
	})
}

// sessionToken returns the cookie value, or "" when absent.
func (c CookieConfig) sessionToken(r *http.Request) string {
	ck, err := r.Cookie(c.Name)
	if err != nil {
		return ""
	}
	return ck.Value
}
