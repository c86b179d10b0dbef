// password.go

// Argon2id password hashing and verification.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	netmail "net/mail"
	"strings"
	"unicode/utf8"

	"github.com/egiraffe/egiraffe/internal/config"
	"golang.org/x/crypto/argon2"
)

// ErrMalformedHash marks a stored hash that cannot be parsed.
// This is a data problem, not a wrong password.
var ErrMalformedHash = errors.New("malformed password hash")

// idKey is the KDF; tests swap it to count derivations.
var idKey = argon2.IDKey

// maxMemoryKiB bounds the memory cost accepted from a stored hash (4 GiB).
const maxMemoryKiB = 4 << 20

// Params are the argon2id cost parameters for newly produced hashes.
type Params struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
	SaltLen   uint32
	KeyLen    uint32
}

// ParamsFromConfig copies the hash section of the config.
func ParamsFromConfig(c config.HashConfig) Params {
	return Params{
		Time:      c.Time,
		MemoryKiB: c.MemoryKiB,
		Threads:   c.Threads,
		SaltLen:   c.SaltLen,
		KeyLen:    c.KeyLen,
	}
}

// Hasher produces and checks PHC-formatted argon2id hashes.
// Safe for concurrent use.
type Hasher struct {
	params Params
	decoy  string
}

// NewHasher returns a Hasher for p and precomputes its decoy hash.
func NewHasher(p Params) (*Hasher, error) {
	if p.Time == 0 || p.MemoryKiB == 0 || p.Threads == 0 || p.SaltLen == 0 || p.KeyLen == 0 {
		return nil, errors.New("argon2 parameters must be non-zero")
	}
	h := &Hasher{params: p}
	decoy, err := h.Hash("decoy password for unknown accounts")
	if err != nil {
		return nil, err
	}
	h.decoy = decoy
	return h, nil
}

// Hash returns $argon2id$v=19$m=<mem>,t=<time>,p=<threads>$<salt>$<hash>.
func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	key := idKey([]byte(password), salt, h.params.Time, h.params.MemoryKiB, h.params.Threads, h.params.KeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.MemoryKiB, h.params.Time, h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify checks password against encoded using the parameters stored in encoded,
// so hashes made before a parameter change keep working.
// A mismatch is (false, nil); an unparseable hash wraps ErrMalformedHash.
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return false, fmt.Errorf("%w: expected 6 fields", ErrMalformedHash)
	}
	if parts[1] != "argon2id" {
		return false, fmt.Errorf("%w: unsupported algorithm %q", ErrMalformedHash, parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false, fmt.Errorf("%w: bad version field", ErrMalformedHash)
	}

	var memory, time uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false, fmt.Errorf("%w: parsing params: %v", ErrMalformedHash, err)
	}
	if time == 0 || threads == 0 || memory == 0 || memory > maxMemoryKiB {
		return false, fmt.Errorf("%w: params out of range", ErrMalformedHash)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("%w: decoding salt: %v", ErrMalformedHash, err)
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 {
		return false, fmt.Errorf("%w: decoding key", ErrMalformedHash)
	}

	got := idKey([]byte(password), salt, time, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// Decoy returns a valid hash of an unguessable password, made with the live
// parameters. Login verifies against it when the email is unknown.
func (h *Hasher) Decoy() string {
	return h.decoy
}

// ValidateEmail checks format and length constraints; returns error message or empty string.
// RFC 5321: min ~5 chars (a@b.c), max 254.
func ValidateEmail(email string) string {
	switch {
	case email == "":
		return "No email provided"
	case len(email) < 5:
		return "Email too short!"
	case len(email) > 254:
		return "Email too long!"
	}
	if _, err := netmail.ParseAddress(email); err != nil {
		return "Invalid email format"
	}
	return ""
}

// ValidatePassword: min 8 runes, max 128 bytes (bounds KDF input).
func ValidatePassword(password string) string {
	switch {
	case password == "":
		return "No password provided!"
	case utf8.RuneCountInString(password) < 8:
		return "Password too short!"
	case len(password) > 128:
		return "Password too long!"
	}
	return ""
}
