package service

import (
	"crypto"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrHashUnavailable is returned by NewHasher when the runtime cannot provide
// SHA-256. It is a startup configuration fault, not a per-request failure.
var ErrHashUnavailable = errors.New("sha-256 digest unavailable")

// Hasher turns a raw API key into the digest the store indexes on. It is
// stateless and safe for concurrent use.
type Hasher struct{}

// NewHasher verifies the digest algorithm is available.
func NewHasher() (Hasher, error) {
	if !crypto.SHA256.Available() {
		return Hasher{}, ErrHashUnavailable
	}
	return Hasher{}, nil
}

// Hash returns the lower-case hex SHA-256 digest of raw. The input is hashed
// exactly as given; callers trim it first.
func (Hasher) Hash(raw string) string {
	return HashAPIKey(raw)
}

// HashAPIKey returns the hex-encoded SHA-256 hash of a raw API key string.
func HashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}
