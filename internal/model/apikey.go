package model

import "time"

// APIKey is the persisted record of an issued API key. The raw key is never
// stored; only its SHA-256 digest and a short prefix for identification are
// persisted.
type APIKey struct {
	ID        string     `json:"id" db:"id"`
	UserID    string     `json:"user_id" db:"user_id"`
	KeyHash   string     `json:"-" db:"key_hash"`            // SHA-256 hex digest, never expose
	KeyPrefix string     `json:"key_prefix" db:"key_prefix"` // First 12 chars for identification
	Label     string     `json:"label,omitempty" db:"label"`
	Revoked   bool       `json:"revoked" db:"revoked"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	LastUsed  *time.Time `json:"last_used,omitempty" db:"last_used"`
}

// Active reports whether the key may still be used to authenticate.
func (k *APIKey) Active() bool {
	return k != nil && !k.Revoked
}
