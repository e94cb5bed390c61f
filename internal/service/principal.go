package service

import (
	"log/slog"

	"github.com/leetstack/keygate/internal/model"
)

// RoleUser is the single authority granted to API-key principals.
const RoleUser = "ROLE_USER"

// Principal is an authenticated identity: the key owner plus the key record
// that proved it. It is immutable; getters hand out copies. Only this
// package can construct a non-zero Principal.
type Principal struct {
	user   model.User
	apiKey model.APIKey
}

func newPrincipal(user *model.User, key *model.APIKey) Principal {
	return Principal{user: *user, apiKey: copyKey(*key)}
}

// User returns a copy of the authenticated user.
func (p Principal) User() model.User { return p.user }

// APIKey returns a copy of the key record that authenticated the user.
func (p Principal) APIKey() model.APIKey { return copyKey(p.apiKey) }

// UserID is shorthand for User().ID.
func (p Principal) UserID() string { return p.user.ID }

// Username is the user's username, or the email when no username is set.
func (p Principal) Username() string { return p.user.DisplayName() }

// Authorities returns the authorities granted to the principal.
func (p Principal) Authorities() []string { return []string{RoleUser} }

// IsZero reports whether p is the zero Principal.
func (p Principal) IsZero() bool { return p.user.ID == "" }

// LogValue exposes identifiers only.
func (p Principal) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("user_id", p.user.ID),
		slog.String("key_id", p.apiKey.ID),
	)
}

func copyKey(k model.APIKey) model.APIKey {
	if k.LastUsed != nil {
		t := *k.LastUsed
		k.LastUsed = &t
	}
	return k
}
