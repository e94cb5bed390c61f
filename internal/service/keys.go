package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/leetstack/keygate/internal/config"
	"github.com/leetstack/keygate/internal/model"
)

const (
	// KeyPrefix starts every raw key keygate issues.
	KeyPrefix = "lsk_"
	// keyPrefixLen is how much of the raw key is stored for identification:
	// KeyPrefix plus 8 hex chars.
	keyPrefixLen = len(KeyPrefix) + 8
)

// ErrUserNotFound is returned when issuing a key for an unknown user.
var ErrUserNotFound = errors.New("user not found")

// IssuedKey is a freshly created key. RawKey is only ever available here.
type IssuedKey struct {
	RawKey string
	Key    model.APIKey
}

// KeyManager issues and revokes API keys.
type KeyManager struct {
	store    KeyStore
	hasher   Hasher
	randRead func([]byte) (int, error)
}

// NewKeyManager creates a KeyManager over store.
func NewKeyManager(store KeyStore, hasher Hasher) *KeyManager {
	return &KeyManager{store: store, hasher: hasher, randRead: rand.Read}
}

// Issue creates a key for userID. Only the digest and a short prefix are
// persisted. A digest collision with an active key is retried once.
func (m *KeyManager) Issue(ctx context.Context, userID, label string) (*IssuedKey, error) {
	if _, err := m.store.GetUser(ctx, userID); err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		raw, err := m.generate()
		if err != nil {
			return nil, err
		}
		key := &model.APIKey{
			UserID:    userID,
			KeyHash:   m.hasher.Hash(raw),
			KeyPrefix: raw[:keyPrefixLen],
			Label:     strings.TrimSpace(label),
		}
		err = m.store.CreateAPIKey(ctx, key)
		if err == nil {
			return &IssuedKey{RawKey: raw, Key: *key}, nil
		}
		if !errors.Is(err, config.ErrDuplicate) {
			return nil, fmt.Errorf("create api key: %w", err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("create api key: %w", lastErr)
}

// Revoke revokes one key by ID.
func (m *KeyManager) Revoke(ctx context.Context, keyID string) error {
	if err := m.store.RevokeAPIKey(ctx, keyID); err != nil {
		return fmt.Errorf("revoke api key %s: %w", keyID, err)
	}
	return nil
}

// RevokeByPrefix revokes the active keys whose stored prefix matches.
func (m *KeyManager) RevokeByPrefix(ctx context.Context, prefix string) error {
	if err := m.store.RevokeAPIKeyByPrefix(ctx, prefix); err != nil {
		return fmt.Errorf("revoke api key %s: %w", prefix, err)
	}
	return nil
}

// Rotate deletes every key the user has and issues a single new one. It
// returns the new key and how many old keys were removed.
func (m *KeyManager) Rotate(ctx context.Context, userID, label string) (*IssuedKey, int64, error) {
	if _, err := m.store.GetUser(ctx, userID); err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return nil, 0, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}
		return nil, 0, fmt.Errorf("load user: %w", err)
	}
	n, err := m.store.DeleteAPIKeysForUser(ctx, userID)
	if err != nil {
		return nil, 0, fmt.Errorf("delete api keys: %w", err)
	}
	issued, err := m.Issue(ctx, userID, label)
	if err != nil {
		return nil, n, err
	}
	return issued, n, nil
}

// List returns the keys of one user, or of every user when userID is empty.
func (m *KeyManager) List(ctx context.Context, userID string) ([]model.APIKey, error) {
	return m.store.ListAPIKeys(ctx, userID)
}

func (m *KeyManager) generate() (string, error) {
	b := make([]byte, 32)
	if _, err := m.randRead(b); err != nil {
		return "", fmt.Errorf("generate random key: %w", err)
	}
	return KeyPrefix + hex.EncodeToString(b), nil
}
