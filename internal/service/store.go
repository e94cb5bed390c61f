package service

import (
	"context"
	"time"

	"github.com/leetstack/keygate/internal/model"
)

// CredentialStore is the read side of the API-key store the authenticators
// depend on. *config.Store satisfies it. Implementations return
// config.ErrNotFound for absent rows.
type CredentialStore interface {
	FindActiveAPIKeyByHash(ctx context.Context, hash string) (*model.APIKey, error)
	GetActiveAPIKey(ctx context.Context, id string) (*model.APIKey, error)
	TouchAPIKeyLastUsed(ctx context.Context, id string) error
	GetUser(ctx context.Context, id string) (*model.User, error)
}

// KeyStore adds the write operations used by KeyManager.
type KeyStore interface {
	CredentialStore
	CreateAPIKey(ctx context.Context, key *model.APIKey) error
	ListAPIKeys(ctx context.Context, userID string) ([]model.APIKey, error)
	RevokeAPIKey(ctx context.Context, id string) error
	RevokeAPIKeyByPrefix(ctx context.Context, prefix string) error
	DeleteAPIKeysForUser(ctx context.Context, userID string) (int64, error)
}

// Observer receives authentication events. telemetry.Metrics implements it.
type Observer interface {
	ObserveAuth(method, outcome string, d time.Duration)
	TouchFailed()
}

type nopObserver struct{}

func (nopObserver) ObserveAuth(string, string, time.Duration) {}
func (nopObserver) TouchFailed()                              {}
