package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/leetstack/keygate/internal/config"
)

// DefaultTouchTimeout bounds the background last-used update.
const DefaultTouchTimeout = 5 * time.Second

// VerifierConfig tunes a Verifier. The zero value is usable.
type VerifierConfig struct {
	TouchTimeout time.Duration
	Observer     Observer
}

// Verifier resolves a raw API key to a principal. It holds no per-request
// state and is safe for concurrent use.
type Verifier struct {
	store        CredentialStore
	hasher       Hasher
	logger       *slog.Logger
	touchTimeout time.Duration
	observer     Observer

	touches sync.WaitGroup
}

// NewVerifier creates a Verifier over store.
func NewVerifier(store CredentialStore, hasher Hasher, logger *slog.Logger, cfg VerifierConfig) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TouchTimeout <= 0 {
		cfg.TouchTimeout = DefaultTouchTimeout
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	return &Verifier{
		store:        store,
		hasher:       hasher,
		logger:       logger,
		touchTimeout: cfg.TouchTimeout,
		observer:     cfg.Observer,
	}
}

// Verify looks up the key raw identifies. It returns ok=false without error
// for blank input and for unknown, revoked, or orphaned keys. A non-nil error
// means the answer is unknown: it wraps ErrCanceled when ctx ended first and
// ErrStoreUnavailable otherwise.
//
// On success the key's last-used time is updated in the background; failures
// there are logged and never affect the result.
func (v *Verifier) Verify(ctx context.Context, raw string) (Principal, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Principal{}, false, nil
	}

	key, err := v.store.FindActiveAPIKeyByHash(ctx, v.hasher.Hash(raw))
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return Principal{}, false, nil
		}
		return Principal{}, false, lookupError(ctx, err)
	}

	user, err := v.store.GetUser(ctx, key.UserID)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			v.logger.WarnContext(ctx, "api key owner missing", "key_id", key.ID, "user_id", key.UserID)
			return Principal{}, false, nil
		}
		return Principal{}, false, lookupError(ctx, err)
	}

	v.touch(ctx, key.ID)

	return newPrincipal(user, key), true, nil
}

// touch records key use without blocking the request. The update outlives
// request cancellation but not touchTimeout.
func (v *Verifier) touch(ctx context.Context, keyID string) {
	v.touches.Add(1)
	go func() {
		defer v.touches.Done()
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.touchTimeout)
		defer cancel()
		if err := v.store.TouchAPIKeyLastUsed(tctx, keyID); err != nil {
			v.observer.TouchFailed()
			v.logger.Warn("update api key last used", "key_id", keyID, "error", err)
		}
	}()
}

// Wait blocks until every pending last-used update has finished.
func (v *Verifier) Wait() {
	v.touches.Wait()
}
