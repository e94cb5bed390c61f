package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/leetstack/keygate/internal/config"
	"github.com/leetstack/keygate/internal/model"
)

func newTestStore(t *testing.T) *config.Store {
	t.Helper()
	s, err := config.NewStore(config.StoreOptions{}) // in-memory
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedUser(t *testing.T, s *config.Store, email, username string) *model.User {
	t.Helper()
	u := &model.User{Email: email, Username: username}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStore is an in-memory CredentialStore that counts calls and records
// every digest it is asked about.
type fakeStore struct {
	mu sync.Mutex

	keys  map[string]*model.APIKey // by hash
	users map[string]*model.User

	findErr  error
	userErr  error
	touchErr error

	findCalls  int
	userCalls  int
	touchCalls int
	hashes     []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		keys:  make(map[string]*model.APIKey),
		users: make(map[string]*model.User),
	}
}

func (f *fakeStore) addUser(u *model.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
}

func (f *fakeStore) addKey(raw string, k *model.APIKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k.KeyHash = HashAPIKey(raw)
	f.keys[k.KeyHash] = k
}

func (f *fakeStore) FindActiveAPIKeyByHash(_ context.Context, hash string) (*model.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findCalls++
	f.hashes = append(f.hashes, hash)
	if f.findErr != nil {
		return nil, f.findErr
	}
	k, ok := f.keys[hash]
	if !ok || k.Revoked {
		return nil, config.ErrNotFound
	}
	cp := *k
	return &cp, nil
}

func (f *fakeStore) GetActiveAPIKey(_ context.Context, id string) (*model.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range f.keys {
		if k.ID == id && !k.Revoked {
			cp := *k
			return &cp, nil
		}
	}
	return nil, config.ErrNotFound
}

func (f *fakeStore) TouchAPIKeyLastUsed(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touchCalls++
	if f.touchErr != nil {
		return f.touchErr
	}
	now := time.Now().UTC()
	for _, k := range f.keys {
		if k.ID == id {
			k.LastUsed = &now
		}
	}
	return nil
}

func (f *fakeStore) GetUser(_ context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userCalls++
	if f.userErr != nil {
		return nil, f.userErr
	}
	u, ok := f.users[id]
	if !ok {
		return nil, config.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeStore) counts() (find, user, touch int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.findCalls, f.userCalls, f.touchCalls
}

// recordingObserver captures authentication events.
type recordingObserver struct {
	mu            sync.Mutex
	outcomes      []string
	touchFailures int
}

func (o *recordingObserver) ObserveAuth(method, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, method+":"+outcome)
}

func (o *recordingObserver) TouchFailed() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.touchFailures++
}

func (o *recordingObserver) snapshot() ([]string, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.outcomes...), o.touchFailures
}
