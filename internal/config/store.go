package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/leetstack/keygate/internal/model"
)

// StoreOptions selects and locates the backing database.
type StoreOptions struct {
	// Driver is one of SupportedDrivers. Empty means sqlite.
	Driver string
	// DSN is passed to the driver. For sqlite an empty DSN opens a database
	// file inside DataDir, or an in-memory database when DataDir is empty too.
	DSN     string
	DataDir string
}

// Store persists users and API-key records. It is safe for concurrent use.
type Store struct {
	db      *sqlx.DB
	dialect dialect
}

// NewStore opens the configured database and applies migrations. The zero
// StoreOptions yields an in-memory SQLite store, which is what tests use.
func NewStore(opts StoreOptions) (*Store, error) {
	d, err := lookupDialect(opts.Driver)
	if err != nil {
		return nil, err
	}

	dsn := opts.DSN
	if d.name == "sqlite" && dsn == "" {
		if opts.DataDir == "" {
			dsn = ":memory:?_journal_mode=WAL"
		} else {
			if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
			dsn = filepath.Join(opts.DataDir, "keygate.db") + "?_journal_mode=WAL&_busy_timeout=5000"
		}
	}
	if dsn == "" {
		return nil, fmt.Errorf("store.dsn is required for driver %q", d.name)
	}
	dsn, err = d.prepareDSN(dsn)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Connect(d.driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", d.name, err)
	}

	if d.name == "sqlite" {
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

		// Enable foreign keys (off by default in SQLite).
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	s := &Store{db: db, dialect: d}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s store: %w", d.name, err)
	}
	return s, nil
}

// NewStoreFromDB wraps an already-open database handle without running
// migrations. driver selects the placeholder style and error mapping.
func NewStoreFromDB(db *sql.DB, driver string) (*Store, error) {
	d, err := lookupDialect(driver)
	if err != nil {
		return nil, err
	}
	return &Store{db: sqlx.NewDb(db, d.driverName), dialect: d}, nil
}

// Driver returns the normalized store.driver name.
func (s *Store) Driver() string {
	return s.dialect.name
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s store: %w", s.dialect.name, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// userRow maps 1:1 to the users table. Optional text columns are nullable
// because Oracle stores empty strings as NULL.
type userRow struct {
	ID        string         `db:"id"`
	Email     string         `db:"email"`
	FirstName sql.NullString `db:"first_name"`
	LastName  sql.NullString `db:"last_name"`
	Username  sql.NullString `db:"username"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

func (r userRow) toModel() model.User {
	return model.User{
		ID:        r.ID,
		Email:     r.Email,
		FirstName: r.FirstName.String,
		LastName:  r.LastName.String,
		Username:  r.Username.String,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

const userColumns = "id, email, first_name, last_name, username, created_at, updated_at"

// CreateUser inserts a user. A UUIDv7 ID is assigned when u.ID is empty, and
// CreatedAt/UpdatedAt are populated. Returns ErrDuplicate if the email or ID
// is already taken.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = uuid.Must(uuid.NewV7()).String()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	q := s.db.Rebind(`INSERT INTO users
		(id, email, first_name, last_name, username, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, q,
		u.ID, u.Email, nullString(u.FirstName), nullString(u.LastName), nullString(u.Username),
		u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert user: %w", ErrDuplicate)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUser returns a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	var row userRow
	q := s.db.Rebind("SELECT " + userColumns + " FROM users WHERE id = ?")
	if err := s.db.GetContext(ctx, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u := row.toModel()
	return &u, nil
}

// GetUserByEmail returns a user by email address.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var row userRow
	q := s.db.Rebind("SELECT " + userColumns + " FROM users WHERE email = ?")
	if err := s.db.GetContext(ctx, &row, q, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	u := row.toModel()
	return &u, nil
}

// ListUsers returns all users ordered by email.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	var rows []userRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT "+userColumns+" FROM users ORDER BY email"); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	users := make([]model.User, len(rows))
	for i, r := range rows {
		users[i] = r.toModel()
	}
	return users, nil
}

// ---------------------------------------------------------------------------
// API Key management
// ---------------------------------------------------------------------------

type apiKeyRow struct {
	ID        string         `db:"id"`
	UserID    string         `db:"user_id"`
	KeyHash   string         `db:"key_hash"`
	KeyPrefix string         `db:"key_prefix"`
	Label     sql.NullString `db:"label"`
	Revoked   int            `db:"revoked"`
	CreatedAt time.Time      `db:"created_at"`
	LastUsed  sql.NullTime   `db:"last_used"`
}

func (r apiKeyRow) toModel() model.APIKey {
	k := model.APIKey{
		ID:        r.ID,
		UserID:    r.UserID,
		KeyHash:   strings.TrimSpace(r.KeyHash), // CHAR columns may pad
		KeyPrefix: r.KeyPrefix,
		Label:     r.Label.String,
		Revoked:   r.Revoked != 0,
		CreatedAt: r.CreatedAt,
	}
	if r.LastUsed.Valid {
		t := r.LastUsed.Time
		k.LastUsed = &t
	}
	return k
}

const apiKeyColumns = "id, user_id, key_hash, key_prefix, label, revoked, created_at, last_used"

// CreateAPIKey inserts a new, non-revoked API key record. KeyHash must already
// be a digest; the raw key never reaches the store. ID and CreatedAt are
// populated. Returns ErrDuplicate if an active key with the same digest exists.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	if key.ID == "" {
		key.ID = uuid.Must(uuid.NewV7()).String()
	}
	key.CreatedAt = time.Now().UTC()
	key.Revoked = false
	key.LastUsed = nil

	q := s.db.Rebind(`INSERT INTO api_keys
		(id, user_id, key_hash, key_prefix, label, revoked, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)`)

	_, err := s.db.ExecContext(ctx, q,
		key.ID, key.UserID, key.KeyHash, key.KeyPrefix, nullString(key.Label), key.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert api key: %w", ErrDuplicate)
		}
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// FindActiveAPIKeyByHash looks up a non-revoked API key by its digest.
// Revoked and absent keys both yield ErrNotFound.
func (s *Store) FindActiveAPIKeyByHash(ctx context.Context, hash string) (*model.APIKey, error) {
	var row apiKeyRow
	q := s.db.Rebind("SELECT " + apiKeyColumns + " FROM api_keys WHERE key_hash = ? AND revoked = 0")
	if err := s.db.GetContext(ctx, &row, q, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find active api key by hash: %w", err)
	}
	k := row.toModel()
	return &k, nil
}

// GetActiveAPIKey returns a non-revoked API key by ID.
func (s *Store) GetActiveAPIKey(ctx context.Context, id string) (*model.APIKey, error) {
	var row apiKeyRow
	q := s.db.Rebind("SELECT " + apiKeyColumns + " FROM api_keys WHERE id = ? AND revoked = 0")
	if err := s.db.GetContext(ctx, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get active api key: %w", err)
	}
	k := row.toModel()
	return &k, nil
}

// ListAPIKeys returns API keys, newest first. An empty userID lists every key.
func (s *Store) ListAPIKeys(ctx context.Context, userID string) ([]model.APIKey, error) {
	var (
		rows []apiKeyRow
		err  error
	)
	if userID == "" {
		err = s.db.SelectContext(ctx, &rows,
			"SELECT "+apiKeyColumns+" FROM api_keys ORDER BY created_at DESC")
	} else {
		err = s.db.SelectContext(ctx, &rows,
			s.db.Rebind("SELECT "+apiKeyColumns+" FROM api_keys WHERE user_id = ? ORDER BY created_at DESC"), userID)
	}
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	keys := make([]model.APIKey, len(rows))
	for i, r := range rows {
		keys[i] = r.toModel()
	}
	return keys, nil
}

// RevokeAPIKey marks an active API key as revoked by ID.
func (s *Store) RevokeAPIKey(ctx context.Context, id string) error {
	return s.execOne(ctx, "revoke api key",
		"UPDATE api_keys SET revoked = 1 WHERE id = ? AND revoked = 0", id)
}

// RevokeAPIKeyByPrefix marks every active API key with the given prefix as
// revoked. Returns ErrNotFound if none matched.
func (s *Store) RevokeAPIKeyByPrefix(ctx context.Context, prefix string) error {
	return s.execOne(ctx, "revoke api key by prefix",
		"UPDATE api_keys SET revoked = 1 WHERE key_prefix = ? AND revoked = 0", prefix)
}

// TouchAPIKeyLastUsed sets the last_used timestamp for an API key to now.
// Concurrent touches race; the last writer wins.
func (s *Store) TouchAPIKeyLastUsed(ctx context.Context, id string) error {
	return s.execOne(ctx, "touch api key last used",
		"UPDATE api_keys SET last_used = ? WHERE id = ?", time.Now().UTC(), id)
}

// DeleteAPIKeysForUser removes every API key belonging to a user and reports
// how many rows were deleted.
func (s *Store) DeleteAPIKeysForUser(ctx context.Context, userID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM api_keys WHERE user_id = ?"), userID)
	if err != nil {
		return 0, fmt.Errorf("delete api keys for user: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete api keys for user rows affected: %w", err)
	}
	return n, nil
}

// execOne runs an UPDATE that must affect at least one row.
func (s *Store) execOne(ctx context.Context, op, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}
