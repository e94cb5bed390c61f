package config

import (
	"context"
	"fmt"
)

// Every dialect keeps the same logical schema: a users table and an api_keys
// table whose key_hash is unique among non-revoked rows. Revoked rows may
// share a digest with an active one.

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT UNIQUE NOT NULL,
		first_name TEXT,
		last_name TEXT,
		username TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		key_hash TEXT NOT NULL,
		key_prefix TEXT NOT NULL,
		label TEXT,
		revoked INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_used DATETIME
	)`,

	`CREATE UNIQUE INDEX IF NOT EXISTS ux_api_keys_active_hash ON api_keys(key_hash) WHERE revoked = 0`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_user_id ON api_keys(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_prefix ON api_keys(key_prefix)`,
}

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT UNIQUE NOT NULL,
		first_name TEXT,
		last_name TEXT,
		username TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		key_hash CHAR(64) NOT NULL,
		key_prefix TEXT NOT NULL,
		label TEXT,
		revoked SMALLINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_used TIMESTAMPTZ
	)`,

	`CREATE UNIQUE INDEX IF NOT EXISTS ux_api_keys_active_hash ON api_keys(key_hash) WHERE revoked = 0`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_user_id ON api_keys(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_prefix ON api_keys(key_prefix)`,
}

var mysqlMigrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(36) PRIMARY KEY,
		email VARCHAR(320) NOT NULL UNIQUE,
		first_name VARCHAR(255),
		last_name VARCHAR(255),
		username VARCHAR(255),
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL
	)`,

	// MySQL has no partial indexes; a generated column that is NULL for
	// revoked rows gives the same uniqueness guarantee.
	`CREATE TABLE IF NOT EXISTS api_keys (
		id VARCHAR(36) PRIMARY KEY,
		user_id VARCHAR(36) NOT NULL,
		key_hash CHAR(64) NOT NULL,
		key_prefix VARCHAR(32) NOT NULL,
		label VARCHAR(255),
		revoked TINYINT NOT NULL DEFAULT 0,
		created_at DATETIME(6) NOT NULL,
		last_used DATETIME(6),
		active_hash CHAR(64) AS (IF(revoked = 0, key_hash, NULL)) STORED,
		CONSTRAINT fk_api_keys_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	)`,

	`CREATE UNIQUE INDEX ux_api_keys_active_hash ON api_keys(active_hash)`,
	`CREATE INDEX idx_api_keys_hash ON api_keys(key_hash)`,
	`CREATE INDEX idx_api_keys_prefix ON api_keys(key_prefix)`,
}

var sqlserverMigrations = []string{
	`CREATE TABLE users (
		id NVARCHAR(36) PRIMARY KEY,
		email NVARCHAR(320) NOT NULL UNIQUE,
		first_name NVARCHAR(255),
		last_name NVARCHAR(255),
		username NVARCHAR(255),
		created_at DATETIME2 NOT NULL,
		updated_at DATETIME2 NOT NULL
	)`,

	`CREATE TABLE api_keys (
		id NVARCHAR(36) PRIMARY KEY,
		user_id NVARCHAR(36) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		key_hash CHAR(64) NOT NULL,
		key_prefix NVARCHAR(32) NOT NULL,
		label NVARCHAR(255),
		revoked TINYINT NOT NULL DEFAULT 0,
		created_at DATETIME2 NOT NULL,
		last_used DATETIME2
	)`,

	`CREATE UNIQUE INDEX ux_api_keys_active_hash ON api_keys(key_hash) WHERE revoked = 0`,
	`CREATE INDEX idx_api_keys_user_id ON api_keys(user_id)`,
	`CREATE INDEX idx_api_keys_prefix ON api_keys(key_prefix)`,
}

var oracleMigrations = []string{
	`CREATE TABLE users (
		id VARCHAR2(36) PRIMARY KEY,
		email VARCHAR2(320) NOT NULL UNIQUE,
		first_name VARCHAR2(255),
		last_name VARCHAR2(255),
		username VARCHAR2(255),
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE api_keys (
		id VARCHAR2(36) PRIMARY KEY,
		user_id VARCHAR2(36) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		key_hash CHAR(64) NOT NULL,
		key_prefix VARCHAR2(32) NOT NULL,
		label VARCHAR2(255),
		revoked NUMBER(1) DEFAULT 0 NOT NULL,
		created_at TIMESTAMP NOT NULL,
		last_used TIMESTAMP
	)`,

	// Function-based index: NULL keys are not indexed, so revoked rows drop out.
	`CREATE UNIQUE INDEX ux_api_keys_active_hash ON api_keys(CASE WHEN revoked = 0 THEN key_hash END)`,
	`CREATE INDEX idx_api_keys_hash ON api_keys(key_hash)`,
	`CREATE INDEX idx_api_keys_user_id ON api_keys(user_id)`,
	`CREATE INDEX idx_api_keys_prefix ON api_keys(key_prefix)`,
}

func (s *Store) migrate(ctx context.Context) error {
	for _, m := range s.dialect.migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			if isAlreadyExists(err) {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
