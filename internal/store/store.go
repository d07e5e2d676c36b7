// Package store persists broker state in sqlite: users, roles, assets,
// credentials, JIT requests, sessions and the audit trail.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("store: not found")

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	mfa_secret    TEXT NOT NULL DEFAULT '',
	mfa_enabled   INTEGER NOT NULL DEFAULT 0,
	is_admin      INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS roles (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS user_roles (
	user_id INTEGER NOT NULL REFERENCES users(id),
	role_id INTEGER NOT NULL REFERENCES roles(id),
	PRIMARY KEY (user_id, role_id)
);
CREATE TABLE IF NOT EXISTS assets (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL,
	host       TEXT NOT NULL,
	port       INTEGER NOT NULL,
	type       TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS credentials (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	asset_id   INTEGER NOT NULL REFERENCES assets(id),
	vault_path TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS jit_requests (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id          INTEGER NOT NULL REFERENCES users(id),
	asset_id         INTEGER NOT NULL REFERENCES assets(id),
	role_id          INTEGER NOT NULL REFERENCES roles(id),
	reason           TEXT NOT NULL,
	duration_minutes INTEGER NOT NULL,
	status           TEXT NOT NULL,
	approved_by      INTEGER REFERENCES users(id),
	created_at       TIMESTAMP NOT NULL,
	expires_at       TIMESTAMP
);
CREATE TABLE IF NOT EXISTS sessions (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	jit_request_id INTEGER NOT NULL REFERENCES jit_requests(id),
	started_at     TIMESTAMP NOT NULL,
	ended_at       TIMESTAMP,
	recording_path TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS audit_events (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	actor_id      INTEGER REFERENCES users(id),
	action        TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	resource_id   TEXT NOT NULL,
	ts            TIMESTAMP NOT NULL,
	ip            TEXT NOT NULL DEFAULT '',
	metadata      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_jit_requests_status ON jit_requests(status);
CREATE INDEX IF NOT EXISTS idx_sessions_jit ON sessions(jit_request_id);
CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_events(ts);
`

// Store wraps the sqlite database handle.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if necessary) the sqlite database at path and applies
// the schema.
func Open(path string) (*Store, error) {
	return OpenWithClock(path, func() time.Time { return time.Now().UTC() })
}

// OpenWithClock opens the store with a custom clock (for testing).
func OpenWithClock(path string, now func() time.Time) (*Store, error) {
	if now == nil {
		panic("store: nil clock")
	}
	db, err := sql.Open("sqlite3", path+"?_fk=1&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, now: now}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction, committing on success.
func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
