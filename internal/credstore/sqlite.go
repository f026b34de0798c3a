// Package credstore provides durable credential storage for sessions.
// Each session owns one scope, keyed by its pairing code; scopes hold an
// opaque credential blob and never interfere with each other.
//
// Two backends are provided: a SQLite database (default) and a plain
// directory tree of per-scope files.
package credstore

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	// Pure-Go SQLite driver, imported for its side effect of registering
	// the "sqlite" driver. No CGO, so cross-compilation stays easy.
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps credential scopes in a single SQLite database.
// It creates the database and table on first use and supports concurrent
// access through internal locking.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
// Use ":memory:" for an in-memory database (useful for testing).
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	log.Printf("credstore: opening database at %s", path)

	// busy_timeout handles concurrent access from the CLI and a running
	// gateway hitting the same file.
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS credentials (
			scope      TEXT PRIMARY KEY,
			blob       BLOB NOT NULL,
			updated_at TEXT NOT NULL
		)
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	log.Printf("credstore: database ready")
	return &SQLiteStore{db: db}, nil
}

// Load returns the credential blob for a scope, or (nil, nil) when the
// scope has no stored credentials.
func (s *SQLiteStore) Load(scope string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const query = `SELECT blob FROM credentials WHERE scope = ?`

	var blob []byte
	err := s.db.QueryRow(query, scope).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	return blob, nil
}

// Save persists the credential blob for a scope, replacing any previous
// value.
func (s *SQLiteStore) Save(scope string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `
		INSERT OR REPLACE INTO credentials (scope, blob, updated_at)
		VALUES (?, ?, ?)
	`

	_, err := s.db.Exec(query, scope, blob, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}

	return nil
}

// Delete removes a scope. Deleting a missing scope is a no-op.
func (s *SQLiteStore) Delete(scope string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `DELETE FROM credentials WHERE scope = ?`

	if _, err := s.db.Exec(query, scope); err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}

	return nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	log.Printf("credstore: closing database")
	return s.db.Close()
}
