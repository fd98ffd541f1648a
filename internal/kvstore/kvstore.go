// Package kvstore provides the durable key-value surface used for small
// pieces of serialized state such as the pending sync queue.
package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"pantryat/internal/sqlitedb"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is a string-keyed store of opaque values.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	updated_at TEXT NOT NULL
);
`

// SQLite implements Store on a SQLite table.
type SQLite struct {
	db     *sql.DB
	ownsDB bool
}

// Open opens (or creates) a key-value database at path.
func Open(ctx context.Context, path string) (*SQLite, error) {
	db, err := sqlitedb.Open(ctx, path, sqlitedb.WithMkdirAll(), sqlitedb.WithSchema(schema))
	if err != nil {
		return nil, fmt.Errorf("kvstore: %w", err)
	}
	return &SQLite{db: db, ownsDB: true}, nil
}

// New creates the kv table on an already opened database. Close does not
// close db.
func New(ctx context.Context, db *sql.DB) (*SQLite, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("kvstore: schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Get returns the value stored under key or ErrNotFound.
func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Set stores value under key, replacing any previous value.
func (s *SQLite) Set(ctx context.Context, key string, value []byte) error {
	_, err := sqlitedb.Exec(ctx, s.db,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// Delete removes key. Deleting a missing key is not an error.
func (s *SQLite) Delete(ctx context.Context, key string) error {
	_, err := sqlitedb.Exec(ctx, s.db, "DELETE FROM kv WHERE key = ?", key)
	return err
}

// Close closes the database if it was opened by Open.
func (s *SQLite) Close() error {
	if s.ownsDB && s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Memory is an in-memory Store for tests. FailSet makes every Set fail with
// the given error.
type Memory struct {
	mu      sync.Mutex
	data    map[string][]byte
	FailSet error
	sets    int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// Get returns a copy of the stored value.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Set stores a copy of value.
func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSet != nil {
		return m.FailSet
	}
	m.sets++
	m.data[key] = append([]byte(nil), value...)
	return nil
}

// Delete removes key.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// SetCount returns the number of successful Set calls.
func (m *Memory) SetCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets
}

var (
	_ Store = (*SQLite)(nil)
	_ Store = (*Memory)(nil)
)
