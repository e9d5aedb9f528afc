// Package sqlite implements store.Store on an embedded SQLite database.
//
// A single process owns the database. Writes are serialized through one
// mutex (SQLite is single-writer); reads go through the pooled handle and
// run concurrently under WAL.
package sqlite

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/hearthstack/hearth/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB is the SQLite-backed store.
type DB struct {
	db *sql.DB
	mu sync.Mutex // serializes writes

	lastMsgTS int64 // keeps message created_at strictly increasing
}

var _ store.Store = (*DB)(nil)

// Open opens (creating if needed) the database at path and applies pending
// migrations.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := Migrate(path); err != nil {
		db.Close()
		return nil, err
	}

	slog.Debug("store opened", "path", path)
	return &DB{db: db}, nil
}

// Migrate applies all pending migrations to the database at path.
func Migrate(path string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, "sqlite://"+path)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// MigrationVersion reports the current schema version of the database at path.
func MigrationVersion(path string) (uint, bool, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return 0, false, err
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, "sqlite://"+path)
	if err != nil {
		return 0, false, err
	}
	defer m.Close()
	return m.Version()
}

// Close closes the underlying database handle.
func (d *DB) Close() error { return d.db.Close() }

// storeErr maps driver failures onto the store error kinds.
func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %v: %w", op, err, store.ErrStorage)
}

// marshalStrings encodes a string slice as its JSON column representation.
func marshalStrings(ss []string) string {
	if len(ss) == 0 {
		return "[]"
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// unmarshalStrings decodes a JSON string-array column.
func unmarshalStrings(s string) []string {
	if s == "" || s == "[]" {
		return nil
	}
	var ss []string
	if err := json.Unmarshal([]byte(s), &ss); err != nil {
		return nil
	}
	return ss
}

// nullInt converts an optional epoch-ms value for binding.
func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
