// Stores the document in a SQLite database.

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/maruel/jsondb/internal/jsondb"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS documents (
	name       TEXT PRIMARY KEY,
	body       TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLiteBackend stores the serialized document as one row of a SQLite
// database. Several named documents can share one SQLite file.
type SQLiteBackend struct {
	db   *sql.DB
	name string
}

// OpenSQLite opens (or creates) the SQLite database at path and binds the
// backend to the document called name.
func OpenSQLite(path, name string) (*SQLiteBackend, error) {
	if name == "" {
		return nil, errors.New("document name is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return nil, errors.Join(fmt.Errorf("enable WAL mode: %w", err), db.Close())
	}
	// A single connection serializes writers and keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("ping database: %w", err), db.Close())
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, errors.Join(fmt.Errorf("create documents table: %w", err), db.Close())
	}
	return &SQLiteBackend{db: db, name: name}, nil
}

// Close closes the underlying database.
func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}

// Exists implements jsondb.Backend.
func (s *SQLiteBackend) Exists() (bool, error) {
	var n int
	err := s.db.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM documents WHERE name = ?", s.name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("lookup document %q: %w", s.name, err)
	}
	return n != 0, nil
}

// CreateEmpty implements jsondb.Backend.
func (s *SQLiteBackend) CreateEmpty() error {
	return s.Save(jsondb.EmptyDocument())
}

// Load implements jsondb.Backend.
func (s *SQLiteBackend) Load() (*jsondb.Document, error) {
	var body string
	err := s.db.QueryRowContext(context.Background(), "SELECT body FROM documents WHERE name = ?", s.name).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %q: %w", s.name, fs.ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("read document %q: %w", s.name, err)
	}
	return jsondb.DecodeDocument([]byte(body))
}

// Save implements jsondb.Backend.
func (s *SQLiteBackend) Save(doc *jsondb.Document) error {
	data, err := jsondb.EncodeDocument(doc)
	if err != nil {
		return err
	}
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (name, body, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		s.name, string(data), time.Now().UnixMilli(),
	)
	if err != nil {
		return errors.Join(fmt.Errorf("write document %q: %w", s.name, err), tx.Rollback())
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit document %q: %w", s.name, err)
	}
	return nil
}
