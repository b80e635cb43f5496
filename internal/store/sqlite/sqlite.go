// Package sqlite implements the durable store on an embedded SQLite
// database. SQLite allows a single writer at a time; the connection pool is
// capped at one connection and WAL mode is enabled so readers are not
// blocked during batch writes.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"docharvest/internal/harvest"
)

var _ harvest.Store = (*Store)(nil)

// Store is a SQLite-backed harvest.Store.
type Store struct {
	db   *sql.DB
	path string
}

// New creates a Store for the given database path. Use ":memory:" for an
// in-memory database.
func New(path string) *Store {
	return &Store{path: path}
}

// Open opens the database connection and creates the schema if needed.
func (s *Store) Open() error {
	conn, err := sql.Open("sqlite3", s.path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	// Single-writer invariant: one connection, everything serializes.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return fmt.Errorf("connect to database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		conn.Close()
		return fmt.Errorf("set busy timeout: %w", err)
	}

	// WAL is not supported for in-memory databases.
	if s.path != ":memory:" {
		if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
			conn.Close()
			return fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	s.db = conn

	if err := s.createSchema(); err != nil {
		conn.Close()
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS files (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			url TEXT NOT NULL UNIQUE,
			fingerprint TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			source_site TEXT NOT NULL DEFAULT '',
			source_page_url TEXT NOT NULL DEFAULT '',
			original_filename TEXT NOT NULL DEFAULT '',
			local_path TEXT NOT NULL DEFAULT '',
			byte_size INTEGER NOT NULL DEFAULT 0,
			content_type TEXT NOT NULL DEFAULT '',
			last_modified TEXT NOT NULL DEFAULT '',
			etag TEXT NOT NULL DEFAULT '',
			published_time TEXT NOT NULL DEFAULT '',
			first_seen TEXT NOT NULL,
			last_seen TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_files_fingerprint ON files(fingerprint);
		CREATE INDEX IF NOT EXISTS idx_files_source_site ON files(source_site);

		CREATE TABLE IF NOT EXISTS blobs (
			fingerprint TEXT PRIMARY KEY,
			canonical_path TEXT NOT NULL,
			byte_size INTEGER NOT NULL DEFAULT 0,
			content_type TEXT NOT NULL DEFAULT '',
			first_seen TEXT NOT NULL,
			last_seen TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS pages (
			url TEXT PRIMARY KEY,
			last_seen TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS catalog_items (
			file_url TEXT PRIMARY KEY,
			fingerprint TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			source_site TEXT NOT NULL DEFAULT '',
			original_filename TEXT NOT NULL DEFAULT '',
			local_path TEXT NOT NULL DEFAULT '',
			keywords_json TEXT NOT NULL DEFAULT '[]',
			summary TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			pipeline_version TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			processed_at TEXT NOT NULL,
			error_message TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_catalog_items_status ON catalog_items(status);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}
