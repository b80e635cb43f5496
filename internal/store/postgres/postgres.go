// Package postgres implements the durable store on PostgreSQL via pgx. It
// shares the query contract (tables, candidate selection, allow-listed
// listing) with the SQLite backend.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"docharvest/internal/harvest"
)

var _ harvest.Store = (*Store)(nil)

// PgxIface is the subset of pgxpool.Pool the store uses. pgxmock implements
// it for tests.
type PgxIface interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Store is a Postgres-backed harvest.Store.
type Store struct {
	pool PgxIface
}

// NewStore connects a pool and ensures the schema exists.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.createSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for
// testing). The schema is assumed to exist.
func NewStoreWithPool(pool PgxIface) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS files (
			id BIGSERIAL PRIMARY KEY,
			url TEXT NOT NULL UNIQUE,
			fingerprint TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			source_site TEXT NOT NULL DEFAULT '',
			source_page_url TEXT NOT NULL DEFAULT '',
			original_filename TEXT NOT NULL DEFAULT '',
			local_path TEXT NOT NULL DEFAULT '',
			byte_size BIGINT NOT NULL DEFAULT 0,
			content_type TEXT NOT NULL DEFAULT '',
			last_modified TEXT NOT NULL DEFAULT '',
			etag TEXT NOT NULL DEFAULT '',
			published_time TEXT NOT NULL DEFAULT '',
			first_seen TIMESTAMPTZ NOT NULL,
			last_seen TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_files_fingerprint ON files(fingerprint);
		CREATE INDEX IF NOT EXISTS idx_files_source_site ON files(source_site);

		CREATE TABLE IF NOT EXISTS blobs (
			fingerprint TEXT PRIMARY KEY,
			canonical_path TEXT NOT NULL,
			byte_size BIGINT NOT NULL DEFAULT 0,
			content_type TEXT NOT NULL DEFAULT '',
			first_seen TIMESTAMPTZ NOT NULL,
			last_seen TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS pages (
			url TEXT PRIMARY KEY,
			last_seen TIMESTAMPTZ NOT NULL
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
			processed_at TIMESTAMPTZ NOT NULL,
			error_message TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_catalog_items_status ON catalog_items(status);
	`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}
