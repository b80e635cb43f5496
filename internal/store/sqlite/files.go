package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"docharvest/internal/harvest"
	"docharvest/internal/store"
)

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	if t.IsZero() {
		return time.Time{}.UTC().Format(timeLayout)
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// UpsertFile inserts or updates the record for rec.URL. On update the
// original first_seen is preserved.
func (s *Store) UpsertFile(ctx context.Context, rec harvest.FileRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (
			url, fingerprint, title, source_site, source_page_url,
			original_filename, local_path, byte_size, content_type,
			last_modified, etag, published_time, first_seen, last_seen
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			title = excluded.title,
			source_site = excluded.source_site,
			source_page_url = excluded.source_page_url,
			original_filename = excluded.original_filename,
			local_path = excluded.local_path,
			byte_size = excluded.byte_size,
			content_type = excluded.content_type,
			last_modified = excluded.last_modified,
			etag = excluded.etag,
			published_time = excluded.published_time,
			last_seen = excluded.last_seen`,
		rec.URL, rec.Fingerprint, rec.Title, rec.SourceSite, rec.SourcePageURL,
		rec.OriginalFilename, rec.LocalPath, rec.ByteSize, rec.ContentType,
		rec.LastModified, rec.ETag, rec.PublishedTime,
		formatTime(rec.FirstSeen), formatTime(rec.LastSeen),
	)
	if err != nil {
		return fmt.Errorf("upsert file %s: %w", rec.URL, err)
	}
	return nil
}

// FileExists reports whether a record exists for url.
func (s *Store) FileExists(ctx context.Context, url string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM files WHERE url = ?`, url).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check file %s: %w", url, err)
	}
	return true, nil
}

// FileByURL returns the record for url, or nil when absent.
func (s *Store) FileByURL(ctx context.Context, url string) (*harvest.FileRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT url, fingerprint, title, source_site, source_page_url,
			original_filename, local_path, byte_size, content_type,
			last_modified, etag, published_time, first_seen, last_seen
		FROM files WHERE url = ?`, url)
	rec, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get file %s: %w", url, err)
	}
	return rec, nil
}

// ListFiles returns files matching opts, sorted by an allow-listed column.
func (s *Store) ListFiles(ctx context.Context, opts harvest.FileListOptions) ([]harvest.FileRecord, error) {
	query, args, err := store.ListFilesSQL(opts, store.Question)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var out []harvest.FileRecord
	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file row: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(r rowScanner) (*harvest.FileRecord, error) {
	var rec harvest.FileRecord
	var firstSeen, lastSeen string
	err := r.Scan(
		&rec.URL, &rec.Fingerprint, &rec.Title, &rec.SourceSite,
		&rec.SourcePageURL, &rec.OriginalFilename, &rec.LocalPath,
		&rec.ByteSize, &rec.ContentType, &rec.LastModified, &rec.ETag,
		&rec.PublishedTime, &firstSeen, &lastSeen,
	)
	if err != nil {
		return nil, err
	}
	rec.FirstSeen = parseTime(firstSeen)
	rec.LastSeen = parseTime(lastSeen)
	return &rec, nil
}

// UpsertBlob inserts or refreshes the row for blob.Fingerprint. On update
// the original first_seen is preserved.
func (s *Store) UpsertBlob(ctx context.Context, blob harvest.Blob) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blobs (fingerprint, canonical_path, byte_size, content_type, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			canonical_path = excluded.canonical_path,
			byte_size = excluded.byte_size,
			content_type = excluded.content_type,
			last_seen = excluded.last_seen`,
		blob.Fingerprint, blob.CanonicalPath, blob.ByteSize, blob.ContentType,
		formatTime(blob.FirstSeen), formatTime(blob.LastSeen),
	)
	if err != nil {
		return fmt.Errorf("upsert blob %s: %w", blob.Fingerprint, err)
	}
	return nil
}

// BlobByFingerprint returns the blob row, or nil when absent.
func (s *Store) BlobByFingerprint(ctx context.Context, fingerprint string) (*harvest.Blob, error) {
	var blob harvest.Blob
	var firstSeen, lastSeen string
	err := s.db.QueryRowContext(ctx, `
		SELECT fingerprint, canonical_path, byte_size, content_type, first_seen, last_seen
		FROM blobs WHERE fingerprint = ?`, fingerprint).Scan(
		&blob.Fingerprint, &blob.CanonicalPath, &blob.ByteSize,
		&blob.ContentType, &firstSeen, &lastSeen,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get blob %s: %w", fingerprint, err)
	}
	blob.FirstSeen = parseTime(firstSeen)
	blob.LastSeen = parseTime(lastSeen)
	return &blob, nil
}

// MarkPageSeen records that a page URL was fetched.
func (s *Store) MarkPageSeen(ctx context.Context, url string, seen time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pages (url, last_seen) VALUES (?, ?)
		ON CONFLICT(url) DO UPDATE SET last_seen = excluded.last_seen`,
		url, formatTime(seen),
	)
	if err != nil {
		return fmt.Errorf("mark page seen %s: %w", url, err)
	}
	return nil
}
