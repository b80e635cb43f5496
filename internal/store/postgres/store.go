package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"docharvest/internal/harvest"
	"docharvest/internal/store"
)

// UpsertFile inserts or updates the record for rec.URL. On update the
// original first_seen is preserved.
func (s *Store) UpsertFile(ctx context.Context, rec harvest.FileRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO files (
			url, fingerprint, title, source_site, source_page_url,
			original_filename, local_path, byte_size, content_type,
			last_modified, etag, published_time, first_seen, last_seen
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (url) DO UPDATE SET
			fingerprint = EXCLUDED.fingerprint,
			title = EXCLUDED.title,
			source_site = EXCLUDED.source_site,
			source_page_url = EXCLUDED.source_page_url,
			original_filename = EXCLUDED.original_filename,
			local_path = EXCLUDED.local_path,
			byte_size = EXCLUDED.byte_size,
			content_type = EXCLUDED.content_type,
			last_modified = EXCLUDED.last_modified,
			etag = EXCLUDED.etag,
			published_time = EXCLUDED.published_time,
			last_seen = EXCLUDED.last_seen`,
		rec.URL, rec.Fingerprint, rec.Title, rec.SourceSite, rec.SourcePageURL,
		rec.OriginalFilename, rec.LocalPath, rec.ByteSize, rec.ContentType,
		rec.LastModified, rec.ETag, rec.PublishedTime, rec.FirstSeen, rec.LastSeen,
	)
	if err != nil {
		return fmt.Errorf("upsert file %s: %w", rec.URL, err)
	}
	return nil
}

// FileExists reports whether a record exists for url.
func (s *Store) FileExists(ctx context.Context, url string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM files WHERE url = $1`, url).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check file %s: %w", url, err)
	}
	return true, nil
}

// FileByURL returns the record for url, or nil when absent.
func (s *Store) FileByURL(ctx context.Context, url string) (*harvest.FileRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT url, fingerprint, title, source_site, source_page_url,
			original_filename, local_path, byte_size, content_type,
			last_modified, etag, published_time, first_seen, last_seen
		FROM files WHERE url = $1`, url)
	rec, err := scanFile(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get file %s: %w", url, err)
	}
	return rec, nil
}

// ListFiles returns files matching opts, sorted by an allow-listed column.
func (s *Store) ListFiles(ctx context.Context, opts harvest.FileListOptions) ([]harvest.FileRecord, error) {
	query, args, err := store.ListFilesSQL(opts, store.Dollar)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
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
	err := r.Scan(
		&rec.URL, &rec.Fingerprint, &rec.Title, &rec.SourceSite,
		&rec.SourcePageURL, &rec.OriginalFilename, &rec.LocalPath,
		&rec.ByteSize, &rec.ContentType, &rec.LastModified, &rec.ETag,
		&rec.PublishedTime, &rec.FirstSeen, &rec.LastSeen,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpsertBlob inserts or refreshes the row for blob.Fingerprint.
func (s *Store) UpsertBlob(ctx context.Context, blob harvest.Blob) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO blobs (fingerprint, canonical_path, byte_size, content_type, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (fingerprint) DO UPDATE SET
			canonical_path = EXCLUDED.canonical_path,
			byte_size = EXCLUDED.byte_size,
			content_type = EXCLUDED.content_type,
			last_seen = EXCLUDED.last_seen`,
		blob.Fingerprint, blob.CanonicalPath, blob.ByteSize, blob.ContentType,
		blob.FirstSeen, blob.LastSeen,
	)
	if err != nil {
		return fmt.Errorf("upsert blob %s: %w", blob.Fingerprint, err)
	}
	return nil
}

// BlobByFingerprint returns the blob row, or nil when absent.
func (s *Store) BlobByFingerprint(ctx context.Context, fingerprint string) (*harvest.Blob, error) {
	var blob harvest.Blob
	err := s.pool.QueryRow(ctx, `
		SELECT fingerprint, canonical_path, byte_size, content_type, first_seen, last_seen
		FROM blobs WHERE fingerprint = $1`, fingerprint).Scan(
		&blob.Fingerprint, &blob.CanonicalPath, &blob.ByteSize,
		&blob.ContentType, &blob.FirstSeen, &blob.LastSeen,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get blob %s: %w", fingerprint, err)
	}
	return &blob, nil
}

// MarkPageSeen records that a page URL was fetched.
func (s *Store) MarkPageSeen(ctx context.Context, url string, seen time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pages (url, last_seen) VALUES ($1, $2)
		ON CONFLICT (url) DO UPDATE SET last_seen = EXCLUDED.last_seen`,
		url, seen,
	)
	if err != nil {
		return fmt.Errorf("mark page seen %s: %w", url, err)
	}
	return nil
}

// SelectCandidates returns files needing (re)processing, newest-first.
func (s *Store) SelectCandidates(ctx context.Context, q harvest.CandidateQuery) ([]harvest.Candidate, error) {
	query, args := store.CandidatesSQL(q, store.Dollar)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select candidates: %w", err)
	}
	defer rows.Close()

	var out []harvest.Candidate
	for rows.Next() {
		var c harvest.Candidate
		if err := rows.Scan(&c.Seq, &c.URL, &c.Fingerprint, &c.Title,
			&c.SourceSite, &c.OriginalFilename, &c.LocalPath); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return out, nil
}

const upsertCatalogItemSQL = `
	INSERT INTO catalog_items (
		file_url, fingerprint, title, source_site, original_filename,
		local_path, keywords_json, summary, category, pipeline_version,
		status, processed_at, error_message
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (file_url) DO UPDATE SET
		fingerprint = EXCLUDED.fingerprint,
		title = EXCLUDED.title,
		source_site = EXCLUDED.source_site,
		original_filename = EXCLUDED.original_filename,
		local_path = EXCLUDED.local_path,
		keywords_json = EXCLUDED.keywords_json,
		summary = EXCLUDED.summary,
		category = EXCLUDED.category,
		pipeline_version = EXCLUDED.pipeline_version,
		status = EXCLUDED.status,
		processed_at = EXCLUDED.processed_at,
		error_message = EXCLUDED.error_message`

// ApplyOutcomes upserts all items inside a single transaction.
func (s *Store) ApplyOutcomes(ctx context.Context, items []harvest.CatalogItem) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin outcome batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, item := range items {
		keywords := "[]"
		if item.Keywords != nil {
			raw, err := json.Marshal(item.Keywords)
			if err != nil {
				return fmt.Errorf("marshal keywords for %s: %w", item.FileURL, err)
			}
			keywords = string(raw)
		}
		if _, err := tx.Exec(ctx, upsertCatalogItemSQL,
			item.FileURL, item.Fingerprint, item.Title, item.SourceSite,
			item.OriginalFilename, item.LocalPath, keywords, item.Summary,
			item.Category, item.PipelineVersion, string(item.Status),
			item.ProcessedAt, item.ErrorMessage,
		); err != nil {
			return fmt.Errorf("upsert catalog item %s: %w", item.FileURL, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit outcome batch: %w", err)
	}
	return nil
}

// CatalogItemByURL returns the catalog row for url, or nil when absent.
func (s *Store) CatalogItemByURL(ctx context.Context, url string) (*harvest.CatalogItem, error) {
	var item harvest.CatalogItem
	var keywordsJSON, status string
	err := s.pool.QueryRow(ctx, `
		SELECT file_url, fingerprint, title, source_site, original_filename,
			local_path, keywords_json, summary, category, pipeline_version,
			status, processed_at, error_message
		FROM catalog_items WHERE file_url = $1`, url).Scan(
		&item.FileURL, &item.Fingerprint, &item.Title, &item.SourceSite,
		&item.OriginalFilename, &item.LocalPath, &keywordsJSON, &item.Summary,
		&item.Category, &item.PipelineVersion, &status, &item.ProcessedAt,
		&item.ErrorMessage,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get catalog item %s: %w", url, err)
	}
	if err := json.Unmarshal([]byte(keywordsJSON), &item.Keywords); err != nil {
		return nil, fmt.Errorf("decode keywords for %s: %w", url, err)
	}
	item.Status = harvest.CatalogStatus(status)
	return &item, nil
}
