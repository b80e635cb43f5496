package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"docharvest/internal/harvest"
	"docharvest/internal/store"
)

// SelectCandidates returns files needing (re)processing, newest-first.
func (s *Store) SelectCandidates(ctx context.Context, q harvest.CandidateQuery) ([]harvest.Candidate, error) {
	query, args := store.CandidatesSQL(q, store.Question)
	rows, err := s.db.QueryContext(ctx, query, args...)
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
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(file_url) DO UPDATE SET
		fingerprint = excluded.fingerprint,
		title = excluded.title,
		source_site = excluded.source_site,
		original_filename = excluded.original_filename,
		local_path = excluded.local_path,
		keywords_json = excluded.keywords_json,
		summary = excluded.summary,
		category = excluded.category,
		pipeline_version = excluded.pipeline_version,
		status = excluded.status,
		processed_at = excluded.processed_at,
		error_message = excluded.error_message`

// ApplyOutcomes upserts all items inside a single transaction, so a batch is
// either fully recorded or not at all.
func (s *Store) ApplyOutcomes(ctx context.Context, items []harvest.CatalogItem) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin outcome batch: %w", err)
	}
	defer tx.Rollback()

	for _, item := range items {
		keywords, err := json.Marshal(item.Keywords)
		if err != nil {
			return fmt.Errorf("marshal keywords for %s: %w", item.FileURL, err)
		}
		if item.Keywords == nil {
			keywords = []byte("[]")
		}
		if _, err := tx.ExecContext(ctx, upsertCatalogItemSQL,
			item.FileURL, item.Fingerprint, item.Title, item.SourceSite,
			item.OriginalFilename, item.LocalPath, string(keywords),
			item.Summary, item.Category, item.PipelineVersion,
			string(item.Status), formatTime(item.ProcessedAt), item.ErrorMessage,
		); err != nil {
			return fmt.Errorf("upsert catalog item %s: %w", item.FileURL, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit outcome batch: %w", err)
	}
	return nil
}

// CatalogItemByURL returns the catalog row for url, or nil when absent.
func (s *Store) CatalogItemByURL(ctx context.Context, url string) (*harvest.CatalogItem, error) {
	var item harvest.CatalogItem
	var keywordsJSON, status, processedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT file_url, fingerprint, title, source_site, original_filename,
			local_path, keywords_json, summary, category, pipeline_version,
			status, processed_at, error_message
		FROM catalog_items WHERE file_url = ?`, url).Scan(
		&item.FileURL, &item.Fingerprint, &item.Title, &item.SourceSite,
		&item.OriginalFilename, &item.LocalPath, &keywordsJSON, &item.Summary,
		&item.Category, &item.PipelineVersion, &status, &processedAt,
		&item.ErrorMessage,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get catalog item %s: %w", url, err)
	}
	if err := json.Unmarshal([]byte(keywordsJSON), &item.Keywords); err != nil {
		return nil, fmt.Errorf("decode keywords for %s: %w", url, err)
	}
	item.Status = harvest.CatalogStatus(status)
	item.ProcessedAt = parseTime(processedAt)
	return &item, nil
}
