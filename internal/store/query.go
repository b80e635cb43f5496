// Package store holds the query contract shared by the SQLite and Postgres
// backends: table layout, candidate selection, and the allow-listed listing
// query used by the ops API.
package store

import (
	"fmt"
	"strings"

	"docharvest/internal/harvest"
)

// Placeholder selects the bind-parameter style of the target backend.
type Placeholder int

// Supported placeholder styles.
const (
	Question Placeholder = iota // ?
	Dollar                      // $1, $2, ...
)

// params accumulates bind arguments and renders style-appropriate
// placeholders.
type params struct {
	style Placeholder
	args  []any
}

func (p *params) add(v any) string {
	p.args = append(p.args, v)
	if p.style == Dollar {
		return fmt.Sprintf("$%d", len(p.args))
	}
	return "?"
}

// fileColumns is the column list selected for FileRecord scans, in the order
// the backends scan them.
const fileColumns = `url, fingerprint, title, source_site, source_page_url,
	original_filename, local_path, byte_size, content_type, last_modified,
	etag, published_time, first_seen, last_seen`

// sortColumns is the fixed allow-list of sortable columns for ListFiles.
// Anything else is rejected, which keeps the listing query injection-safe
// without reflection.
var sortColumns = map[string]string{
	"seq":        "id",
	"url":        "url",
	"site":       "source_site",
	"size":       "byte_size",
	"first_seen": "first_seen",
	"last_seen":  "last_seen",
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ListFilesSQL builds the file listing query. It returns an error when
// SortBy is not in the allow-list.
func ListFilesSQL(opts harvest.FileListOptions, style Placeholder) (string, []any, error) {
	sortBy := opts.SortBy
	if sortBy == "" {
		sortBy = "seq"
	}
	col, ok := sortColumns[sortBy]
	if !ok {
		return "", nil, fmt.Errorf("unsupported sort column %q", opts.SortBy)
	}
	dir := "ASC"
	if opts.Descending {
		dir = "DESC"
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	p := &params{style: style}
	var b strings.Builder
	b.WriteString("SELECT " + fileColumns + " FROM files")
	if opts.Site != "" {
		b.WriteString(" WHERE LOWER(source_site) LIKE " + p.add("%"+strings.ToLower(opts.Site)+"%"))
	}
	b.WriteString(" ORDER BY " + col + " " + dir)
	b.WriteString(" LIMIT " + p.add(limit))
	b.WriteString(" OFFSET " + p.add(offset))
	return b.String(), p.args, nil
}

// CandidatesSQL builds the candidate selection query: files with a local
// path that have no catalog row, a changed fingerprint, a changed pipeline
// version, or (when retrying) a stored error. Ordered newest-first by file
// insertion sequence so budget-limited runs attend to recent content first.
func CandidatesSQL(q harvest.CandidateQuery, style Placeholder) (string, []any) {
	p := &params{style: style}

	version := p.add(q.PipelineVersion)

	var siteCond string
	if len(q.Sites) > 0 {
		clauses := make([]string, 0, len(q.Sites))
		for _, s := range q.Sites {
			clauses = append(clauses, "LOWER(f.source_site) LIKE "+p.add("%"+strings.ToLower(s)+"%"))
		}
		siteCond = " AND (" + strings.Join(clauses, " OR ") + ")"
	}

	retryCond := ""
	if q.RetryErrors {
		retryCond = " OR c.status = 'error'"
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	sql := `SELECT f.id, f.url, f.fingerprint, f.title, f.source_site,
	f.original_filename, f.local_path
FROM files f
LEFT JOIN catalog_items c ON c.file_url = f.url
WHERE f.local_path != ''
  AND (
    c.file_url IS NULL
    OR c.fingerprint != f.fingerprint
    OR c.pipeline_version != ` + version + retryCond + `
  )` + siteCond + `
ORDER BY f.id DESC
LIMIT ` + p.add(limit)
	return sql, p.args
}
