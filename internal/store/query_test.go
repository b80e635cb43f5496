package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"docharvest/internal/harvest"
)

func TestListFilesSQLRejectsUnknownSortColumn(t *testing.T) {
	t.Parallel()

	_, _, err := ListFilesSQL(harvest.FileListOptions{SortBy: "url; DROP TABLE files"}, Question)
	require.Error(t, err)
}

func TestListFilesSQLDefaults(t *testing.T) {
	t.Parallel()

	sql, args, err := ListFilesSQL(harvest.FileListOptions{}, Question)
	require.NoError(t, err)
	require.Contains(t, sql, "ORDER BY id ASC")
	require.Contains(t, sql, "LIMIT ?")
	require.Equal(t, []any{50, 0}, args)
}

func TestListFilesSQLSiteFilterAndDollarStyle(t *testing.T) {
	t.Parallel()

	sql, args, err := ListFilesSQL(harvest.FileListOptions{
		Site:       "SOA",
		SortBy:     "last_seen",
		Descending: true,
		Limit:      10,
		Offset:     20,
	}, Dollar)
	require.NoError(t, err)
	require.Contains(t, sql, "LOWER(source_site) LIKE $1")
	require.Contains(t, sql, "ORDER BY last_seen DESC")
	require.Contains(t, sql, "LIMIT $2 OFFSET $3")
	require.Equal(t, []any{"%soa%", 10, 20}, args)
}

func TestListFilesSQLCapsLimit(t *testing.T) {
	t.Parallel()

	_, args, err := ListFilesSQL(harvest.FileListOptions{Limit: 100000}, Question)
	require.NoError(t, err)
	require.Equal(t, []any{500, 0}, args)
}

func TestCandidatesSQLDefault(t *testing.T) {
	t.Parallel()

	sql, args := CandidatesSQL(harvest.CandidateQuery{PipelineVersion: "v1", Limit: 25}, Question)
	require.Contains(t, sql, "LEFT JOIN catalog_items")
	require.Contains(t, sql, "ORDER BY f.id DESC")
	require.NotContains(t, sql, "c.status = 'error'")
	require.Equal(t, []any{"v1", 25}, args)
}

func TestCandidatesSQLRetryAndSites(t *testing.T) {
	t.Parallel()

	sql, args := CandidatesSQL(harvest.CandidateQuery{
		PipelineVersion: "v2",
		Limit:           5,
		Sites:           []string{"soa", "casact"},
		RetryErrors:     true,
	}, Dollar)
	require.Contains(t, sql, "OR c.status = 'error'")
	require.Contains(t, sql, "LOWER(f.source_site) LIKE $2")
	require.Contains(t, sql, "LOWER(f.source_site) LIKE $3")
	require.Equal(t, []any{"v2", "%soa%", "%casact%", 5}, args)
}
