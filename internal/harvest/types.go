// Package harvest defines the core types and interfaces shared across the
// acquisition and cataloging subsystems.
package harvest

import "time"

// CatalogStatus is the durable outcome recorded for a cataloged file.
type CatalogStatus string

// Catalog item status values persisted in the catalog state store.
const (
	StatusOK      CatalogStatus = "ok"
	StatusSkipped CatalogStatus = "skipped"
	StatusError   CatalogStatus = "error"
)

// FileRecord is the durable record of a discovered resource. The URL is the
// natural key; Fingerprint references a Blob.
type FileRecord struct {
	URL              string
	Fingerprint      string
	Title            string
	SourceSite       string
	SourcePageURL    string
	OriginalFilename string
	LocalPath        string
	ByteSize         int64
	ContentType      string
	LastModified     string
	ETag             string
	PublishedTime    string
	FirstSeen        time.Time
	LastSeen         time.Time
}

// Blob is one physical, deduplicated copy of file content, addressed by its
// content fingerprint. There is at most one row per distinct byte sequence.
type Blob struct {
	Fingerprint   string
	CanonicalPath string
	ByteSize      int64
	ContentType   string
	FirstSeen     time.Time
	LastSeen      time.Time
}

// CatalogItem records the per-file outcome of one catalog engine pass.
// It is keyed by file URL and upserted on every run that touches the URL.
type CatalogItem struct {
	FileURL          string
	Fingerprint      string
	Title            string
	SourceSite       string
	OriginalFilename string
	LocalPath        string
	Keywords         []string
	Summary          string
	Category         string
	PipelineVersion  string
	Status           CatalogStatus
	ProcessedAt      time.Time
	ErrorMessage     string
}

// Candidate is a file selected by the catalog engine as needing (re)processing.
// Seq is the file's insertion sequence, used for deterministic ordering.
type Candidate struct {
	Seq              int64
	URL              string
	Fingerprint      string
	Title            string
	SourceSite       string
	OriginalFilename string
	LocalPath        string
}

// CandidateQuery bounds one round of candidate selection.
type CandidateQuery struct {
	Limit           int
	PipelineVersion string
	// Sites restricts selection to files whose source site contains any of
	// the given substrings (case-insensitive). Empty means all sites.
	Sites []string
	// RetryErrors re-selects files whose stored status is "error".
	RetryErrors bool
}

// FileListOptions controls the read-only file listing used by the ops API.
// SortBy must name an allow-listed column.
type FileListOptions struct {
	Site       string
	SortBy     string
	Descending bool
	Limit      int
	Offset     int
}

// CatalogStats aggregates the outcome counts of one catalog engine run.
type CatalogStats struct {
	Scanned      int64
	Processed    int64
	Written      int64
	Skipped      int64
	Errors       int64
	MissingFiles int64
}

// CrawlStats aggregates the outcome counts of one site crawl.
type CrawlStats struct {
	PagesVisited int64
	FilesFound   int64
	DedupHits    int64
	Failures     int64
}
