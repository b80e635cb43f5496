package harvest

import (
	"context"
	"time"
)

// FileIndex persists FileRecord rows keyed by URL.
type FileIndex interface {
	UpsertFile(ctx context.Context, rec FileRecord) error
	FileExists(ctx context.Context, url string) (bool, error)
	FileByURL(ctx context.Context, url string) (*FileRecord, error)
	ListFiles(ctx context.Context, opts FileListOptions) ([]FileRecord, error)
}

// BlobIndex persists Blob rows keyed by content fingerprint.
type BlobIndex interface {
	UpsertBlob(ctx context.Context, blob Blob) error
	BlobByFingerprint(ctx context.Context, fingerprint string) (*Blob, error)
}

// PageLog records which page URLs have been fetched, so repeated runs can
// avoid re-visiting unchanged pages.
type PageLog interface {
	MarkPageSeen(ctx context.Context, url string, seen time.Time) error
}

// CatalogState persists per-file catalog outcomes and selects candidates
// for (re)processing.
type CatalogState interface {
	SelectCandidates(ctx context.Context, q CandidateQuery) ([]Candidate, error)
	// ApplyOutcomes upserts all items in a single transaction.
	ApplyOutcomes(ctx context.Context, items []CatalogItem) error
	CatalogItemByURL(ctx context.Context, url string) (*CatalogItem, error)
}

// Store is the durable single source of truth backing both subsystems.
type Store interface {
	FileIndex
	BlobIndex
	PageLog
	CatalogState
	Close() error
}

// Extractor turns a file on disk into text, bounded by maxChars. Failures
// carry a kind (unsupported, corrupt, empty, io) the engine can branch on.
type Extractor interface {
	Extract(ctx context.Context, path string, maxChars int) (string, error)
}

// Classifier provides the relevance/classification heuristics. The engine
// treats these as black boxes.
type Classifier interface {
	Keywords(text, title string) []string
	Summarize(text string, keywords []string) string
	Categorize(title, text string, keywords []string) string
	Relevant(title, text string, keywords []string) bool
}

// Sink receives successfully cataloged items, append-only.
type Sink interface {
	Append(ctx context.Context, items []CatalogItem) error
}

// SeedProvider supplies additional seed URLs for the traversal controller
// (e.g. an external search API).
type SeedProvider interface {
	Seeds(ctx context.Context, query string) ([]string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
