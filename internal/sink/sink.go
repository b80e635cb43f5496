// Package sink appends cataloged items to durable output artifacts. All
// writes are append-only so an interrupted run can lose at most its
// unflushed tail, never corrupt earlier output.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"docharvest/internal/harvest"
)

const markdownHeader = "| Site | Title | Filename | Category | Keywords | Summary |\n|---|---|---|---|---|---|\n"

// record is the wire shape of one JSONL line.
type record struct {
	SourceSite       string   `json:"source_site"`
	Title            string   `json:"title"`
	OriginalFilename string   `json:"original_filename"`
	URL              string   `json:"url"`
	LocalPath        string   `json:"local_path"`
	Keywords         []string `json:"keywords"`
	Summary          string   `json:"summary"`
	Category         string   `json:"category"`
}

// FileSink appends items to a JSONL stream and a Markdown table.
type FileSink struct {
	jsonlPath    string
	markdownPath string
	logger       *zap.Logger
}

// NewFileSink creates the sink. Files are created lazily on first append.
func NewFileSink(jsonlPath, markdownPath string, logger *zap.Logger) (*FileSink, error) {
	if strings.TrimSpace(jsonlPath) == "" || strings.TrimSpace(markdownPath) == "" {
		return nil, fmt.Errorf("sink paths are required")
	}
	return &FileSink{jsonlPath: jsonlPath, markdownPath: markdownPath, logger: logger}, nil
}

// Append writes one JSONL line and one table row per item. Items are
// flushed per call so a crash between batches loses nothing already
// appended.
func (s *FileSink) Append(ctx context.Context, items []harvest.CatalogItem) error {
	if len(items) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.appendJSONL(items); err != nil {
		return err
	}
	return s.appendMarkdown(items)
}

func (s *FileSink) appendJSONL(items []harvest.CatalogItem) error {
	f, err := openAppend(s.jsonlPath)
	if err != nil {
		return fmt.Errorf("open jsonl sink: %w", err)
	}
	defer f.Close()

	// A crash can leave a partial trailing line. Terminate it so the next
	// record starts on its own line; readers drop the mangled one.
	if err := ensureTrailingNewline(f); err != nil {
		return fmt.Errorf("repair jsonl tail: %w", err)
	}

	enc := json.NewEncoder(f)
	for _, item := range items {
		keywords := item.Keywords
		if keywords == nil {
			keywords = []string{}
		}
		if err := enc.Encode(record{
			SourceSite:       item.SourceSite,
			Title:            item.Title,
			OriginalFilename: item.OriginalFilename,
			URL:              item.FileURL,
			LocalPath:        item.LocalPath,
			Keywords:         keywords,
			Summary:          item.Summary,
			Category:         item.Category,
		}); err != nil {
			return fmt.Errorf("append jsonl record for %s: %w", item.FileURL, err)
		}
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync jsonl sink: %w", err)
	}
	return nil
}

func (s *FileSink) appendMarkdown(items []harvest.CatalogItem) error {
	_, statErr := os.Stat(s.markdownPath)
	needHeader := os.IsNotExist(statErr)

	f, err := openAppend(s.markdownPath)
	if err != nil {
		return fmt.Errorf("open markdown sink: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	if needHeader {
		b.WriteString(markdownHeader)
	}
	for _, item := range items {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s |\n",
			escapeCell(item.SourceSite),
			escapeCell(item.Title),
			escapeCell(item.OriginalFilename),
			escapeCell(item.Category),
			escapeCell(strings.Join(item.Keywords, ", ")),
			escapeCell(item.Summary),
		)
	}
	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("append markdown rows: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync markdown sink: %w", err)
	}
	return nil
}

func ensureTrailingNewline(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return err
	}
	if last[0] != '\n' {
		if _, err := f.WriteString("\n"); err != nil {
			return err
		}
	}
	return nil
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	// O_RDWR so the tail-repair check can read the last byte.
	return os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o640)
}

// escapeCell keeps pipes and newlines from breaking the table layout.
func escapeCell(v string) string {
	v = strings.ReplaceAll(v, "|", `\|`)
	v = strings.ReplaceAll(v, "\n", " ")
	return strings.TrimSpace(v)
}
