package extract

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// Service extracts text from local files, dispatching on file extension.
// Plain text, Markdown and HTML are built in; anything else fails with
// KindUnsupported so a richer extractor can be swapped in later.
type Service struct {
	logger *zap.Logger
}

// NewService creates the built-in extractor.
func NewService(logger *zap.Logger) *Service {
	return &Service{logger: logger}
}

// Extract reads path and returns its text content, truncated to maxChars
// runes when maxChars > 0. Empty or whitespace-only content fails with
// KindEmpty.
func (s *Service) Extract(ctx context.Context, path string, maxChars int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ext := strings.ToLower(filepath.Ext(path))
	var (
		text string
		err  error
	)
	switch ext {
	case ".txt", ".md", ".markdown":
		text, err = s.extractPlain(path)
	case ".html", ".htm":
		text, err = s.extractHTML(path)
	default:
		return "", newError(KindUnsupported, path, nil)
	}
	if err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", newError(KindEmpty, path, nil)
	}
	return truncate(text, maxChars), nil
}

func (s *Service) extractPlain(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", newError(KindIO, path, err)
	}
	if !utf8.Valid(raw) {
		return "", newError(KindCorrupt, path, nil)
	}
	return string(raw), nil
}

func (s *Service) extractHTML(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", newError(KindIO, path, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return "", newError(KindCorrupt, path, err)
	}
	doc.Find("script, style, noscript").Remove()
	return doc.Text(), nil
}

func truncate(text string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxChars])
}
