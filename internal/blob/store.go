// Package blob owns the content-addressed canonical file layout. Each
// distinct fingerprint is stored exactly once; re-downloads of identical
// content become hard links instead of copies.
package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"docharvest/internal/harvest"
)

const maxNumericSuffix = 999

// Store commits staged downloads into their canonical, deduplicated
// location and keeps the blob index in sync.
type Store struct {
	index  harvest.BlobIndex
	clock  harvest.Clock
	logger *zap.Logger
}

// CommitRequest describes one staged file ready to be placed.
type CommitRequest struct {
	StagedPath  string
	Fingerprint string
	// PreferredPath is where the caller would like the file to live,
	// typically <domain dir>/<sanitized original filename>.
	PreferredPath string
	ByteSize      int64
	ContentType   string
}

// CommitResult reports where the content ended up.
type CommitResult struct {
	// Path is the location recorded for this URL. It equals the canonical
	// path unless a hard link at the preferred location succeeded.
	Path string
	// DedupHit is true when identical content was already on disk.
	DedupHit bool
}

// NewStore creates a blob store backed by index.
func NewStore(index harvest.BlobIndex, clock harvest.Clock, logger *zap.Logger) *Store {
	return &Store{index: index, clock: clock, logger: logger}
}

// Commit places a staged file. When a blob with the same fingerprint
// already exists and its canonical file is still on disk, the staged copy
// is discarded and a hard link is attempted at the preferred location.
// Otherwise the staged file is renamed into place, resolving filename
// conflicts with numeric then timestamp suffixes.
func (s *Store) Commit(ctx context.Context, req CommitRequest) (CommitResult, error) {
	if req.StagedPath == "" || req.Fingerprint == "" || req.PreferredPath == "" {
		return CommitResult{}, fmt.Errorf("commit blob: staged path, fingerprint and preferred path are required")
	}

	now := s.clock.Now()
	existing, err := s.index.BlobByFingerprint(ctx, req.Fingerprint)
	if err != nil {
		return CommitResult{}, fmt.Errorf("look up blob %s: %w", req.Fingerprint, err)
	}

	if existing != nil {
		if _, statErr := os.Stat(existing.CanonicalPath); statErr == nil {
			return s.commitHit(ctx, req, existing, now)
		}
		// The canonical file vanished out from under the index. Treat it
		// as a cache miss and re-stage the content.
		s.logger.Warn("canonical blob file missing, restoring",
			zap.String("fingerprint", req.Fingerprint),
			zap.String("path", existing.CanonicalPath),
		)
	}

	return s.commitMiss(ctx, req, now)
}

func (s *Store) commitHit(ctx context.Context, req CommitRequest, existing *harvest.Blob, now time.Time) (CommitResult, error) {
	if err := os.Remove(req.StagedPath); err != nil && !os.IsNotExist(err) {
		return CommitResult{}, fmt.Errorf("discard duplicate staged file: %w", err)
	}

	path := existing.CanonicalPath
	if req.PreferredPath != existing.CanonicalPath {
		if linked, err := s.linkAt(req.PreferredPath, existing.CanonicalPath); err == nil {
			path = linked
		} else {
			// Hard links can fail across filesystems or on exotic mounts.
			// The canonical path still serves the content.
			s.logger.Debug("hard link failed, reusing canonical path",
				zap.String("canonical", existing.CanonicalPath),
				zap.Error(err),
			)
		}
	}

	refreshed := *existing
	refreshed.LastSeen = now
	if err := s.index.UpsertBlob(ctx, refreshed); err != nil {
		return CommitResult{}, fmt.Errorf("refresh blob %s: %w", req.Fingerprint, err)
	}

	s.logger.Debug("dedup hit",
		zap.String("fingerprint", req.Fingerprint),
		zap.String("path", path),
	)
	return CommitResult{Path: path, DedupHit: true}, nil
}

func (s *Store) commitMiss(ctx context.Context, req CommitRequest, now time.Time) (CommitResult, error) {
	target, err := resolveConflict(req.PreferredPath)
	if err != nil {
		return CommitResult{}, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return CommitResult{}, fmt.Errorf("create blob dir: %w", err)
	}
	if err := os.Rename(req.StagedPath, target); err != nil {
		return CommitResult{}, fmt.Errorf("commit staged file: %w", err)
	}

	blob := harvest.Blob{
		Fingerprint:   req.Fingerprint,
		CanonicalPath: target,
		ByteSize:      req.ByteSize,
		ContentType:   req.ContentType,
		FirstSeen:     now,
		LastSeen:      now,
	}
	if err := s.index.UpsertBlob(ctx, blob); err != nil {
		return CommitResult{}, fmt.Errorf("record blob %s: %w", req.Fingerprint, err)
	}
	return CommitResult{Path: target}, nil
}

// linkAt hard-links canonical at preferred. When preferred is taken by a
// different file a conflict-free sibling name is used instead.
func (s *Store) linkAt(preferred, canonical string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(preferred), 0o750); err != nil {
		return "", fmt.Errorf("create link dir: %w", err)
	}
	target, err := resolveConflict(preferred)
	if err != nil {
		return "", err
	}
	if err := os.Link(canonical, target); err != nil {
		return "", err
	}
	return target, nil
}

// resolveConflict returns preferred if free, otherwise the first free
// name_1..name_999 variant, otherwise a unix-timestamp suffixed name.
func resolveConflict(preferred string) (string, error) {
	if _, err := os.Stat(preferred); os.IsNotExist(err) {
		return preferred, nil
	}
	dir := filepath.Dir(preferred)
	base := filepath.Base(preferred)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	for i := 1; i <= maxNumericSuffix; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, i, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
	candidate := filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, time.Now().UnixNano(), ext))
	if _, err := os.Stat(candidate); err == nil {
		return "", fmt.Errorf("resolve filename conflict for %s: namespace exhausted", preferred)
	}
	return candidate, nil
}
