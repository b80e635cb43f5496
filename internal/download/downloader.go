// Package download streams remote files into a per-domain staging area while
// computing their content fingerprint. Committing or discarding a staged file
// is the caller's responsibility.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"docharvest/internal/hash/sha256"
)

const (
	tmpDirName  = "_tmp"
	partSuffix  = ".part"
	staleMaxAge = 24 * time.Hour
)

// Config captures downloader parameters.
type Config struct {
	// BaseDir is the root of the per-domain download tree.
	BaseDir   string
	UserAgent string
	Timeout   time.Duration
}

// Result describes one successfully staged download.
type Result struct {
	StagedPath  string
	Header      http.Header
	FinalURL    string
	Fingerprint string
	Size        int64
}

// Downloader fetches URLs into staging files.
type Downloader struct {
	client    *http.Client
	baseDir   string
	userAgent string
	logger    *zap.Logger
}

// New creates a Downloader and sweeps staging files left behind by a
// previous crash.
func New(cfg Config, logger *zap.Logger) (*Downloader, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("download base directory is required")
	}
	if err := os.MkdirAll(cfg.BaseDir, 0o750); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	d := &Downloader{
		client:    &http.Client{Timeout: timeout},
		baseDir:   cfg.BaseDir,
		userAgent: cfg.UserAgent,
		logger:    logger,
	}
	d.sweepStaleTemp(staleMaxAge)
	return d, nil
}

// Fetch streams rawURL into a staging file under the final URL's domain
// directory, computing the SHA-256 fingerprint as bytes arrive. On any
// failure the partial staging file is removed before the error propagates.
func (d *Downloader) Fetch(ctx context.Context, rawURL string) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("build request for %s: %w", rawURL, err)
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("fetch %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	finalURL := resp.Request.URL.String()
	tmpDir := filepath.Join(DomainDir(d.baseDir, resp.Request.URL), tmpDirName)
	if err := os.MkdirAll(tmpDir, 0o750); err != nil {
		return Result{}, fmt.Errorf("create staging dir: %w", err)
	}

	tmpPath := filepath.Join(tmpDir, fmt.Sprintf("download_%d%s", time.Now().UnixNano(), partSuffix))
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return Result{}, fmt.Errorf("create staging file: %w", err)
	}

	digest := sha256.NewDigest()
	_, copyErr := io.Copy(io.MultiWriter(f, digest), resp.Body)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		if rmErr := os.Remove(tmpPath); rmErr != nil {
			d.logger.Warn("failed to clean up partial download",
				zap.String("path", tmpPath), zap.Error(rmErr))
		}
		if copyErr != nil {
			return Result{}, fmt.Errorf("stream %s: %w", rawURL, copyErr)
		}
		return Result{}, fmt.Errorf("close staging file: %w", closeErr)
	}

	d.logger.Debug("downloaded file",
		zap.String("url", rawURL),
		zap.Int64("bytes", digest.Size()),
	)

	return Result{
		StagedPath:  tmpPath,
		Header:      resp.Header,
		FinalURL:    finalURL,
		Fingerprint: digest.Sum(),
		Size:        digest.Size(),
	}, nil
}

// Discard removes a staged file, tolerating one that is already gone.
func (d *Downloader) Discard(stagedPath string) {
	if stagedPath == "" {
		return
	}
	if err := os.Remove(stagedPath); err != nil && !os.IsNotExist(err) {
		d.logger.Warn("failed to discard staged file",
			zap.String("path", stagedPath), zap.Error(err))
	}
}

// sweepStaleTemp removes .part files older than maxAge left behind by
// interrupted runs, bounding disk growth across crashes.
func (d *Downloader) sweepStaleTemp(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)
	matches, err := filepath.Glob(filepath.Join(d.baseDir, "*", tmpDirName, "*"+partSuffix))
	if err != nil {
		return
	}
	cleaned := 0
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err == nil {
				cleaned++
			}
		}
	}
	if cleaned > 0 {
		d.logger.Info("cleaned up stale staging files", zap.Int("count", cleaned))
	}
}

// DomainDir returns the per-domain directory for u under baseDir. Port
// colons are replaced so the directory name stays filesystem-safe.
func DomainDir(baseDir string, u *url.URL) string {
	host := strings.ReplaceAll(u.Host, ":", "_")
	if host == "" {
		host = "unknown"
	}
	return filepath.Join(baseDir, host)
}
