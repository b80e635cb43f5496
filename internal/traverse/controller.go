package traverse

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"docharvest/internal/blob"
	"docharvest/internal/download"
	"docharvest/internal/harvest"
	"docharvest/internal/metrics"
)

// frontierEntry is one pending (URL, depth) pair.
type frontierEntry struct {
	url   string
	depth int
}

// crawlStore is the durable state the controller touches.
type crawlStore interface {
	harvest.FileIndex
	harvest.PageLog
}

// Config holds controller-wide settings shared across sites.
type Config struct {
	// BaseDir is the root of the per-domain download tree; recorded local
	// paths are relative to it.
	BaseDir       string
	UserAgent     string
	PageTimeout   time.Duration
	RespectRobots bool
}

// Controller crawls one site at a time with a single sequential frontier.
// Concurrency across sites is achieved by independent controllers.
type Controller struct {
	client     *http.Client
	userAgent  string
	baseDir    string
	store      crawlStore
	downloader *download.Downloader
	blobs      *blob.Store
	robots     RobotsPolicy
	clock      harvest.Clock
	logger     *zap.Logger

	// Stop is an optional cooperative stop-check polled at every
	// frontier pop.
	Stop func() bool
}

// NewController wires a traversal controller.
func NewController(cfg Config, store crawlStore, downloader *download.Downloader,
	blobs *blob.Store, clock harvest.Clock, logger *zap.Logger) (*Controller, error) {

	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("download base directory is required")
	}
	timeout := cfg.PageTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Controller{
		client:     &http.Client{Timeout: timeout},
		userAgent:  cfg.UserAgent,
		baseDir:    cfg.BaseDir,
		store:      store,
		downloader: downloader,
		blobs:      blobs,
		robots:     NewRobotsPolicy(cfg.RespectRobots, cfg.UserAgent, logger),
		clock:      clock,
		logger:     logger,
	}, nil
}

// Crawl walks site breadth-first within its page, depth and politeness
// budgets, downloading matching documents as it goes. Page-level failures
// are counted and skipped, never fatal; store failures abort the crawl.
func (c *Controller) Crawl(ctx context.Context, site SiteConfig) (harvest.CrawlStats, error) {
	var stats harvest.CrawlStats
	if err := site.Validate(); err != nil {
		return stats, err
	}
	site = site.withDefaults()

	root, err := url.Parse(site.URL)
	if err != nil {
		return stats, fmt.Errorf("parse root url: %w", err)
	}

	limiter := rate.NewLimiter(rate.Every(site.Delay), 1)
	visited := make(map[string]bool)
	var frontier []frontierEntry

	if seeds := c.seedsFromSitemap(ctx, root, site.MaxPages); len(seeds) > 0 {
		c.logger.Info("seeded frontier from sitemap",
			zap.String("site", site.Name), zap.Int("urls", len(seeds)))
		for _, seed := range seeds {
			frontier = append(frontier, frontierEntry{url: seed, depth: 0})
		}
	} else {
		frontier = append(frontier, frontierEntry{url: site.URL, depth: 0})
	}

	for len(frontier) > 0 && stats.PagesVisited < int64(site.MaxPages) {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if c.Stop != nil && c.Stop() {
			c.logger.Info("crawl stopped", zap.String("site", site.Name))
			return stats, nil
		}

		entry := frontier[0]
		frontier = frontier[1:]

		if visited[entry.url] {
			continue
		}
		visited[entry.url] = true

		if !sameDomain(root, entry.url) || site.excluded(entry.url) {
			continue
		}
		if !c.robots.Allowed(ctx, entry.url) {
			continue
		}
		if err := c.waitPolite(ctx, limiter, site.Delay); err != nil {
			return stats, err
		}

		// Frontier entries can point straight at documents, e.g. from
		// the sitemap.
		if isDocumentURL(entry.url, site.FileExts) {
			c.acquire(ctx, site, acquireContext{fileURL: entry.url}, &stats)
			continue
		}

		p, err := c.fetchPage(ctx, entry.url)
		if err != nil {
			stats.Failures++
			metrics.ObservePage(entry.url, "error")
			c.logger.Warn("page fetch failed",
				zap.String("site", site.Name),
				zap.String("url", entry.url),
				zap.Error(err),
			)
			continue
		}
		stats.PagesVisited++
		metrics.ObservePage(entry.url, "success")

		if err := c.store.MarkPageSeen(ctx, entry.url, c.clock.Now()); err != nil {
			return stats, fmt.Errorf("mark page seen: %w", err)
		}

		// Redirects may land on an excluded URL the pre-fetch check
		// could not see.
		finalURL := p.finalURL.String()
		if finalURL != entry.url {
			visited[finalURL] = true
			if site.excluded(finalURL) || !sameDomain(root, finalURL) {
				continue
			}
		}

		relevant := len(site.Keywords) == 0 || site.matchesKeyword(p.text)

		for _, l := range p.links {
			if isDocumentURL(l.url, site.FileExts) {
				if relevant || site.matchesKeyword(l.url) || site.matchesKeyword(l.anchor) {
					c.acquire(ctx, site, acquireContext{
						fileURL:       l.url,
						anchor:        l.anchor,
						sourcePageURL: finalURL,
						published:     p.published,
					}, &stats)
				}
				continue
			}
			if !relevant || entry.depth+1 > site.MaxDepth {
				continue
			}
			if !visited[l.url] && sameDomain(root, l.url) && !site.excluded(l.url) {
				frontier = append(frontier, frontierEntry{url: l.url, depth: entry.depth + 1})
			}
		}
	}

	c.logger.Info("crawl complete",
		zap.String("site", site.Name),
		zap.Int64("pages", stats.PagesVisited),
		zap.Int64("files", stats.FilesFound),
		zap.Int64("dedup_hits", stats.DedupHits),
		zap.Int64("failures", stats.Failures),
	)
	return stats, nil
}

// acquireContext carries where a document link was found.
type acquireContext struct {
	fileURL       string
	anchor        string
	sourcePageURL string
	published     time.Time
}

// acquire downloads one document URL, commits it to the blob store and
// records its FileRecord. Failures are counted, never fatal.
func (c *Controller) acquire(ctx context.Context, site SiteConfig, ac acquireContext, stats *harvest.CrawlStats) {
	fileURL := ac.fileURL
	if site.excluded(fileURL) {
		return
	}
	exists, err := c.store.FileExists(ctx, fileURL)
	if err != nil {
		stats.Failures++
		c.logger.Warn("file index lookup failed", zap.String("url", fileURL), zap.Error(err))
		return
	}
	if exists {
		return
	}
	if !c.robots.Allowed(ctx, fileURL) {
		return
	}

	res, err := c.downloader.Fetch(ctx, fileURL)
	if err != nil {
		stats.Failures++
		c.logger.Warn("download failed", zap.String("url", fileURL), zap.Error(err))
		return
	}

	// The redirected URL and the advertised filename get the same
	// exclusion treatment as the link itself.
	filename := download.SanitizeFilename(download.OriginalFilename(res.Header, res.FinalURL))
	if site.excluded(res.FinalURL) || site.excludedFilename(filename) {
		c.downloader.Discard(res.StagedPath)
		return
	}

	finalURL, err := url.Parse(res.FinalURL)
	if err != nil {
		c.downloader.Discard(res.StagedPath)
		stats.Failures++
		return
	}
	preferred := filepath.Join(download.DomainDir(c.baseDir, finalURL), filename)

	commit, err := c.blobs.Commit(ctx, blob.CommitRequest{
		StagedPath:    res.StagedPath,
		Fingerprint:   res.Fingerprint,
		PreferredPath: preferred,
		ByteSize:      res.Size,
		ContentType:   res.Header.Get("Content-Type"),
	})
	if err != nil {
		c.downloader.Discard(res.StagedPath)
		stats.Failures++
		c.logger.Warn("blob commit failed", zap.String("url", fileURL), zap.Error(err))
		return
	}

	localPath := commit.Path
	if rel, relErr := filepath.Rel(c.baseDir, commit.Path); relErr == nil {
		localPath = rel
	}

	title := ac.anchor
	if title == "" {
		title = filename
	}
	published := ""
	if !ac.published.IsZero() {
		published = ac.published.Format(time.RFC3339)
	}
	now := c.clock.Now()
	rec := harvest.FileRecord{
		URL:              fileURL,
		Fingerprint:      res.Fingerprint,
		Title:            title,
		SourceSite:       site.Name,
		SourcePageURL:    ac.sourcePageURL,
		OriginalFilename: filename,
		LocalPath:        localPath,
		ByteSize:         res.Size,
		ContentType:      res.Header.Get("Content-Type"),
		LastModified:     res.Header.Get("Last-Modified"),
		ETag:             res.Header.Get("ETag"),
		PublishedTime:    published,
		FirstSeen:        now,
		LastSeen:         now,
	}
	if err := c.store.UpsertFile(ctx, rec); err != nil {
		stats.Failures++
		c.logger.Error("file record upsert failed", zap.String("url", fileURL), zap.Error(err))
		return
	}

	stats.FilesFound++
	if commit.DedupHit {
		stats.DedupHits++
	}
	metrics.ObserveDownload(site.URL, res.Size, commit.DedupHit)
	c.logger.Info("acquired file",
		zap.String("site", site.Name),
		zap.String("url", fileURL),
		zap.String("path", localPath),
		zap.Bool("dedup_hit", commit.DedupHit),
	)
}

// waitPolite blocks for the politeness interval plus up to half again as
// jitter, honoring cancellation.
func (c *Controller) waitPolite(ctx context.Context, limiter *rate.Limiter, delay time.Duration) error {
	if err := limiter.Wait(ctx); err != nil {
		return err
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
	select {
	case <-time.After(jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
