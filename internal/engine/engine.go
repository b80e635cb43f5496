// Package engine implements the incremental catalog pass: select stale or
// new files, extract and classify them on a bounded worker pool, and write
// outcomes back so the next run only touches what changed.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"docharvest/internal/harvest"
	"docharvest/internal/metrics"
)

const (
	skipCategory  = "(filtered: off-topic)"
	errorCategory = "(error)"

	defaultBatchSize = 50
	defaultWorkers   = 4
	defaultMaxChars  = 40000
)

// Config tunes one catalog run.
type Config struct {
	// PipelineVersion tags outcomes; bumping it forces full reprocessing.
	PipelineVersion string
	BatchSize       int
	Workers         int
	// MaxChars bounds extracted text per document. Zero means unlimited.
	MaxChars int
	// RetryErrors re-selects items whose last outcome was an error.
	RetryErrors bool
	// FilesBaseDir resolves relative local paths from the file index.
	FilesBaseDir string
	// Sites restricts the run to the named source sites. Empty means all.
	Sites []string
	// FilterRelevance drops off-topic documents as durable skips.
	FilterRelevance bool
}

// Engine runs incremental catalog passes.
type Engine struct {
	cfg        Config
	state      harvest.CatalogState
	extractor  harvest.Extractor
	classifier harvest.Classifier
	sink       harvest.Sink
	clock      harvest.Clock
	logger     *zap.Logger

	// Progress, when set, is called after each batch with a running total.
	Progress func(harvest.CatalogStats)
}

// New creates an engine. PipelineVersion is required; other zero-valued
// tunables fall back to defaults.
func New(cfg Config, state harvest.CatalogState, extractor harvest.Extractor,
	classifier harvest.Classifier, sink harvest.Sink, clock harvest.Clock,
	logger *zap.Logger) (*Engine, error) {

	if strings.TrimSpace(cfg.PipelineVersion) == "" {
		return nil, fmt.Errorf("pipeline version is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.MaxChars < 0 {
		cfg.MaxChars = defaultMaxChars
	}
	return &Engine{
		cfg:        cfg,
		state:      state,
		extractor:  extractor,
		classifier: classifier,
		sink:       sink,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Run processes batches of candidates until the backlog is drained or ctx
// is cancelled. Store failures abort the run; per-item failures are
// recorded as error outcomes and counted.
func (e *Engine) Run(ctx context.Context) (harvest.CatalogStats, error) {
	var stats harvest.CatalogStats
	seen := make(map[string]struct{})

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		candidates, err := e.state.SelectCandidates(ctx, harvest.CandidateQuery{
			Limit:           e.cfg.BatchSize,
			PipelineVersion: e.cfg.PipelineVersion,
			Sites:           e.cfg.Sites,
			RetryErrors:     e.cfg.RetryErrors,
		})
		if err != nil {
			return stats, fmt.Errorf("select candidates: %w", err)
		}

		// Retry-errors can re-select a file that keeps failing within the
		// same run. Only fresh URLs count toward progress; a batch of
		// nothing but repeats means the backlog is drained.
		fresh := candidates[:0]
		for _, c := range candidates {
			if _, dup := seen[c.URL]; dup {
				continue
			}
			seen[c.URL] = struct{}{}
			fresh = append(fresh, c)
		}
		if len(fresh) == 0 {
			break
		}

		metrics.ObserveBatch(len(fresh))
		stats.Scanned += int64(len(fresh))

		items := e.processBatch(ctx, fresh)
		tally(items, &stats)

		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := e.state.ApplyOutcomes(ctx, items); err != nil {
			return stats, fmt.Errorf("apply outcomes: %w", err)
		}

		written := make([]harvest.CatalogItem, 0, len(items))
		for _, item := range items {
			metrics.ObserveOutcome(string(item.Status))
			if item.Status == harvest.StatusOK {
				written = append(written, item)
			}
		}
		if err := e.sink.Append(ctx, written); err != nil {
			return stats, fmt.Errorf("append to sink: %w", err)
		}
		stats.Written += int64(len(written))

		if e.Progress != nil {
			e.Progress(stats)
		}

		e.logger.Info("catalog batch complete",
			zap.Int("candidates", len(fresh)),
			zap.Int64("processed", stats.Processed),
			zap.Int64("skipped", stats.Skipped),
			zap.Int64("errors", stats.Errors),
		)
	}

	return stats, nil
}

// processBatch extracts and classifies candidates concurrently. Each
// worker writes only its own slot, so outcome order is deterministic and
// no shared state is mutated until the pool drains.
func (e *Engine) processBatch(ctx context.Context, candidates []harvest.Candidate) []harvest.CatalogItem {
	items := make([]harvest.CatalogItem, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i, cand := range candidates {
		i, cand := i, cand
		g.Go(func() error {
			metrics.IncActiveWorkers()
			defer metrics.DecActiveWorkers()
			items[i] = e.processOne(gctx, cand)
			return nil
		})
	}
	// Workers never return errors; failures become error outcomes.
	_ = g.Wait()
	return items
}

func (e *Engine) processOne(ctx context.Context, cand harvest.Candidate) harvest.CatalogItem {
	item := harvest.CatalogItem{
		FileURL:          cand.URL,
		Fingerprint:      cand.Fingerprint,
		Title:            cand.Title,
		SourceSite:       cand.SourceSite,
		OriginalFilename: cand.OriginalFilename,
		LocalPath:        cand.LocalPath,
		PipelineVersion:  e.cfg.PipelineVersion,
		ProcessedAt:      e.clock.Now(),
	}

	path := cand.LocalPath
	if e.cfg.FilesBaseDir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(e.cfg.FilesBaseDir, path)
	}

	if _, err := os.Stat(path); err != nil {
		return errorItem(item, missingFilePrefix+err.Error())
	}

	text, err := e.extractor.Extract(ctx, path, e.cfg.MaxChars)
	if err != nil {
		e.logger.Warn("extraction failed",
			zap.String("url", cand.URL),
			zap.Error(err),
		)
		return errorItem(item, err.Error())
	}

	keywords := e.classifier.Keywords(text, cand.Title)

	if e.cfg.FilterRelevance && !e.classifier.Relevant(cand.Title, text, keywords) {
		item.Status = harvest.StatusSkipped
		item.Category = skipCategory
		item.Keywords = keywords
		return item
	}

	item.Status = harvest.StatusOK
	item.Keywords = keywords
	item.Summary = e.classifier.Summarize(text, keywords)
	item.Category = e.classifier.Categorize(cand.Title, text, keywords)
	return item
}

const missingFilePrefix = "local file missing: "

func errorItem(item harvest.CatalogItem, msg string) harvest.CatalogItem {
	item.Status = harvest.StatusError
	item.Category = errorCategory
	item.ErrorMessage = msg
	return item
}

func tally(items []harvest.CatalogItem, stats *harvest.CatalogStats) {
	for _, item := range items {
		switch item.Status {
		case harvest.StatusOK:
			stats.Processed++
		case harvest.StatusSkipped:
			stats.Skipped++
		case harvest.StatusError:
			stats.Errors++
			if strings.HasPrefix(item.ErrorMessage, missingFilePrefix) {
				stats.MissingFiles++
			}
		}
	}
}
