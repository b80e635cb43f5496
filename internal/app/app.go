// Package app wires configuration, storage and the two subsystems into
// runnable commands.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"docharvest/internal/api"
	"docharvest/internal/blob"
	"docharvest/internal/classify"
	"docharvest/internal/clock/system"
	"docharvest/internal/config"
	"docharvest/internal/download"
	"docharvest/internal/engine"
	"docharvest/internal/extract"
	"docharvest/internal/harvest"
	"docharvest/internal/logging"
	"docharvest/internal/metrics"
	"docharvest/internal/registry"
	"docharvest/internal/sink"
	"docharvest/internal/store/postgres"
	"docharvest/internal/store/sqlite"
	"docharvest/internal/traverse"
)

// App owns the long-lived pieces shared by all commands.
type App struct {
	Cfg      config.Config
	Logger   *zap.Logger
	Store    harvest.Store
	Registry *registry.Registry

	clock      harvest.Clock
	downloader *download.Downloader
	blobs      *blob.Store
	controller *traverse.Controller
	classifier *classify.Service
	extractor  *extract.Service
	sink       *sink.FileSink
}

// New loads configuration from cfgPath and builds the application.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	metrics.Init()

	store, err := openStore(ctx, cfg.DB)
	if err != nil {
		return nil, err
	}

	clk := system.New()

	dl, err := download.New(download.Config{
		BaseDir:   cfg.Storage.DownloadDir,
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   time.Duration(cfg.Crawler.FetchTimeoutSec) * time.Second,
	}, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	blobs := blob.NewStore(store, clk, logger)

	controller, err := traverse.NewController(traverse.Config{
		BaseDir:       cfg.Storage.DownloadDir,
		UserAgent:     cfg.Crawler.UserAgent,
		PageTimeout:   time.Duration(cfg.Crawler.PageTimeoutSec) * time.Second,
		RespectRobots: cfg.Crawler.RespectRobots,
	}, store, dl, blobs, clk, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	catalogSink, err := sink.NewFileSink(cfg.Storage.CatalogJSONL, cfg.Storage.CatalogMarkdown, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &App{
		Cfg:        cfg,
		Logger:     logger,
		Store:      store,
		Registry:   registry.New(),
		clock:      clk,
		downloader: dl,
		blobs:      blobs,
		controller: controller,
		classifier: classify.NewService(classify.Config{RelevanceTerms: cfg.Classify.RelevanceTerms}),
		extractor:  extract.NewService(logger),
		sink:       catalogSink,
	}, nil
}

func openStore(ctx context.Context, cfg config.DBConfig) (harvest.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		s := sqlite.New(cfg.Path)
		if err := s.Open(); err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	case "postgres":
		s, err := postgres.NewStore(ctx, postgres.Config{
			DSN:      cfg.DSN,
			MaxConns: cfg.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.Driver)
	}
}

// Crawl runs the traversal controller over the named site, or over every
// configured site when siteName is empty.
func (a *App) Crawl(ctx context.Context, siteName string) error {
	sites := a.Cfg.Sites
	if siteName != "" {
		site, ok := a.Cfg.Site(siteName)
		if !ok {
			return fmt.Errorf("site %q is not configured", siteName)
		}
		sites = []traverse.SiteConfig{site}
	}
	if len(sites) == 0 {
		return fmt.Errorf("no sites configured")
	}

	for _, site := range sites {
		runID := a.Registry.Begin(registry.KindCrawl, site.Name)
		stats, err := a.controller.Crawl(ctx, site)
		a.Registry.Update(runID, "pages_visited", stats.PagesVisited)
		a.Registry.Update(runID, "files_found", stats.FilesFound)
		a.Registry.Update(runID, "dedup_hits", stats.DedupHits)
		a.Registry.Update(runID, "failures", stats.Failures)
		if err != nil {
			a.Registry.AddError(runID, err)
			_ = a.Registry.Finish(runID, registry.StateFailed)
			return fmt.Errorf("crawl %s: %w", site.Name, err)
		}
		_ = a.Registry.Finish(runID, registry.StateDone)
	}
	return nil
}

// Catalog runs one incremental catalog pass over the stored backlog.
// A non-empty sites list restricts the pass to files whose source site
// matches one of the given substrings.
func (a *App) Catalog(ctx context.Context, sites []string) (harvest.CatalogStats, error) {
	eng, err := engine.New(engine.Config{
		PipelineVersion: a.Cfg.Catalog.PipelineVersion,
		BatchSize:       a.Cfg.Catalog.BatchSize,
		Workers:         a.Cfg.Catalog.Workers,
		MaxChars:        a.Cfg.Catalog.MaxChars,
		RetryErrors:     a.Cfg.Catalog.RetryErrors,
		FilterRelevance: a.Cfg.Catalog.FilterRelevance,
		FilesBaseDir:    a.Cfg.Storage.DownloadDir,
		Sites:           sites,
	}, a.Store, a.extractor, a.classifier, a.sink, a.clock, a.Logger)
	if err != nil {
		return harvest.CatalogStats{}, err
	}

	runID := a.Registry.Begin(registry.KindCatalog, a.Cfg.Catalog.PipelineVersion)
	eng.Progress = func(s harvest.CatalogStats) {
		a.Registry.Update(runID, "scanned", s.Scanned)
		a.Registry.Update(runID, "processed", s.Processed)
		a.Registry.Update(runID, "written", s.Written)
		a.Registry.Update(runID, "skipped", s.Skipped)
		a.Registry.Update(runID, "errors", s.Errors)
		a.Registry.Update(runID, "missing_files", s.MissingFiles)
	}

	stats, err := eng.Run(ctx)
	if err != nil {
		a.Registry.AddError(runID, err)
		_ = a.Registry.Finish(runID, registry.StateFailed)
		return stats, err
	}
	_ = a.Registry.Finish(runID, registry.StateDone)
	return stats, nil
}

// Serve runs the ops HTTP server until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	server := api.NewServer(a.Registry, a.Store, a.Logger)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("ops server listening", zap.Int("port", a.Cfg.Server.Port))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shut down ops server: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	}
}

// Close releases the durable store and flushes logs.
func (a *App) Close() {
	if err := a.Store.Close(); err != nil {
		a.Logger.Warn("store close failed", zap.Error(err))
	}
	_ = a.Logger.Sync()
}
