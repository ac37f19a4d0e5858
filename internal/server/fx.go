// Package server builds the application from configuration and owns the
// lifetime of its external resources.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/arretes-crawler/internal/api"
	"github.com/JakeFAU/arretes-crawler/internal/classifier"
	"github.com/JakeFAU/arretes-crawler/internal/clock/system"
	"github.com/JakeFAU/arretes-crawler/internal/config"
	"github.com/JakeFAU/arretes-crawler/internal/crawler"
	"github.com/JakeFAU/arretes-crawler/internal/export/csvfile"
	"github.com/JakeFAU/arretes-crawler/internal/export/postgres"
	"github.com/JakeFAU/arretes-crawler/internal/export/xlsx"
	"github.com/JakeFAU/arretes-crawler/internal/extractor"
	"github.com/JakeFAU/arretes-crawler/internal/fetcher/document"
	"github.com/JakeFAU/arretes-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/arretes-crawler/internal/hash/sha256"
	"github.com/JakeFAU/arretes-crawler/internal/id/uuid"
	"github.com/JakeFAU/arretes-crawler/internal/listing"
	"github.com/JakeFAU/arretes-crawler/internal/pdfinfo"
	"github.com/JakeFAU/arretes-crawler/internal/pipeline"
	"github.com/JakeFAU/arretes-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/arretes-crawler/internal/policy/robots"
	memorypublisher "github.com/JakeFAU/arretes-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/arretes-crawler/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/arretes-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/arretes-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/arretes-crawler/internal/storage/memory"
)

// defaultTopic names the in-memory topic used when Pub/Sub is not configured.
const defaultTopic = "arretes-runs"

// App contains the application's dependencies.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	clock    crawler.Clock
	pipeline *pipeline.Orchestrator
	csv      *csvfile.Exporter
	robots   *robots.Policy
	tracker  *api.Tracker

	renderer      *headless.Renderer
	gcs           *gcsstorage.BlobStore
	pubsub        *gcppublisher.Publisher
	postgres      *postgres.Sink
	statusServer  *http.Server
	memoryPublish *memorypublisher.Publisher
}

// Build creates the application's dependencies. Partially built resources
// are released when a later step fails.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (app *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app = &App{
		cfg:     cfg,
		logger:  logger,
		clock:   system.New(),
		tracker: api.NewTracker(),
	}
	defer func() {
		if err != nil {
			_ = app.Close(context.WithoutCancel(ctx))
			app = nil
		}
	}()

	logger.Info("building application",
		zap.String("listing_url", cfg.Site.ListingURL),
		zap.String("storage", cfg.Storage.Provider),
		zap.Bool("simulated", cfg.Simulated()),
		zap.Int("max_pages", cfg.Scraper.MaxPages),
	)

	rules, err := NewClassifier(cfg)
	if err != nil {
		return app, err
	}
	ext, err := extractor.New(cfg.Site.BaseURL, app.clock)
	if err != nil {
		return app, fmt.Errorf("extractor init failed: %w", err)
	}

	app.renderer, err = headless.NewChromedp(headless.Config{
		MaxParallel:       cfg.Scraper.MaxConcurrent,
		UserAgent:         cfg.Site.UserAgent,
		NavigationTimeout: cfg.PageTimeout(),
		ReadySelector:     cfg.Site.EntrySelector,
		EmptyMarker:       cfg.Site.EmptyMarker,
	}, logger.Named("headless"))
	if err != nil {
		return app, fmt.Errorf("headless renderer init failed: %w", err)
	}
	pages, err := listing.New(listing.Config{
		ListingURL:    cfg.Site.ListingURL,
		PageParam:     cfg.Site.PageParam,
		EntrySelector: cfg.Site.EntrySelector,
		Timeout:       cfg.PageTimeout(),
	}, app.renderer, logger.Named("listing"))
	if err != nil {
		return app, fmt.Errorf("listing init failed: %w", err)
	}

	docCfg := document.Config{
		UserAgent: cfg.Site.UserAgent,
		Timeout:   cfg.PDFTimeout(),
		Referer:   cfg.Site.ListingURL,
	}
	if cfg.Scraper.WarmUp {
		docCfg.WarmUpURL = cfg.Site.BaseURL
	}
	docs, err := document.New(docCfg, logger.Named("document"))
	if err != nil {
		return app, fmt.Errorf("document fetcher init failed: %w", err)
	}

	store, err := setupStorage(ctx, app)
	if err != nil {
		return app, err
	}
	uploader, err := pipeline.NewUploader(store, sha256.New(), pipeline.UploaderConfig{
		Prefix:    cfg.Storage.Prefix,
		Bucket:    cfg.Storage.Bucket,
		Simulated: cfg.Simulated(),
	}, logger.Named("uploader"))
	if err != nil {
		return app, fmt.Errorf("uploader init failed: %w", err)
	}

	exporters, err := setupExporters(ctx, app)
	if err != nil {
		return app, err
	}
	publisher, topic, err := setupPublisher(ctx, app)
	if err != nil {
		return app, err
	}

	if cfg.Site.RespectRobots {
		app.robots = robots.New(&http.Client{Timeout: 15 * time.Second}, cfg.Site.UserAgent, logger.Named("robots"))
	}

	initial, maxBackoff := cfg.Backoff()
	app.pipeline, err = pipeline.New(pipeline.Config{
		MaxPages:               cfg.Scraper.MaxPages,
		MaxConcurrent:          cfg.Scraper.MaxConcurrent,
		MaxConsecutiveFailures: cfg.Scraper.MaxConsecutiveFailures,
		PDFTimeout:             cfg.PDFTimeout(),
		FetchDetails:           cfg.Scraper.FetchDetails,
		ListingURL:             cfg.Site.ListingURL,
		Topic:                  topic,
	}, pipeline.Deps{
		Pages:      pages,
		Extractor:  ext,
		Classifier: rules,
		Documents:  docs,
		Inspector:  pdfinfo.New(),
		Uploader:   uploader,
		Exporters:  exporters,
		Publisher:  publisher,
		Limiter:    ratelimit.New(ratelimit.Config{Interval: cfg.PageDelay(), Burst: 1}),
		PageRetry:  crawler.NewExponentialRetryPolicy(cfg.Scraper.PageRetries, initial, maxBackoff),
		PDFRetry:   crawler.NewExponentialRetryPolicy(cfg.Scraper.PDFRetries, initial, maxBackoff),
		Clock:      app.clock,
		IDs:        uuid.New(),
	}, logger)
	if err != nil {
		return app, fmt.Errorf("pipeline init failed: %w", err)
	}

	startStatusServer(app)
	return app, nil
}

// NewClassifier builds the classifier from the configured rule table, or
// from the built-in one.
func NewClassifier(cfg config.Config) (*classifier.Classifier, error) {
	rules := classifier.DefaultRules()
	if cfg.Classifier.RulesFile != "" {
		loaded, err := classifier.LoadRules(cfg.Classifier.RulesFile)
		if err != nil {
			return nil, fmt.Errorf("classifier rules %s: %w", cfg.Classifier.RulesFile, err)
		}
		rules = loaded
	}
	c, err := classifier.New(rules)
	if err != nil {
		return nil, fmt.Errorf("classifier init failed: %w", err)
	}
	return c, nil
}

// Scrape checks robots.txt for the listing and runs one crawl.
func (a *App) Scrape(ctx context.Context) (pipeline.Result, error) {
	if a.robots != nil {
		if err := a.robots.Check(ctx, a.cfg.Site.ListingURL); err != nil {
			return pipeline.Result{}, fmt.Errorf("listing not crawlable: %w", err)
		}
	}
	a.tracker.Start(a.clock.Now())
	res, err := a.pipeline.Run(ctx)
	a.tracker.Finish(a.clock.Now(), res.Summary, err)
	return res, err
}

// Rescrape retries the PDFs of previously exported rows that have no
// usable stored reference, then rewrites every export.
func (a *App) Rescrape(ctx context.Context) (pipeline.RescrapeSummary, error) {
	records, err := csvfile.ReadFile(a.csv.FullPath())
	if err != nil {
		return pipeline.RescrapeSummary{}, fmt.Errorf("load previous export: %w", err)
	}
	a.logger.Info("previous export loaded",
		zap.String("path", a.csv.FullPath()),
		zap.Int("records", len(records)),
	)
	updated, summary := a.pipeline.Rescrape(ctx, records)
	if summary.Candidates == 0 {
		return summary, nil
	}
	if err := a.pipeline.Export(context.WithoutCancel(ctx), updated); err != nil {
		return summary, err
	}
	return summary, nil
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.statusServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := a.statusServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("status server shutdown: %w", err))
		}
		cancel()
	}
	if a.renderer != nil {
		a.renderer.Close()
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("pubsub close: %w", err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("gcs close: %w", err))
		}
	}
	if a.postgres != nil {
		a.postgres.Close()
	}
	if a.memoryPublish != nil {
		a.logger.Debug("summaries kept in memory", zap.Int("messages", len(a.memoryPublish.Messages())))
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func setupStorage(ctx context.Context, app *App) (crawler.BlobStore, error) {
	cfg := app.cfg
	if cfg.Simulated() {
		app.logger.Info("uploads disabled; stored references are simulated",
			zap.String("bucket", cfg.Storage.Bucket))
		return nil, nil
	}
	switch cfg.Storage.Provider {
	case config.ProviderGCS:
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: cfg.Storage.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.gcs = store
		app.logger.Info("using GCS storage backend", zap.String("bucket", cfg.Storage.Bucket))
		return store, nil
	case config.ProviderLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("using local storage backend", zap.String("path", cfg.Storage.LocalDir))
		return store, nil
	default:
		app.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func setupExporters(ctx context.Context, app *App) ([]crawler.Exporter, error) {
	cfg := app.cfg.Export
	csvExp, err := csvfile.New(csvfile.Config{
		Dir:           cfg.Dir,
		FullFile:      cfg.FullFile,
		TrafficFile:   cfg.TrafficFile,
		MergeExisting: cfg.MergeExisting,
	}, app.logger.Named("csv"))
	if err != nil {
		return nil, fmt.Errorf("csv exporter init failed: %w", err)
	}
	app.csv = csvExp
	exporters := []crawler.Exporter{csvExp}

	if cfg.XLSXPath != "" {
		xlsxExp, err := xlsx.New(cfg.XLSXPath, app.logger.Named("xlsx"))
		if err != nil {
			return nil, fmt.Errorf("xlsx exporter init failed: %w", err)
		}
		exporters = append(exporters, xlsxExp)
	}

	if cfg.Postgres.DSN != "" {
		sink, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.Postgres.DSN,
			Table:           cfg.Postgres.Table,
			MaxConns:        cfg.Postgres.MaxConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
		}, app.logger.Named("postgres"))
		if err != nil {
			return nil, fmt.Errorf("postgres sink init failed: %w", err)
		}
		app.postgres = sink
		exporters = append(exporters, sink)
		app.logger.Info("postgres export enabled", zap.String("table", cfg.Postgres.Table))
	}
	return exporters, nil
}

func setupPublisher(ctx context.Context, app *App) (crawler.Publisher, string, error) {
	cfg := app.cfg.PubSub
	if cfg.ProjectID == "" || cfg.Topic == "" {
		app.logger.Debug("no Pub/Sub topic configured, using in-memory publisher")
		app.memoryPublish = memorypublisher.New()
		return app.memoryPublish, defaultTopic, nil
	}
	pub, err := gcppublisher.Open(ctx, cfg.ProjectID)
	if err != nil {
		return nil, "", fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.pubsub = pub
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", cfg.ProjectID),
		zap.String("topic", cfg.Topic),
	)
	return pub, cfg.Topic, nil
}

func startStatusServer(app *App) {
	addr := app.cfg.Metrics.Addr
	if addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewServer(app.tracker, app.logger.Named("api")).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	app.statusServer = srv
	go func() {
		app.logger.Info("status server started", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("status server error", zap.Error(err))
		}
	}()
}
