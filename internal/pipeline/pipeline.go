// Package pipeline runs one crawl of the listing: pages are fetched in order,
// entries are processed concurrently, and the deduplicated record set is
// exported once at the end.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/arretes-crawler/internal/crawler"
	"github.com/JakeFAU/arretes-crawler/internal/extractor"
	"github.com/JakeFAU/arretes-crawler/internal/metrics"
)

// Config controls Orchestrator behavior.
type Config struct {
	// MaxPages caps the number of listing pages; zero means no cap.
	MaxPages               int
	MaxConcurrent          int
	MaxConsecutiveFailures int
	// PDFTimeout bounds each download attempt.
	PDFTimeout   time.Duration
	FetchDetails bool
	// ListingURL keys the page limiter.
	ListingURL string
	// Topic receives the run summary when a publisher is set.
	Topic string
}

// Deps are the collaborators of an Orchestrator. Documents, Inspector,
// Publisher and Limiter are optional.
type Deps struct {
	Pages      crawler.PageFetcher
	Extractor  crawler.Extractor
	Classifier crawler.Classifier
	Documents  crawler.DocumentFetcher
	Inspector  crawler.PDFInspector
	Uploader   *Uploader
	Exporters  []crawler.Exporter
	Publisher  crawler.Publisher
	Limiter    crawler.Limiter
	PageRetry  crawler.RetryPolicy
	PDFRetry   crawler.RetryPolicy
	Clock      crawler.Clock
	IDs        crawler.IDGenerator
}

// Result is what a run produced.
type Result struct {
	Summary crawler.Summary
	Records []crawler.OrderRecord
}

// Orchestrator drives the page loop.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

// New validates deps and builds an Orchestrator.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Orchestrator, error) {
	switch {
	case deps.Pages == nil:
		return nil, errors.New("pipeline requires a page fetcher")
	case deps.Extractor == nil:
		return nil, errors.New("pipeline requires an extractor")
	case deps.Classifier == nil:
		return nil, errors.New("pipeline requires a classifier")
	case deps.Uploader == nil:
		return nil, errors.New("pipeline requires an uploader")
	case deps.Clock == nil || deps.IDs == nil:
		return nil, errors.New("pipeline requires a clock and an id generator")
	}
	if cfg.MaxPages < 0 {
		return nil, errors.New("max pages must be >= 0")
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{cfg: cfg, deps: deps, logger: logger.Named("pipeline")}, nil
}

// outcome is what one entry's processing left behind.
type outcome struct {
	record        crawler.OrderRecord
	ok            bool
	pdfFailed     bool
	uploadFailed  bool
	extractFailed bool
}

// Run crawls the listing and exports the records. It fails with
// crawler.ErrNoPagesProcessed, exporting nothing, when no page could be
// fetched. Export failures are joined into the returned error after every
// exporter ran.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	runID, err := o.deps.IDs.NewID()
	if err != nil {
		return Result{}, fmt.Errorf("run id: %w", err)
	}
	summary := crawler.Summary{
		RunID:     runID,
		StartedAt: o.deps.Clock.Now(),
		Simulated: o.deps.Uploader.Simulated(),
	}
	logger := o.logger.With(zap.String("run_id", runID))
	logger.Info("run started",
		zap.Int("max_pages", o.cfg.MaxPages),
		zap.Int("max_concurrent", o.cfg.MaxConcurrent),
		zap.Bool("simulated", summary.Simulated),
	)

	var (
		records     []crawler.OrderRecord
		seen        = make(map[string]struct{})
		consecutive int
	)
	for page := 0; o.cfg.MaxPages == 0 || page < o.cfg.MaxPages; page++ {
		if ctx.Err() != nil {
			logger.Warn("run interrupted", zap.Int("page", page), zap.Error(ctx.Err()))
			break
		}
		summary.PagesAttempted++
		result, err := o.fetchPage(ctx, page)
		if err != nil {
			if ctx.Err() != nil {
				summary.PagesAttempted--
				logger.Warn("run interrupted", zap.Int("page", page), zap.Error(ctx.Err()))
				break
			}
			summary.PagesFailed++
			consecutive++
			logger.Error("listing page failed; skipping", zap.Int("page", page), zap.Error(err))
			if consecutive >= o.cfg.MaxConsecutiveFailures {
				logger.Error("too many consecutive page failures; stopping",
					zap.Int("consecutive", consecutive))
				break
			}
			continue
		}
		consecutive = 0
		summary.PagesSucceeded++

		appended := 0
		for _, out := range o.processEntries(ctx, result.Entries) {
			switch {
			case out.extractFailed:
				summary.ExtractionFailures++
				continue
			case !out.ok:
				continue
			}
			if _, dup := seen[out.record.ID]; dup {
				summary.Duplicates++
				metrics.ObserveDuplicate()
				logger.Debug("duplicate order dropped", zap.String("id", out.record.ID), zap.Int("page", page))
				continue
			}
			seen[out.record.ID] = struct{}{}
			if out.pdfFailed {
				summary.PDFFailures++
			}
			if out.uploadFailed {
				summary.UploadFailures++
			}
			records = append(records, out.record)
			metrics.ObserveOrder(out.record.IsTraffic)
			appended++
		}
		logger.Info("listing page processed",
			zap.Int("page", page),
			zap.Int("entries", len(result.Entries)),
			zap.Int("appended", appended),
			zap.Bool("has_next", result.HasNext),
		)
		if !result.HasNext {
			break
		}
	}

	summary.Tally(records)
	summary.FinishedAt = o.deps.Clock.Now()
	res := Result{Summary: summary, Records: records}
	if summary.PagesSucceeded == 0 {
		logger.Error("no listing page processed; nothing exported",
			zap.Int("pages_attempted", summary.PagesAttempted))
		return res, crawler.ErrNoPagesProcessed
	}

	// Partial results are still exported after an interrupt.
	finishCtx := context.WithoutCancel(ctx)
	failed, exportErr := o.exportAll(finishCtx, records)
	summary.ExportFailures = failed
	res.Summary = summary
	o.publish(finishCtx, summary)

	logger.Info("run finished",
		zap.Int("total", summary.Total),
		zap.Int("traffic", summary.Traffic),
		zap.Int("other", summary.Other),
		zap.Int("duplicates", summary.Duplicates),
		zap.Int("pages_succeeded", summary.PagesSucceeded),
		zap.Int("pages_failed", summary.PagesFailed),
		zap.Int("pdf_failures", summary.PDFFailures),
		zap.Int("upload_failures", summary.UploadFailures),
		zap.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)),
	)
	return res, exportErr
}

func (o *Orchestrator) fetchPage(ctx context.Context, page int) (crawler.PageResult, error) {
	var result crawler.PageResult
	err := crawler.Retry(ctx, o.deps.PageRetry, func(ctx context.Context, attempt int) error {
		if o.deps.Limiter != nil {
			if err := o.deps.Limiter.Wait(ctx, o.cfg.ListingURL); err != nil {
				return err
			}
		}
		start := time.Now()
		res, err := o.deps.Pages.FetchPage(ctx, page)
		if err != nil {
			metrics.ObservePage(metrics.StatusRetry, time.Since(start))
			o.logger.Warn("listing page attempt failed",
				zap.Int("page", page),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return err
		}
		metrics.ObservePage(metrics.StatusSuccess, time.Since(start))
		result = res
		return nil
	})
	if err != nil {
		metrics.ObservePage(metrics.StatusFailed, 0)
		return crawler.PageResult{}, err
	}
	return result, nil
}

// processEntries handles entries concurrently and returns their outcomes in
// entry order.
func (o *Orchestrator) processEntries(ctx context.Context, entries []crawler.RawEntry) []outcome {
	outcomes := make([]outcome, len(entries))
	var g errgroup.Group
	g.SetLimit(o.cfg.MaxConcurrent)
	for i, entry := range entries {
		g.Go(func() error {
			outcomes[i] = o.processEntry(ctx, entry)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (o *Orchestrator) processEntry(ctx context.Context, entry crawler.RawEntry) outcome {
	rec, err := o.deps.Extractor.Extract(entry)
	if err != nil {
		metrics.ObserveExtractionFailure()
		o.logger.Warn("entry dropped",
			zap.Int("page", entry.Page),
			zap.Int("position", entry.Position),
			zap.Error(err),
		)
		return outcome{extractFailed: true}
	}

	if !rec.HasPDF() && o.cfg.FetchDetails {
		o.enrichFromDetail(ctx, &rec)
	}
	rec.IsTraffic = o.deps.Classifier.IsTrafficOrder(rec.Title, rec.Preview)

	out := outcome{ok: true}
	if rec.HasPDF() {
		out.pdfFailed, out.uploadFailed = o.attachPDF(ctx, &rec)
	}
	out.record = rec
	return out
}

// enrichFromDetail fills the PDF link and missing preview from the order's
// detail page.
func (o *Orchestrator) enrichFromDetail(ctx context.Context, rec *crawler.OrderRecord) {
	if o.deps.Documents == nil || rec.DetailURL == "" {
		return
	}
	dctx, cancel := context.WithTimeout(ctx, o.pdfTimeout())
	defer cancel()
	detail, err := o.deps.Documents.FetchDetail(dctx, rec.DetailURL)
	if err != nil {
		o.logger.Debug("detail page unavailable", zap.String("id", rec.ID), zap.Error(err))
		return
	}
	if detail.PDFURL != "" {
		rec.PDFURL = detail.PDFURL
	}
	if rec.Preview == "" && detail.Text != "" {
		rec.Preview = extractor.Truncate(extractor.NormalizeSpace(detail.Text), crawler.PreviewLength)
	}
}

// attachPDF downloads, inspects and stores the record's PDF, recording a
// sentinel reference on failure.
func (o *Orchestrator) attachPDF(ctx context.Context, rec *crawler.OrderRecord) (pdfFailed, uploadFailed bool) {
	if o.deps.Documents == nil {
		return false, false
	}
	doc, err := o.downloadPDF(ctx, rec.PDFURL)
	if err != nil {
		metrics.ObservePDFDownload(metrics.StatusFailed, 0)
		o.logger.Warn("pdf download failed",
			zap.String("id", rec.ID),
			zap.String("url", rec.PDFURL),
			zap.Error(err),
		)
		rec.StoredRef = crawler.RefPDFDownloadFailed
		return true, false
	}
	metrics.ObservePDFDownload(metrics.StatusSuccess, len(doc.Body))
	size := sizeKB(len(doc.Body))
	rec.PDFSizeKB = &size

	if o.deps.Inspector != nil {
		pages, err := o.deps.Inspector.PageCount(doc.Body)
		if err != nil {
			o.logger.Debug("pdf inspection failed", zap.String("id", rec.ID), zap.Error(err))
		} else {
			rec.PDFPages = pages
		}
	}

	stored, err := o.deps.Uploader.Upload(ctx, *rec, doc.Body)
	rec.ContentHash = stored.Hash
	if err != nil {
		o.logger.Warn("pdf upload failed", zap.String("id", rec.ID), zap.Error(err))
		rec.StoredRef = crawler.RefUploadFailed
		return false, true
	}
	rec.StoredRef = stored.Ref
	return false, false
}

func (o *Orchestrator) downloadPDF(ctx context.Context, rawURL string) (crawler.Document, error) {
	var doc crawler.Document
	err := crawler.Retry(ctx, o.deps.PDFRetry, func(ctx context.Context, attempt int) error {
		actx, cancel := context.WithTimeout(ctx, o.pdfTimeout())
		defer cancel()
		d, err := o.deps.Documents.FetchPDF(actx, rawURL)
		if err != nil {
			o.logger.Debug("pdf attempt failed",
				zap.String("url", rawURL),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return err
		}
		doc = d
		return nil
	})
	return doc, err
}

// Export hands records to every exporter. A failing sink is logged and the
// others still run; the returned error is non-nil only when no exporter
// succeeded, and then wraps crawler.ErrNothingExported.
func (o *Orchestrator) Export(ctx context.Context, records []crawler.OrderRecord) error {
	_, err := o.exportAll(ctx, records)
	return err
}

func (o *Orchestrator) exportAll(ctx context.Context, records []crawler.OrderRecord) ([]string, error) {
	var (
		failed []string
		errs   []error
	)
	for _, exp := range o.deps.Exporters {
		if err := exp.Export(ctx, records); err != nil {
			metrics.ObserveExport(exp.Name(), metrics.StatusFailed)
			o.logger.Error("export failed", zap.String("sink", exp.Name()), zap.Error(err))
			failed = append(failed, exp.Name())
			errs = append(errs, fmt.Errorf("export %s: %w", exp.Name(), err))
			continue
		}
		metrics.ObserveExport(exp.Name(), metrics.StatusSuccess)
	}
	if len(failed) > 0 && len(failed) == len(o.deps.Exporters) {
		return failed, fmt.Errorf("%w: %w", crawler.ErrNothingExported, errors.Join(errs...))
	}
	return failed, nil
}

func (o *Orchestrator) publish(ctx context.Context, summary crawler.Summary) {
	if o.deps.Publisher == nil || o.cfg.Topic == "" {
		return
	}
	id, err := o.deps.Publisher.Publish(ctx, o.cfg.Topic, summary)
	if err != nil {
		o.logger.Warn("summary publish failed", zap.String("topic", o.cfg.Topic), zap.Error(err))
		return
	}
	o.logger.Debug("summary published", zap.String("topic", o.cfg.Topic), zap.String("message_id", id))
}

func (o *Orchestrator) pdfTimeout() time.Duration {
	if o.cfg.PDFTimeout > 0 {
		return o.cfg.PDFTimeout
	}
	return 60 * time.Second
}
