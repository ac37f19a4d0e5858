package pipeline

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/arretes-crawler/internal/crawler"
)

// RescrapeSummary counts what a rescrape pass did.
type RescrapeSummary struct {
	Candidates int `json:"candidates"`
	Recovered  int `json:"recovered"`
	Failed     int `json:"failed"`
	NoPDF      int `json:"no_pdf"`
}

// NeedsRescrape reports whether a previously exported record lacks a usable
// stored reference. Simulated references count as missing unless this run
// is simulated too.
func (o *Orchestrator) NeedsRescrape(rec crawler.OrderRecord) bool {
	switch {
	case rec.StoredRef == "", crawler.IsErrorRef(rec.StoredRef):
		return rec.HasPDF() || (o.cfg.FetchDetails && rec.DetailURL != "")
	case crawler.IsSimulatedRef(rec.StoredRef):
		return !o.deps.Uploader.Simulated()
	}
	return false
}

// Rescrape downloads and stores the PDFs of records that need it. The
// returned slice has the order and length of records; other records are
// returned unchanged.
func (o *Orchestrator) Rescrape(ctx context.Context, records []crawler.OrderRecord) ([]crawler.OrderRecord, RescrapeSummary) {
	out := make([]crawler.OrderRecord, len(records))
	copy(out, records)

	type result struct {
		noPDF, failed bool
	}
	results := make([]result, len(out))
	var summary RescrapeSummary

	var g errgroup.Group
	g.SetLimit(o.cfg.MaxConcurrent)
	for i := range out {
		if !o.NeedsRescrape(out[i]) {
			continue
		}
		summary.Candidates++
		g.Go(func() error {
			rec := &out[i]
			if !rec.HasPDF() {
				o.enrichFromDetail(ctx, rec)
			}
			if !rec.HasPDF() {
				results[i] = result{noPDF: true}
				return nil
			}
			rec.StoredRef = ""
			pdfFailed, uploadFailed := o.attachPDF(ctx, rec)
			results[i] = result{failed: pdfFailed || uploadFailed}
			return nil
		})
	}
	_ = g.Wait()

	for i := range out {
		if !o.NeedsRescrape(records[i]) {
			continue
		}
		switch {
		case results[i].noPDF:
			summary.NoPDF++
		case results[i].failed:
			summary.Failed++
		default:
			summary.Recovered++
		}
	}
	o.logger.Info("rescrape finished",
		zap.Int("candidates", summary.Candidates),
		zap.Int("recovered", summary.Recovered),
		zap.Int("failed", summary.Failed),
		zap.Int("no_pdf", summary.NoPDF),
	)
	return out, summary
}
