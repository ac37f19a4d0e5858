// Package csvfile writes the record set as the two CSV files consumers read:
// every order, and traffic orders only.
package csvfile

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/arretes-crawler/internal/crawler"
)

// Header is the column layout of both files.
var Header = []string{
	"numero_arrete",
	"titre",
	"date_publication",
	"lien",
	"pdf_url",
	"is_circulation",
	"contenu_preview",
	"pdf_s3_url",
	"poids_pdf_ko",
	"date_scrape",
}

const dateLayout = "2006-01-02"

// Config locates the output files.
type Config struct {
	Dir         string
	FullFile    string
	TrafficFile string
	// MergeExisting keeps rows of a previous full file whose identifier is
	// absent from the current run.
	MergeExisting bool
}

// Exporter implements crawler.Exporter.
type Exporter struct {
	cfg    Config
	logger *zap.Logger
}

// New builds an Exporter.
func New(cfg Config, logger *zap.Logger) (*Exporter, error) {
	if cfg.FullFile == "" || cfg.TrafficFile == "" {
		return nil, errors.New("full and traffic file names are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{cfg: cfg, logger: logger}, nil
}

// Name implements crawler.Exporter.
func (e *Exporter) Name() string { return "csv" }

// FullPath returns the location of the all-orders file.
func (e *Exporter) FullPath() string { return filepath.Join(e.cfg.Dir, e.cfg.FullFile) }

// TrafficPath returns the location of the traffic-only file.
func (e *Exporter) TrafficPath() string { return filepath.Join(e.cfg.Dir, e.cfg.TrafficFile) }

// Export writes both files. The traffic file is always derived from the
// full set that was written.
func (e *Exporter) Export(_ context.Context, records []crawler.OrderRecord) error {
	all := records
	if e.cfg.MergeExisting {
		existing, err := ReadFile(e.FullPath())
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return fmt.Errorf("read existing export: %w", err)
		default:
			all = Merge(existing, records)
			e.logger.Info("merged with existing export",
				zap.Int("existing", len(existing)),
				zap.Int("current", len(records)),
				zap.Int("merged", len(all)),
			)
		}
	}

	if err := WriteFile(e.FullPath(), all); err != nil {
		return err
	}
	traffic := make([]crawler.OrderRecord, 0, len(all))
	for _, r := range all {
		if r.IsTraffic {
			traffic = append(traffic, r)
		}
	}
	if err := WriteFile(e.TrafficPath(), traffic); err != nil {
		return err
	}
	e.logger.Info("csv export written",
		zap.String("full", e.FullPath()),
		zap.Int("rows", len(all)),
		zap.String("traffic", e.TrafficPath()),
		zap.Int("traffic_rows", len(traffic)),
	)
	return nil
}

// Merge returns current followed by the rows of existing whose identifier
// current does not contain. Rows of current replace existing ones.
func Merge(existing, current []crawler.OrderRecord) []crawler.OrderRecord {
	seen := make(map[string]struct{}, len(current))
	out := make([]crawler.OrderRecord, 0, len(current)+len(existing))
	for _, r := range current {
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	for _, r := range existing {
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}

// WriteFile replaces path with records, writing through a temporary file in
// the same directory.
func WriteFile(path string, records []crawler.OrderRecord) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp export: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := Write(tmp, records); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp export: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// Write encodes records with the header row.
func Write(w io.Writer, records []crawler.OrderRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range records {
		if err := cw.Write(Row(r)); err != nil {
			return fmt.Errorf("write csv row %s: %w", r.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// Row renders one record in Header order.
func Row(r crawler.OrderRecord) []string {
	date := ""
	if r.PublishedOn != nil {
		date = r.PublishedOn.Format(dateLayout)
	}
	size := ""
	if r.PDFSizeKB != nil {
		size = strconv.FormatFloat(*r.PDFSizeKB, 'f', 2, 64)
	}
	scraped := ""
	if !r.ScrapedAt.IsZero() {
		scraped = r.ScrapedAt.UTC().Format(time.RFC3339)
	}
	return []string{
		r.ID,
		r.Title,
		date,
		r.DetailURL,
		r.PDFURL,
		strconv.FormatBool(r.IsTraffic),
		r.Preview,
		r.StoredRef,
		size,
		scraped,
	}
}

// ReadFile loads a file previously written by Write.
func ReadFile(path string) ([]crawler.OrderRecord, error) {
	// #nosec G304 -- path comes from operator configuration.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open export: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Read decodes rows by header name, so column order and extra columns do
// not matter. Booleans written as True/False are accepted.
func Read(r io.Reader) ([]crawler.OrderRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimPrefix(strings.TrimSpace(name), "\ufeff")] = i
	}
	if _, ok := index["numero_arrete"]; !ok {
		return nil, errors.New("csv has no numero_arrete column")
	}

	var records []crawler.OrderRecord
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		get := func(col string) string {
			i, ok := index[col]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}
		rec := crawler.OrderRecord{
			ID:        get("numero_arrete"),
			Title:     get("titre"),
			DetailURL: get("lien"),
			PDFURL:    get("pdf_url"),
			IsTraffic: parseBool(get("is_circulation")),
			Preview:   get("contenu_preview"),
			StoredRef: get("pdf_s3_url"),
		}
		if rec.ID == "" {
			continue
		}
		if !strings.HasPrefix(rec.ID, "h-") {
			rec.OrderNumber = rec.ID
		}
		if d, err := time.Parse(dateLayout, get("date_publication")); err == nil {
			rec.PublishedOn = &d
		}
		if v, err := strconv.ParseFloat(get("poids_pdf_ko"), 64); err == nil {
			rec.PDFSizeKB = &v
		}
		if ts, err := time.Parse(time.RFC3339, get("date_scrape")); err == nil {
			rec.ScrapedAt = ts.UTC()
		}
		records = append(records, rec)
	}
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "true", "1", "yes", "oui":
		return true
	}
	return false
}
