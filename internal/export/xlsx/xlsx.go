// Package xlsx writes the record set as an Excel workbook.
package xlsx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/arretes-crawler/internal/crawler"
	"github.com/JakeFAU/arretes-crawler/internal/export/csvfile"
)

// Sheet names.
const (
	SheetAll     = "Arretes"
	SheetTraffic = "Circulation"
)

// Exporter implements crawler.Exporter.
type Exporter struct {
	path   string
	logger *zap.Logger
}

// New builds an Exporter writing to path.
func New(path string, logger *zap.Logger) (*Exporter, error) {
	if path == "" {
		return nil, errors.New("xlsx path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{path: path, logger: logger}, nil
}

// Name implements crawler.Exporter.
func (e *Exporter) Name() string { return "xlsx" }

// Export writes one sheet with every record and one with traffic orders.
func (e *Exporter) Export(_ context.Context, records []crawler.OrderRecord) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", SheetAll); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(SheetTraffic); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}

	traffic := make([]crawler.OrderRecord, 0, len(records))
	for _, r := range records {
		if r.IsTraffic {
			traffic = append(traffic, r)
		}
	}
	for sheet, rows := range map[string][]crawler.OrderRecord{SheetAll: records, SheetTraffic: traffic} {
		if err := writeSheet(f, sheet, rows, headerStyle); err != nil {
			return err
		}
	}
	index, _ := f.GetSheetIndex(SheetAll)
	f.SetActiveSheet(index)

	if err := os.MkdirAll(filepath.Dir(e.path), 0o750); err != nil {
		return fmt.Errorf("create xlsx dir: %w", err)
	}
	if err := f.SaveAs(e.path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	e.logger.Info("xlsx export written",
		zap.String("path", e.path),
		zap.Int("rows", len(records)),
		zap.Int("traffic_rows", len(traffic)),
	)
	return nil
}

func writeSheet(f *excelize.File, sheet string, records []crawler.OrderRecord, headerStyle int) error {
	header := make([]any, len(csvfile.Header))
	for i, h := range csvfile.Header {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write %s header: %w", sheet, err)
	}
	last, _ := excelize.CoordinatesToCellName(len(header), 1)
	_ = f.SetCellStyle(sheet, "A1", last, headerStyle)

	for i, r := range records {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := rowValues(r)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+2, err)
		}
	}

	_ = f.SetColWidth(sheet, "A", "A", 16) // numero
	_ = f.SetColWidth(sheet, "B", "B", 60) // titre
	_ = f.SetColWidth(sheet, "C", "C", 14) // date
	_ = f.SetColWidth(sheet, "D", "E", 40) // liens
	_ = f.SetColWidth(sheet, "G", "G", 60) // preview
	_ = f.SetColWidth(sheet, "H", "H", 50) // ref
	return nil
}

// rowValues mirrors csvfile.Row but keeps booleans and sizes typed.
func rowValues(r crawler.OrderRecord) []any {
	text := csvfile.Row(r)
	row := make([]any, len(text))
	for i, v := range text {
		row[i] = v
	}
	row[5] = r.IsTraffic
	if r.PDFSizeKB != nil {
		row[8] = *r.PDFSizeKB
	}
	return row
}
