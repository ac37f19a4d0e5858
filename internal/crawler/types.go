package crawler

import (
	"errors"
	"strings"
	"time"
)

// Stored-object reference sentinels recorded instead of propagating errors.
const (
	RefPDFDownloadFailed = "ERROR: PDF download failed"
	RefUploadFailed      = "ERROR: upload failed"

	// SimulatedScheme prefixes references produced when uploads are disabled.
	SimulatedScheme = "simulated://"
)

// PreviewLength is the maximum number of runes kept in OrderRecord.Preview.
const PreviewLength = 200

var (
	// ErrNoPagesProcessed marks a run where not a single listing page succeeded.
	ErrNoPagesProcessed = errors.New("no listing page could be processed")
	// ErrNotPDF is returned when a document URL resolves to something that is not a PDF.
	ErrNotPDF = errors.New("response is not a pdf document")
	// ErrTooManyRedirects is returned when javascript redirects do not converge on a PDF.
	ErrTooManyRedirects = errors.New("too many javascript redirects")
	// ErrObjectNotFound is returned by BlobStore.StatObject for missing keys.
	ErrObjectNotFound = errors.New("object not found")
	// ErrNothingExported is returned when every configured exporter failed.
	ErrNothingExported = errors.New("no exporter succeeded")
)

// OrderRecord is one administrative order (arrêté) as exported at the end of a run.
type OrderRecord struct {
	ID          string     `json:"id"`
	OrderNumber string     `json:"order_number,omitempty"`
	Title       string     `json:"title"`
	PublishedOn *time.Time `json:"published_on,omitempty"`
	DetailURL   string     `json:"detail_url"`
	PDFURL      string     `json:"pdf_url,omitempty"`
	IsTraffic   bool       `json:"is_traffic"`
	Preview     string     `json:"preview"`
	StoredRef   string     `json:"stored_ref,omitempty"`
	PDFSizeKB   *float64   `json:"pdf_size_kb,omitempty"`
	ScrapedAt   time.Time  `json:"scraped_at"`

	ContentHash string `json:"content_hash,omitempty"`
	PDFPages    int    `json:"pdf_pages,omitempty"`
	Page        int    `json:"page"`
	Position    int    `json:"position"`
}

// HasPDF reports whether the listing entry referenced a PDF document.
func (r OrderRecord) HasPDF() bool {
	return strings.TrimSpace(r.PDFURL) != ""
}

// NeedsUpload reports whether the record has a PDF that has not been stored yet.
func (r OrderRecord) NeedsUpload() bool {
	return r.HasPDF() && (r.StoredRef == "" || IsErrorRef(r.StoredRef))
}

// IsErrorRef reports whether a stored reference is one of the error sentinels.
func IsErrorRef(ref string) bool {
	return strings.HasPrefix(ref, "ERROR:")
}

// IsSimulatedRef reports whether a stored reference was produced by a simulated run.
func IsSimulatedRef(ref string) bool {
	return strings.HasPrefix(ref, SimulatedScheme)
}

// RawEntry is one rendered listing entry, still in HTML form.
type RawEntry struct {
	HTML     string
	BaseURL  string
	Page     int
	Position int
}

// PageResult is the transient outcome of rendering one listing page.
type PageResult struct {
	Page    int
	URL     string
	Entries []RawEntry
	HasNext bool
}

// Document is a downloaded PDF.
type Document struct {
	URL         string
	FinalURL    string
	ContentType string
	Body        []byte
	Redirects   int
}

// Detail is what a detail page contributes to a record.
type Detail struct {
	URL    string
	PDFURL string
	Text   string
}

// ObjectInfo describes an object already present in the blob store.
type ObjectInfo struct {
	URI  string
	Size int64
}

// Summary reports the counters of a finished run.
type Summary struct {
	RunID              string    `json:"run_id"`
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at"`
	PagesAttempted     int       `json:"pages_attempted"`
	PagesSucceeded     int       `json:"pages_succeeded"`
	PagesFailed        int       `json:"pages_failed"`
	Total              int       `json:"total"`
	Traffic            int       `json:"traffic"`
	Other              int       `json:"other"`
	Duplicates         int       `json:"duplicates"`
	ExtractionFailures int       `json:"extraction_failures"`
	PDFFailures        int       `json:"pdf_failures"`
	UploadFailures     int       `json:"upload_failures"`
	ExportFailures     []string  `json:"export_failures,omitempty"`
	Simulated          bool      `json:"simulated"`
}

// Tally fills the total/traffic/other counters from records.
func (s *Summary) Tally(records []OrderRecord) {
	s.Total = len(records)
	s.Traffic = 0
	for _, r := range records {
		if r.IsTraffic {
			s.Traffic++
		}
	}
	s.Other = s.Total - s.Traffic
}
