package crawler

import (
	"context"
	"io"
	"time"
)

// PageFetcher renders one listing page and splits it into raw entries.
// Implementations must not return before client-side rendering has settled.
type PageFetcher interface {
	FetchPage(ctx context.Context, page int) (PageResult, error)
}

// Extractor turns one raw entry into a record. The traffic flag is left unset.
type Extractor interface {
	Extract(entry RawEntry) (OrderRecord, error)
}

// Classifier labels a record as a traffic order.
type Classifier interface {
	IsTrafficOrder(title, content string) bool
}

// DocumentFetcher downloads PDFs and static detail pages.
type DocumentFetcher interface {
	FetchPDF(ctx context.Context, rawURL string) (Document, error)
	FetchDetail(ctx context.Context, rawURL string) (Detail, error)
}

// PDFInspector reads structural information out of PDF bytes.
type PDFInspector interface {
	PageCount(data []byte) (int, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	StatObject(ctx context.Context, path string) (ObjectInfo, error)
}

// Exporter receives the final record set once per run.
type Exporter interface {
	Name() string
	Export(ctx context.Context, records []OrderRecord) error
}

// Publisher pushes run notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Limiter paces outgoing requests.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// RetryPolicy decides whether and when a failed operation runs again.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
