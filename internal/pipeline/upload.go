package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/JakeFAU/arretes-crawler/internal/crawler"
	"github.com/JakeFAU/arretes-crawler/internal/metrics"
	"github.com/JakeFAU/arretes-crawler/internal/storage"
	"github.com/JakeFAU/arretes-crawler/internal/storage/simulated"
)

const pdfContentType = "application/pdf"

// UploaderConfig controls where PDFs are filed.
type UploaderConfig struct {
	Prefix string
	// Bucket names the destination in simulated references.
	Bucket string
	// Simulated disables every storage call; references are fabricated.
	Simulated bool
}

// Uploader files downloaded PDFs under content-addressed keys.
type Uploader struct {
	store  crawler.BlobStore
	hasher crawler.Hasher
	cfg    UploaderConfig
	logger *zap.Logger
}

// Stored describes the outcome of one upload.
type Stored struct {
	Ref  string
	Key  string
	Hash string
	// Reused is set when the object was already present.
	Reused bool
}

// NewUploader builds an Uploader. In simulated mode store may be nil and is
// never called.
func NewUploader(store crawler.BlobStore, hasher crawler.Hasher, cfg UploaderConfig, logger *zap.Logger) (*Uploader, error) {
	if hasher == nil {
		return nil, errors.New("uploader requires a hasher")
	}
	if cfg.Simulated {
		store = simulated.New(cfg.Bucket)
	}
	if store == nil {
		return nil, errors.New("uploader requires a blob store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Uploader{store: store, hasher: hasher, cfg: cfg, logger: logger}, nil
}

// Simulated reports whether uploads are disabled.
func (u *Uploader) Simulated() bool { return u.cfg.Simulated }

// Upload stores data for rec. An object already present under the key is
// reused without writing.
func (u *Uploader) Upload(ctx context.Context, rec crawler.OrderRecord, data []byte) (Stored, error) {
	hash, err := u.hasher.Hash(data)
	if err != nil {
		return Stored{}, fmt.Errorf("hash pdf: %w", err)
	}
	key, err := storage.Key(u.cfg.Prefix, storage.KeyYear(rec.PublishedOn, rec.ScrapedAt), hash)
	if err != nil {
		return Stored{Hash: hash}, err
	}
	out := Stored{Key: key, Hash: hash}

	if !u.cfg.Simulated {
		info, err := u.store.StatObject(ctx, key)
		switch {
		case err == nil:
			out.Ref, out.Reused = info.URI, true
			metrics.ObserveUpload(metrics.StatusSkipped)
			u.logger.Debug("pdf already stored", zap.String("id", rec.ID), zap.String("key", key))
			return out, nil
		case !errors.Is(err, crawler.ErrObjectNotFound):
			u.logger.Warn("stat before upload failed", zap.String("key", key), zap.Error(err))
		}
	}

	ref, err := u.store.PutObject(ctx, key, pdfContentType, bytes.NewReader(data))
	switch {
	case errors.Is(err, storage.ErrObjectExists):
		out.Ref, out.Reused = ref, true
		metrics.ObserveUpload(metrics.StatusSkipped)
		return out, nil
	case err != nil:
		metrics.ObserveUpload(metrics.StatusFailed)
		return out, fmt.Errorf("put %s: %w", key, err)
	}
	out.Ref = ref
	metrics.ObserveUpload(metrics.StatusSuccess)
	return out, nil
}

// sizeKB converts a byte count to kilobytes rounded to two decimals.
func sizeKB(n int) float64 {
	return math.Round(float64(n)/1024*100) / 100
}
