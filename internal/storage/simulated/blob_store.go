// Package simulated provides the BlobStore used when uploads are disabled.
// Nothing is written; references point at where the object would live.
package simulated

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/JakeFAU/arretes-crawler/internal/crawler"
)

// BlobStore fabricates simulated:// references.
type BlobStore struct {
	bucket string
	puts   atomic.Int64
}

// New returns a simulated store for bucket.
func New(bucket string) *BlobStore {
	return &BlobStore{bucket: strings.Trim(bucket, "/")}
}

// PutObject drains data and returns simulated://<bucket>/<path>.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	if _, err := io.Copy(io.Discard, data); err != nil {
		return "", fmt.Errorf("drain data: %w", err)
	}
	s.puts.Add(1)
	return crawler.SimulatedScheme + s.bucket + "/" + path, nil
}

// StatObject never finds anything.
func (s *BlobStore) StatObject(_ context.Context, path string) (crawler.ObjectInfo, error) {
	return crawler.ObjectInfo{}, fmt.Errorf("%s: %w", path, crawler.ErrObjectNotFound)
}

// Puts returns how many references were fabricated.
func (s *BlobStore) Puts() int64 {
	return s.puts.Load()
}
