// Package storage holds what the object store adapters share: the key
// layout for order PDFs and the conditional-write sentinel.
package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrObjectExists is returned alongside a valid reference when a write found
// the object already present and left it untouched.
var ErrObjectExists = errors.New("object already exists")

// hashPrefixLen is the number of hex characters of the content hash kept in
// object names.
const hashPrefixLen = 16

// Key returns the object name for a PDF: <prefix>/<year>/<hash[:16]>.pdf.
// Identical documents map to the same key.
func Key(prefix string, year int, contentHash string) (string, error) {
	if len(contentHash) < hashPrefixLen {
		return "", fmt.Errorf("content hash %q too short", contentHash)
	}
	name := fmt.Sprintf("%04d/%s.pdf", year, strings.ToLower(contentHash[:hashPrefixLen]))
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name, nil
	}
	return prefix + "/" + name, nil
}

// KeyYear picks the year a document is filed under: its publication year
// when known, the scrape year otherwise.
func KeyYear(publishedOn *time.Time, scrapedAt time.Time) int {
	if publishedOn != nil && !publishedOn.IsZero() {
		return publishedOn.Year()
	}
	return scrapedAt.Year()
}
