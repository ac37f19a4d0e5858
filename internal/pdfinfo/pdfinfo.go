// Package pdfinfo inspects downloaded PDF documents with pdfcpu.
package pdfinfo

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrEmpty is returned for zero-length input.
var ErrEmpty = errors.New("empty pdf")

// Inspector implements crawler.PDFInspector.
type Inspector struct {
	conf *model.Configuration
}

// New returns an Inspector using relaxed validation.
func New() *Inspector {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Inspector{conf: conf}
}

// PageCount parses data and returns its number of pages.
func (i *Inspector) PageCount(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, ErrEmpty
	}
	n, err := api.PageCount(bytes.NewReader(data), i.conf)
	if err != nil {
		return 0, fmt.Errorf("pdf page count: %w", err)
	}
	return n, nil
}
