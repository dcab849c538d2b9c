package ocr

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"code.sajari.com/docconv"

	"github.com/tejulabs/corpora/internal/core"
)

const MethodDocconv = "docconv"

var _ core.OCRService = (*DocconvOCR)(nil)

// DocconvOCR extracts text through sajari/docconv, which shells out to the
// right converter per content type (pdftotext, tesseract, html stripping).
type DocconvOCR struct {
	useReadability bool
}

func NewDocconvOCR(useReadability bool) *DocconvOCR {
	return &DocconvOCR{useReadability: useReadability}
}

func (e *DocconvOCR) Extract(ctx context.Context, data []byte, contentType string) (*core.ExtractionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := docconv.Convert(bytes.NewReader(data), contentType, e.useReadability)
	if err != nil {
		return nil, fmt.Errorf("docconv convert %q: %w", contentType, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// pdftotext separates pages with form feeds; other converters yield one page.
	pages := splitPages(res.Body)
	return &core.ExtractionResult{
		Pages:     pages,
		PageCount: len(pages),
		Method:    MethodDocconv,
	}, nil
}

func splitPages(body string) []string {
	var pages []string
	for _, p := range strings.Split(body, "\f") {
		if p = strings.TrimSpace(p); p != "" {
			pages = append(pages, p)
		}
	}
	return pages
}
