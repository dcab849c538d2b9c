package ocr

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/tejulabs/corpora/internal/core"
)

const MethodPDFText = "pdftext"

var _ core.OCRService = (*PDFTextOCR)(nil)

// PDFTextOCR reads the embedded text layer of a PDF directly, one page at a
// time. It needs no external binaries but cannot handle scanned documents.
type PDFTextOCR struct{}

func NewPDFTextOCR() *PDFTextOCR {
	return &PDFTextOCR{}
}

func (e *PDFTextOCR) Extract(ctx context.Context, data []byte, contentType string) (*core.ExtractionResult, error) {
	if contentType != "application/pdf" {
		return nil, fmt.Errorf("pdftext: unsupported content type %q", contentType)
	}

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("pdftext open: %w", err)
	}

	var pages []string
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("pdftext page %d: %w", i, err)
		}
		if text = strings.TrimSpace(text); text != "" {
			pages = append(pages, text)
		}
	}

	return &core.ExtractionResult{
		Pages:     pages,
		PageCount: len(pages),
		Method:    MethodPDFText,
	}, nil
}
