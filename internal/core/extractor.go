package core

import "context"

// ExtractionResult is the output of one OCR pass over a document.
type ExtractionResult struct {
	Pages     []string
	PageCount int
	Method    string
}

// OCRService turns raw document bytes into per-page text. Implementations
// are opaque (docconv, pdf text layer, remote OCR); callers only see pages.
type OCRService interface {
	Extract(ctx context.Context, data []byte, contentType string) (*ExtractionResult, error)
}
