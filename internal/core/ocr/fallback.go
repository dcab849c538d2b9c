package ocr

import (
	"context"
	"log"

	"github.com/tejulabs/corpora/internal/core"
)

var _ core.OCRService = (*Fallback)(nil)

// Fallback tries the primary extractor first and falls back to the secondary
// when the primary errors or yields no text. A context error never falls
// through, cancellation ends the whole attempt.
type Fallback struct {
	primary   core.OCRService
	secondary core.OCRService
}

func NewFallback(primary, secondary core.OCRService) *Fallback {
	return &Fallback{primary: primary, secondary: secondary}
}

func (f *Fallback) Extract(ctx context.Context, data []byte, contentType string) (*core.ExtractionResult, error) {
	res, err := f.primary.Extract(ctx, data, contentType)
	if err == nil && res.PageCount > 0 {
		return res, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		log.Printf("ocr: primary extraction failed, trying fallback: %v", err)
	}
	return f.secondary.Extract(ctx, data, contentType)
}
