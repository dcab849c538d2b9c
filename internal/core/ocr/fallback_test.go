package ocr

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tejulabs/corpora/internal/core"
)

type stubOCR struct {
	res   *core.ExtractionResult
	err   error
	calls int
}

func (s *stubOCR) Extract(_ context.Context, _ []byte, _ string) (*core.ExtractionResult, error) {
	s.calls++
	return s.res, s.err
}

func TestFallbackPrefersPrimary(t *testing.T) {
	primary := &stubOCR{res: &core.ExtractionResult{Pages: []string{"page"}, PageCount: 1, Method: "a"}}
	secondary := &stubOCR{res: &core.ExtractionResult{Pages: []string{"other"}, PageCount: 1, Method: "b"}}
	f := NewFallback(primary, secondary)

	res, err := f.Extract(context.Background(), []byte("x"), "application/pdf")
	require.NoError(t, err)
	require.Equal(t, "a", res.Method)
	require.Zero(t, secondary.calls)
}

func TestFallbackOnPrimaryError(t *testing.T) {
	primary := &stubOCR{err: errors.New("converter missing")}
	secondary := &stubOCR{res: &core.ExtractionResult{Pages: []string{"text"}, PageCount: 1, Method: "b"}}
	f := NewFallback(primary, secondary)

	res, err := f.Extract(context.Background(), []byte("x"), "application/pdf")
	require.NoError(t, err)
	require.Equal(t, "b", res.Method)
}

func TestFallbackOnEmptyPrimary(t *testing.T) {
	primary := &stubOCR{res: &core.ExtractionResult{Method: "a"}}
	secondary := &stubOCR{res: &core.ExtractionResult{Pages: []string{"text"}, PageCount: 1, Method: "b"}}
	f := NewFallback(primary, secondary)

	res, err := f.Extract(context.Background(), []byte("x"), "application/pdf")
	require.NoError(t, err)
	require.Equal(t, "b", res.Method)
}

func TestFallbackStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	primary := &stubOCR{err: ctx.Err()}
	secondary := &stubOCR{res: &core.ExtractionResult{Pages: []string{"text"}, PageCount: 1}}
	f := NewFallback(primary, secondary)

	_, err := f.Extract(ctx, []byte("x"), "application/pdf")
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, secondary.calls)
}

func TestSplitPagesDropsBlankPages(t *testing.T) {
	pages := splitPages("first page\f\f  \fsecond page\f")
	require.Equal(t, []string{"first page", "second page"}, pages)
}
