package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tejulabs/corpora/internal/core"
	"github.com/tejulabs/corpora/internal/core/chunker"
	"github.com/tejulabs/corpora/internal/models"
	"github.com/tejulabs/corpora/internal/util"
)

// pageSeparator joins per-page OCR text into one raw document text.
const pageSeparator = "\n\n"

// logActionPrefix marks stage-transition rows in the processing log.
const (
	actionStagePrefix = "stage:"
	actionUploaded    = "uploaded"
	actionChunked     = "chunked"
	actionStageFailed = "stage_failed"
	actionEmbedReport = "embed_report"
)

// ProgressFunc receives stage transitions as they are persisted. Pollers
// never block on it; callbacks must be cheap.
type ProgressFunc func(stage Stage, percent int)

// Config tunes the pipeline.
type Config struct {
	Buckets      []string // ordered storage target preference list
	ChunkSize    int
	ChunkOverlap int
	BatchSize    int
	MaxWorkers   int
	SignedURLTTL time.Duration
	Retry        RetryPolicy
	RatePerSec   float64
}

func (c *Config) applyDefaults() {
	if c.ChunkSize == 0 {
		c.ChunkSize = 1000
	}
	if c.ChunkOverlap == 0 {
		c.ChunkOverlap = 200
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.MaxWorkers <= 0 || c.MaxWorkers > 5 {
		c.MaxWorkers = 5
	}
	if c.SignedURLTTL <= 0 {
		c.SignedURLTTL = 15 * time.Minute
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = DefaultEmbedRetry()
	}
}

// EmbedResult reports the partial-success outcome of the embed stage.
type EmbedResult struct {
	ProcessedCount int `json:"processedCount"`
	FailedCount    int `json:"failedCount"`
}

// Pipeline orchestrates Upload → Extract → Chunk → Embed for one product at
// a time. Each run is request-scoped: the caller owns the task handle and
// idempotency comes from content hashes, not a process-wide registry.
type Pipeline struct {
	db       core.DbClient
	obj      core.ObjectClient
	ocr      core.OCRService
	chunker  *chunker.Chunker
	embedder core.EmbeddingProvider
	limiter  *rate.Limiter
	httpc    *http.Client
	cfg      Config
	progress ProgressFunc
}

func NewPipeline(db core.DbClient, obj core.ObjectClient, ocr core.OCRService, ck *chunker.Chunker, emb core.EmbeddingProvider, cfg Config, progress ProgressFunc) *Pipeline {
	cfg.applyDefaults()
	if progress == nil {
		progress = func(Stage, int) {}
	}
	var limiter *rate.Limiter
	if cfg.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.BatchSize)
	}
	return &Pipeline{
		db:       db,
		obj:      obj,
		ocr:      ocr,
		chunker:  ck,
		embedder: emb,
		limiter:  limiter,
		httpc:    &http.Client{Timeout: 2 * time.Minute},
		cfg:      cfg,
		progress: progress,
	}
}

// Run executes the full pipeline end to end. Any stage error has already
// been persisted as a failed status by the stage itself.
func (p *Pipeline) Run(ctx context.Context, productID, filename, contentType string, data []byte) (*EmbedResult, error) {
	if _, _, err := p.RunUpload(ctx, productID, filename, contentType, data); err != nil {
		return nil, err
	}
	if err := p.RunExtract(ctx, productID); err != nil {
		return nil, err
	}
	if err := p.RunChunk(ctx, productID); err != nil {
		return nil, err
	}
	return p.RunEmbed(ctx, productID)
}

// RunUpload selects the first available bucket from the preference list,
// writes the bytes under a deterministic key, and records the locator so a
// later extract stage can find it. Re-running with the same product writes
// the same key.
func (p *Pipeline) RunUpload(ctx context.Context, productID, filename, contentType string, data []byte) (locator, signedURL string, err error) {
	if err := p.ensureProduct(ctx, productID); err != nil {
		return "", "", err
	}
	if err := p.transition(ctx, productID, StageUploading, filename); err != nil {
		return "", "", err
	}

	bucket, err := p.selectBucket(ctx)
	if err != nil {
		return "", "", p.fail(ctx, productID, StageUploading, err)
	}

	key := fmt.Sprintf("products/%s/%s", productID, sanitizeKey(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, err := p.obj.UploadFile(ctx, bucket, key, data, contentType); err != nil {
		return "", "", p.fail(ctx, productID, StageUploading, err)
	}

	locator = bucket + "/" + key
	signedURL, err = p.obj.SignedURL(ctx, bucket, key, p.cfg.SignedURLTTL)
	if err != nil {
		return "", "", p.fail(ctx, productID, StageUploading, err)
	}

	if err := p.appendLog(ctx, productID, actionUploaded, locator); err != nil {
		return "", "", err
	}
	if err := p.transition(ctx, productID, StageUploaded, locator); err != nil {
		return "", "", err
	}
	return locator, signedURL, nil
}

// RunExtract reads the uploaded bytes back through a signed URL, runs OCR,
// and persists one immutable ExtractedText row. An empty result is a
// failure, never an empty success.
func (p *Pipeline) RunExtract(ctx context.Context, productID string) error {
	if err := p.ensureProduct(ctx, productID); err != nil {
		return err
	}
	if err := p.transition(ctx, productID, StageProcessing, ""); err != nil {
		return err
	}
	if err := p.transition(ctx, productID, StageExtracting, ""); err != nil {
		return err
	}

	locator, err := p.lastUploadLocator(ctx, productID)
	if err != nil {
		return p.fail(ctx, productID, StageExtracting, err)
	}
	bucket, key, ok := splitLocator(locator)
	if !ok {
		return p.fail(ctx, productID, StageExtracting, fmt.Errorf("malformed locator %q", locator))
	}

	signedURL, err := p.obj.SignedURL(ctx, bucket, key, p.cfg.SignedURLTTL)
	if err != nil {
		return p.fail(ctx, productID, StageExtracting, err)
	}
	data, err := p.fetch(ctx, signedURL)
	if err != nil {
		return p.fail(ctx, productID, StageExtracting, err)
	}

	res, err := p.ocr.Extract(ctx, data, contentTypeForKey(key))
	if err != nil {
		return p.fail(ctx, productID, StageExtracting, err)
	}
	raw := strings.TrimSpace(strings.Join(res.Pages, pageSeparator))
	if raw == "" {
		return p.fail(ctx, productID, StageExtracting, core.ErrNoTextExtracted)
	}

	// Earlier extractions are superseded, not deleted.
	if err := p.db.SupersedeExtractedTexts(ctx, productID); err != nil {
		return p.fail(ctx, productID, StageExtracting, err)
	}
	et := &models.ExtractedText{
		ID:               uuid.NewString(),
		ProductID:        productID,
		RawText:          util.SanitizeUTF8(raw),
		SourceLocator:    locator,
		ExtractionMethod: res.Method,
		PageCount:        res.PageCount,
		NeedsChunking:    true,
		NeedsEmbedding:   true,
		CreatedAt:        time.Now(),
	}
	if err := p.db.CreateExtractedText(ctx, et); err != nil {
		return p.fail(ctx, productID, StageExtracting, err)
	}
	return nil
}

// RunChunk splits the latest extracted text and upserts chunk rows keyed by
// (productId, contentHash): re-running on identical text creates nothing new.
func (p *Pipeline) RunChunk(ctx context.Context, productID string) error {
	if err := p.transition(ctx, productID, StageChunking, ""); err != nil {
		return err
	}

	et, err := p.db.GetLatestExtractedText(ctx, productID)
	if err != nil {
		return p.fail(ctx, productID, StageChunking, err)
	}
	if et == nil {
		return p.fail(ctx, productID, StageChunking, errors.New("no extracted text to chunk"))
	}

	chunks, err := p.chunker.Chunk(et.RawText, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	if err != nil {
		return p.fail(ctx, productID, StageChunking, err)
	}

	rows := make([]models.Chunk, len(chunks))
	for i, ch := range chunks {
		rows[i] = models.Chunk{
			ID:          uuid.NewString(),
			ProductID:   productID,
			Content:     ch.Content,
			ContentHash: util.SHA256Hex([]byte(ch.Content)),
			TokenStart:  ch.TokenStart,
			TokenEnd:    ch.TokenEnd,
			CharStart:   ch.CharStart,
			CharEnd:     ch.CharEnd,
			ChunkIndex:  ch.Index,
			TotalChunks: ch.Total,
			CreatedAt:   time.Now(),
		}
	}
	if err := p.db.UpsertChunks(ctx, rows); err != nil {
		return p.fail(ctx, productID, StageChunking, err)
	}
	return p.appendLog(ctx, productID, actionChunked, fmt.Sprintf("chunks=%d", len(rows)))
}

// RunEmbed embeds pending chunks in sequential batches with bounded worker
// concurrency inside each batch. A chunk that exhausts its retries is
// counted failed and skipped; the stage still terminates the pipeline as
// completed with a partial-success report.
func (p *Pipeline) RunEmbed(ctx context.Context, productID string) (*EmbedResult, error) {
	if err := p.transition(ctx, productID, StageEmbedding, ""); err != nil {
		return nil, err
	}

	chunks, err := p.db.GetChunksByProduct(ctx, productID)
	if err != nil {
		return nil, p.fail(ctx, productID, StageEmbedding, err)
	}

	pending := make([]models.Chunk, 0, len(chunks))
	for _, ch := range chunks {
		// A hash that already has a stored vector is a no-op: no duplicate
		// row, no duplicate external call.
		if len(ch.Embedding) > 0 {
			continue
		}
		pending = append(pending, ch)
	}

	res := &EmbedResult{}
	var mu sync.Mutex

	for start := 0; start < len(pending); start += p.cfg.BatchSize {
		end := start + p.cfg.BatchSize
		if end > len(pending) {
			end = len(pending)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.cfg.MaxWorkers)
		for _, ch := range pending[start:end] {
			ch := ch
			g.Go(func() error {
				if err := p.embedOne(gctx, ch); err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					log.Printf("ingest: embed chunk %d of product %s failed after retries: %v", ch.ChunkIndex, productID, err)
					mu.Lock()
					res.FailedCount++
					mu.Unlock()
					return nil // per-chunk failure does not abort the batch
				}
				mu.Lock()
				res.ProcessedCount++
				done := res.ProcessedCount
				mu.Unlock()
				p.progress(StageEmbedding, ProgressPercent(StageEmbedding, done))
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return res, p.fail(ctx, productID, StageEmbedding, err)
		}
	}

	detail := fmt.Sprintf("processed=%d failed=%d", res.ProcessedCount, res.FailedCount)
	if err := p.appendLog(ctx, productID, actionEmbedReport, detail); err != nil {
		return res, err
	}
	if err := p.transition(ctx, productID, StageCompleted, detail); err != nil {
		return res, err
	}
	return res, nil
}

func (p *Pipeline) embedOne(ctx context.Context, ch models.Chunk) error {
	hash := ch.ContentHash
	if hash == "" {
		hash = util.SHA256Hex([]byte(ch.Content))
	}
	return p.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		vecs, err := p.embedder.EmbedTexts(ctx, []string{ch.Content})
		if err != nil {
			return err
		}
		if len(vecs) != 1 {
			return fmt.Errorf("embed returned %d vectors, want 1", len(vecs))
		}
		return p.db.SetChunkEmbedding(ctx, ch.ProductID, hash, vecs[0])
	})
}

// transition persists the stage on the product row, appends the audit entry
// and notifies the progress callback, in that order.
func (p *Pipeline) transition(ctx context.Context, productID string, stage Stage, details string) error {
	if prod, err := p.db.GetProductByID(ctx, productID); err == nil && prod != nil {
		if cur := Stage(prod.Status); !cur.CanTransitionTo(stage) {
			// per-stage re-invocation is allowed; note it for the audit trail
			log.Printf("ingest: product %s re-entering %s from %s", productID, stage, cur)
		}
	}
	if err := p.db.UpdateProductStatus(ctx, productID, string(stage)); err != nil {
		return fmt.Errorf("persist status %s: %w", stage, err)
	}
	if err := p.appendLog(ctx, productID, actionStagePrefix+string(stage), details); err != nil {
		return err
	}
	p.progress(stage, ProgressPercent(stage, 0))
	return nil
}

// fail marks the product failed, records the failing stage with enough
// context to resume, and returns a StageError. Cancellation is recorded
// with a distinct reason so pollers can tell it apart.
func (p *Pipeline) fail(ctx context.Context, productID string, stage Stage, cause error) error {
	reason := "error"
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		reason = "cancelled"
		cause = fmt.Errorf("%w: %v", core.ErrCancelled, cause)
	}

	// Persist with a background context: the request context may already be
	// dead, and the failed status must still land.
	persistCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.db.UpdateProductStatus(persistCtx, productID, string(StageFailed)); err != nil {
		log.Printf("ingest: persist failed status for %s: %v", productID, err)
	}
	_ = p.appendLog(persistCtx, productID, actionStageFailed, fmt.Sprintf("stage=%s reason=%s err=%v", stage, reason, cause))
	p.progress(StageFailed, ProgressPercent(stage, 0))
	return core.NewStageError(string(stage), reason, cause)
}

func (p *Pipeline) appendLog(ctx context.Context, productID, action, details string) error {
	entry := &models.ProcessingLogEntry{
		ID:        uuid.NewString(),
		ProductID: productID,
		Action:    action,
		Details:   details,
		CreatedAt: time.Now(),
	}
	if err := p.db.AppendProcessingLog(ctx, entry); err != nil {
		return fmt.Errorf("append processing log: %w", err)
	}
	return nil
}

// ensureProduct guarantees a product row exists before any stage references
// it, creating a minimal record when a stage is invoked ahead of the
// dashboard's own insert.
func (p *Pipeline) ensureProduct(ctx context.Context, productID string) error {
	prod, err := p.db.GetProductByID(ctx, productID)
	if err != nil {
		return fmt.Errorf("look up product %s: %w", productID, err)
	}
	if prod != nil {
		return nil
	}
	now := time.Now()
	return p.db.CreateProduct(ctx, &models.Product{
		ID:        productID,
		Name:      "untitled",
		Status:    string(StagePendingUpload),
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// selectBucket walks the ordered preference list and picks the first bucket
// that exists. No match fails closed.
func (p *Pipeline) selectBucket(ctx context.Context) (string, error) {
	for _, b := range p.cfg.Buckets {
		ok, err := p.obj.BucketExists(ctx, b)
		if err != nil {
			log.Printf("ingest: probe bucket %s: %v", b, err)
			continue
		}
		if ok {
			return b, nil
		}
	}
	return "", core.ErrNoSuitableTarget
}

// lastUploadLocator recovers the most recent uploaded locator from the
// append-only log.
func (p *Pipeline) lastUploadLocator(ctx context.Context, productID string) (string, error) {
	entries, err := p.db.ListProcessingLog(ctx, productID)
	if err != nil {
		return "", err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Action == actionUploaded && entries[i].Details != "" {
			return entries[i].Details, nil
		}
	}
	return "", errors.New("no uploaded artifact recorded for product")
}

func (p *Pipeline) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch signed url: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch signed url: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func splitLocator(locator string) (bucket, key string, ok bool) {
	parts := strings.SplitN(locator, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func sanitizeKey(filename string) string {
	filename = filepath.Base(strings.TrimSpace(filename))
	return strings.ReplaceAll(filename, " ", "_")
}

func contentTypeForKey(key string) string {
	switch strings.ToLower(filepath.Ext(key)) {
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
