package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/tejulabs/corpora/internal/core"
)

// Status is the poller-facing snapshot of one product's ingestion.
type Status struct {
	Status          string            `json:"status"`
	ProgressPercent int               `json:"progressPercent"`
	ChunkCount      int               `json:"chunkCount"`
	Metadata        map[string]string `json:"metadata"`
}

// StatusTracker reads last-persisted pipeline state. It is read-only and
// never blocks on pipeline progress.
type StatusTracker struct {
	db core.DbClient
}

func NewStatusTracker(db core.DbClient) *StatusTracker {
	return &StatusTracker{db: db}
}

// Read resolves the product's current stage, a monotonic progress percent
// and the chunk tally. For a failed product the percent freezes at the
// stage recorded in the audit log.
func (t *StatusTracker) Read(ctx context.Context, productID string) (*Status, error) {
	prod, err := t.db.GetProductByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if prod == nil {
		return nil, core.ErrProductNotFound
	}

	total, embedded, err := t.db.CountChunksByProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	stage := Stage(prod.Status)
	meta := map[string]string{
		"embeddedChunks": fmt.Sprintf("%d", embedded),
	}

	var percent int
	switch stage {
	case StageFailed:
		lastStage, reason := t.lastFailure(ctx, productID)
		percent = ProgressPercent(lastStage, embedded)
		meta["failedStage"] = string(lastStage)
		if reason != "" {
			meta["failureReason"] = reason
		}
	case StageEmbedding:
		percent = ProgressPercent(stage, embedded)
	default:
		percent = ProgressPercent(stage, 0)
	}

	return &Status{
		Status:          prod.Status,
		ProgressPercent: percent,
		ChunkCount:      total,
		Metadata:        meta,
	}, nil
}

// lastFailure scans the append-only log backwards for the failing stage and
// reason recorded by Pipeline.fail.
func (t *StatusTracker) lastFailure(ctx context.Context, productID string) (Stage, string) {
	entries, err := t.db.ListProcessingLog(ctx, productID)
	if err != nil {
		return StagePendingUpload, ""
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Action != actionStageFailed {
			continue
		}
		return parseFailureDetails(entries[i].Details)
	}
	return StagePendingUpload, ""
}

func parseFailureDetails(details string) (Stage, string) {
	stage, reason := StagePendingUpload, ""
	for _, field := range strings.Fields(details) {
		if v, ok := strings.CutPrefix(field, "stage="); ok {
			if s, valid := ParseStage(v); valid {
				stage = s
			}
		}
		if v, ok := strings.CutPrefix(field, "reason="); ok {
			reason = v
		}
	}
	return stage, reason
}
