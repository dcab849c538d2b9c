package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStageOrderForwardOnly(t *testing.T) {
	assert.True(t, StagePendingUpload.CanTransitionTo(StageUploading))
	assert.True(t, StageUploading.CanTransitionTo(StageUploaded))
	assert.True(t, StageChunking.CanTransitionTo(StageEmbedding))
	assert.True(t, StageEmbedding.CanTransitionTo(StageCompleted))
	// retried stage may re-enter itself
	assert.True(t, StageExtracting.CanTransitionTo(StageExtracting))

	assert.False(t, StageEmbedding.CanTransitionTo(StageChunking))
	assert.False(t, StageCompleted.CanTransitionTo(StageUploading))
}

func TestFailedReachableFromNonTerminalOnly(t *testing.T) {
	for _, s := range []Stage{StagePendingUpload, StageUploading, StageUploaded, StageProcessing, StageExtracting, StageChunking, StageEmbedding} {
		assert.True(t, s.CanTransitionTo(StageFailed), "stage %s", s)
	}
	assert.False(t, StageCompleted.CanTransitionTo(StageFailed))
	assert.False(t, StageFailed.CanTransitionTo(StageFailed))
}

func TestParseStage(t *testing.T) {
	s, ok := ParseStage("embedding")
	assert.True(t, ok)
	assert.Equal(t, StageEmbedding, s)

	_, ok = ParseStage("warp_drive")
	assert.False(t, ok)

	s, ok = ParseStage("failed")
	assert.True(t, ok)
	assert.Equal(t, StageFailed, s)
}

func TestProgressPercentMonotonic(t *testing.T) {
	prev := -1
	for _, s := range stageOrder {
		p := ProgressPercent(s, 0)
		assert.Greater(t, p, prev, "stage %s", s)
		prev = p
	}
	assert.Equal(t, 0, ProgressPercent(StagePendingUpload, 0))
	assert.Equal(t, 100, ProgressPercent(StageCompleted, 0))
}

func TestProgressPercentEmbeddingWeighted(t *testing.T) {
	base := ProgressPercent(StageEmbedding, 0)
	some := ProgressPercent(StageEmbedding, 3)
	assert.Greater(t, some, base)

	// heavy chunk counts stay capped below completion
	assert.Equal(t, embedPercentCap, ProgressPercent(StageEmbedding, 10_000))
	assert.Less(t, ProgressPercent(StageEmbedding, 10_000), ProgressPercent(StageCompleted, 0))
}
