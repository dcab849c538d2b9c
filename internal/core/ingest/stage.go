package ingest

// Stage is one discrete, independently retryable phase of the ingestion
// pipeline. Stages only move forward; failed is reachable from any
// non-terminal stage.
type Stage string

const (
	StagePendingUpload Stage = "pending_upload"
	StageUploading     Stage = "uploading"
	StageUploaded      Stage = "uploaded"
	StageProcessing    Stage = "processing"
	StageExtracting    Stage = "extracting"
	StageChunking      Stage = "chunking"
	StageEmbedding     Stage = "embedding"
	StageCompleted     Stage = "completed"
	StageFailed        Stage = "failed"
)

// stageOrder excludes failed, which sits outside the forward progression.
var stageOrder = []Stage{
	StagePendingUpload,
	StageUploading,
	StageUploaded,
	StageProcessing,
	StageExtracting,
	StageChunking,
	StageEmbedding,
	StageCompleted,
}

// Index returns the stage's position in the forward progression, or -1 for
// failed and unknown values.
func (s Stage) Index() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// CanTransitionTo enforces forward-only movement. Re-entering the same stage
// is allowed so a retried stage can re-announce itself.
func (s Stage) CanTransitionTo(next Stage) bool {
	if next == StageFailed {
		return !s.Terminal()
	}
	ci, ni := s.Index(), next.Index()
	if ci < 0 || ni < 0 {
		return false
	}
	return ni >= ci
}

// ParseStage validates a stage name coming off the wire.
func ParseStage(name string) (Stage, bool) {
	s := Stage(name)
	if s == StageFailed {
		return s, true
	}
	return s, s.Index() >= 0
}

const (
	// embedChunkWeight and embedPercentCap shape the progress curve inside
	// the embedding stage so long embed runs keep moving the bar without
	// ever reporting completion early.
	embedChunkWeight = 2
	embedPercentCap  = 99
)

// ProgressPercent maps a stage to a monotonic 0-100 value. Inside the
// embedding stage the base is weighted by processed chunk count, capped
// below 100.
func ProgressPercent(s Stage, processedChunks int) int {
	last := len(stageOrder) - 1
	idx := s.Index()
	if idx < 0 {
		return 0
	}
	base := idx * 100 / last
	if s != StageEmbedding {
		return base
	}
	p := base + processedChunks*embedChunkWeight
	if p > embedPercentCap {
		return embedPercentCap
	}
	return p
}
