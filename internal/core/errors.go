package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSuitableTarget means no storage bucket from the preference list
	// exists. The upload stage fails closed on it.
	ErrNoSuitableTarget = errors.New("no suitable storage target")

	// ErrNoTextExtracted means OCR succeeded but produced an empty document.
	// Treated as an extraction failure, never as an empty success.
	ErrNoTextExtracted = errors.New("no text extracted from document")

	// ErrChunking means tokenization failed or produced zero chunks.
	ErrChunking = errors.New("chunking produced no chunks")

	// ErrCancelled marks a stage aborted by caller cancellation, so status
	// readers can distinguish it from a genuine failure.
	ErrCancelled = errors.New("cancelled")

	// ErrProductNotFound is returned when a pipeline stage references a
	// product row that does not exist and cannot be materialized.
	ErrProductNotFound = errors.New("product not found")
)

// StageError wraps a failure with the pipeline stage it happened in, so the
// audit log carries enough context to resume from that stage.
type StageError struct {
	Stage  string
	Reason string
	Err    error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stage %s: %s: %v", e.Stage, e.Reason, e.Err)
	}
	return fmt.Sprintf("stage %s: %s", e.Stage, e.Reason)
}

func (e *StageError) Unwrap() error { return e.Err }

// NewStageError builds a StageError; err may be nil when the reason alone
// describes the failure.
func NewStageError(stage, reason string, err error) *StageError {
	return &StageError{Stage: stage, Reason: reason, Err: err}
}
