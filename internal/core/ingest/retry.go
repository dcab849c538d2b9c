package ingest

import (
	"context"
	"time"
)

// RetryPolicy is a declarative retry schedule applied at external-call
// boundaries: at most MaxAttempts tries, sleeping InitialInterval doubled by
// BackoffCoefficient between them, never longer than MaximumInterval.
type RetryPolicy struct {
	MaxAttempts        int
	InitialInterval    time.Duration
	BackoffCoefficient float64
	MaximumInterval    time.Duration
}

// DefaultEmbedRetry matches the embedding-stage contract: 3 attempts,
// 1s initial backoff, doubling.
func DefaultEmbedRetry() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:        3,
		InitialInterval:    time.Second,
		BackoffCoefficient: 2,
		MaximumInterval:    20 * time.Second,
	}
}

// Do runs op until it succeeds, attempts are exhausted, or ctx is cancelled.
// The last error is returned; cancellation surfaces as ctx.Err().
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	interval := p.InitialInterval

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
		if p.BackoffCoefficient > 1 {
			interval = time.Duration(float64(interval) * p.BackoffCoefficient)
		}
		if p.MaximumInterval > 0 && interval > p.MaximumInterval {
			interval = p.MaximumInterval
		}
	}
	return err
}
