package dataverse

import (
	"context"
	"log/slog"
	"math"
	"time"
)

// RetryPolicy retries a fallible call with exponential backoff. The wait
// before attempt n+1 is BackoffFactor^n seconds (1s, 2s, 4s with the
// defaults). Only errors the Retryable predicate accepts are retried; the
// last transient error is returned once the attempt budget is spent.
type RetryPolicy struct {
	MaxAttempts   int
	BackoffFactor float64
	Retryable     func(error) bool

	// Sleep overrides the backoff wait; tests inject a no-op.
	Sleep func(time.Duration)
}

// DefaultRetryPolicy matches the tuning used against Dataverse.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		BackoffFactor: 2.0,
		Retryable:     IsTransient,
	}
}

func (p RetryPolicy) Execute(ctx context.Context, logger *slog.Logger, fn func() error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	factor := p.BackoffFactor
	if factor <= 0 {
		factor = 2.0
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		start := time.Now()
		err := fn()
		if err == nil {
			logger.DebugContext(ctx, "dataverse call succeeded",
				"attempt", attempt+1,
				"duration_ms", time.Since(start).Milliseconds())
			return nil
		}
		if !retryable(err) {
			return err
		}
		lastErr = err
		logger.WarnContext(ctx, "transient dataverse error",
			"attempt", attempt+1, "error", err)

		if attempt < maxAttempts-1 {
			wait := time.Duration(math.Pow(factor, float64(attempt)) * float64(time.Second))
			logger.DebugContext(ctx, "retrying dataverse call", "backoff", wait)
			if p.Sleep != nil {
				p.Sleep(wait)
			} else {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(wait):
				}
			}
		}
	}

	logger.ErrorContext(ctx, "dataverse call failed after retries",
		"attempts", maxAttempts, "error", lastErr)
	return lastErr
}
