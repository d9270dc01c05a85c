package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/dcshock/defsync/clock"
)

// GiveUp selects what happens when a RetryPolicy runs out of attempts.
type GiveUp int

const (
	// Soft logs a warning and leaves the caller's last known-good state in place.
	Soft GiveUp = iota
	// Fatal stops the pipeline with a FatalError.
	Fatal
)

func (g GiveUp) String() string {
	if g == Fatal {
		return "fatal"
	}
	return "soft"
}

// RetryPolicy retries an operation at a fixed interval. Bound is the number
// of retries after the first attempt; a negative Bound retries forever.
type RetryPolicy struct {
	Bound    int
	Interval time.Duration
	GiveUp   GiveUp
}

// ShouldRetry reports whether another attempt is allowed after attempt
// failures. A negative bound always allows one.
func ShouldRetry(attempt, bound int) bool {
	return bound < 0 || attempt <= bound
}

// Do calls fn until it succeeds, the context ends, or the policy gives up.
// attempt passed to fn starts at 0. Every call starts a fresh count, so a
// success resets the budget for the next operation.
//
// On give-up Do returns an ExhaustedError, wrapped in a FatalError when the
// policy is Fatal. A cancelled context returns ctx.Err().
func (p RetryPolicy) Do(ctx context.Context, clk clock.Clock, logger *slog.Logger, op string, fn func(ctx context.Context, attempt int) error) error {
	for attempt := 0; ; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			if attempt > 0 {
				logger.Info("succeeded after retry", "op", op, "attempts", attempt+1)
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		failures := attempt + 1
		if !ShouldRetry(failures, p.Bound) {
			exhausted := &ExhaustedError{Op: op, Attempts: failures, Err: err}
			if p.GiveUp == Fatal {
				return &FatalError{Op: op, Err: exhausted}
			}
			logger.Warn("giving up", "op", op, "attempts", failures, "error", err)
			return exhausted
		}

		logger.Warn("attempt failed, retrying",
			"op", op,
			"attempt", failures,
			"bound", p.Bound,
			"retry_in", p.Interval,
			"transient", IsRetryable(err),
			"error", err,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clk.After(p.Interval):
		}
	}
}
