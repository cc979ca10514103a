package expense

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/zombor/expense-tracker/internal/scanning"
)

// Processor runs one candidate through the pipeline
type Processor interface {
	Process(ctx context.Context, raw RawCandidate) (*ExpenseRecord, error)
}

// RetryPolicy bounds caller-side retries of inference timeouts
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy tries three times, starting at one second
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:     3,
	InitialInterval: time.Second,
	MaxInterval:     10 * time.Second,
}

func (rp RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	expo := backoff.NewExponentialBackOff()
	if rp.InitialInterval > 0 {
		expo.InitialInterval = rp.InitialInterval
	}
	if rp.MaxInterval > 0 {
		expo.MaxInterval = rp.MaxInterval
	}
	expo.MaxElapsedTime = 0

	attempts := rp.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(expo, uint64(attempts-1)), ctx)
}

// Do runs op until it succeeds, fails with a non-retryable error or the
// attempts run out. Only inference timeouts are retried.
func (rp RetryPolicy) Do(ctx context.Context, op func() error) error {
	attempt := 0
	wrapped := func() error {
		attempt++
		err := op()
		if err == nil || scanning.IsRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		slog.Warn("Retrying after inference timeout", "attempt", attempt, "wait", wait, "error", err)
	}
	return backoff.RetryNotify(wrapped, rp.backOff(ctx), notify)
}

// Submit processes raw, retrying inference timeouts with backoff. Every
// attempt re-enters the pipeline from the start: inference output may differ
// between attempts. Other failures are returned at once.
func Submit(ctx context.Context, p Processor, raw RawCandidate, policy RetryPolicy) Outcome {
	var record *ExpenseRecord
	err := policy.Do(ctx, func() error {
		r, err := p.Process(ctx, raw)
		if err != nil {
			return err
		}
		record = r
		return nil
	})
	return OutcomeOf(record, err)
}
