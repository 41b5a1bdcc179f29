package infra

import (
	"context"
	"fmt"
	"time"
)

// Decision is what a classifier says about one failed attempt.
type Decision int

const (
	Abort Decision = iota
	RetryLater
)

// Backoff returns the exponential delay before retry number retryCount (0-based):
// base * 2^retryCount, capped at max. A negative count returns base.
func (p RetryPolicy) Backoff(retryCount int) time.Duration {
	if retryCount < 0 {
		return p.BaseDelay
	}
	// 2^30 * any positive base already exceeds every sane cap.
	if retryCount > 30 {
		return p.MaxDelay
	}
	d := p.BaseDelay * time.Duration(1<<retryCount)
	if d > p.MaxDelay || d <= 0 {
		return p.MaxDelay
	}
	return d
}

// Sleeper waits for d or until ctx is done. Tests replace it to avoid real delays.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the production Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryError reports that the attempt budget ran out. It unwraps to the last failure.
type RetryError struct {
	Attempts int
	Err      error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error {
	return e.Err
}

// Retry runs fn until it succeeds, classify says Abort, the policy's attempt
// cap is reached, or ctx is done. attempt is 1-based.
func Retry(ctx context.Context, p RetryPolicy, sleep Sleeper, classify func(error) Decision, fn func(ctx context.Context, attempt int) error) error {
	if sleep == nil {
		sleep = SleepContext
	}
	attempts := max(p.MaxAttempts, 1)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx, attempt); err == nil {
			return nil
		}
		if classify(err) == Abort {
			return err
		}
		if attempt == attempts {
			break
		}
		if serr := sleep(ctx, p.Backoff(attempt-1)); serr != nil {
			return fmt.Errorf("retry interrupted: %w", err)
		}
	}
	return &RetryError{Attempts: attempts, Err: err}
}
