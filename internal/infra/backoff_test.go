package infra

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 60 * time.Second}

	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{-1, 1 * time.Second},
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{10, 60 * time.Second},  // capped
		{100, 60 * time.Second}, // still capped
	}

	for _, tt := range tests {
		if got := p.Backoff(tt.retryCount); got != tt.want {
			t.Errorf("Backoff(%d) = %s, want %s", tt.retryCount, got, tt.want)
		}
	}
}

type recordingSleeper struct {
	delays []time.Duration
}

func (r *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

var errTransient = errors.New("transient")
var errFatal = errors.New("fatal")

func classifyTest(err error) Decision {
	if errors.Is(err, errTransient) {
		return RetryLater
	}
	return Abort
}

func TestRetry(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		s := &recordingSleeper{}
		calls := 0
		err := Retry(context.Background(), policy, s.sleep, classifyTest, func(ctx context.Context, attempt int) error {
			calls++
			if attempt < 3 {
				return errTransient
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Expected success, got %v", err)
		}
		if calls != 3 {
			t.Errorf("Expected 3 calls, got %d", calls)
		}
		want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
		if len(s.delays) != len(want) || s.delays[0] != want[0] || s.delays[1] != want[1] {
			t.Errorf("Expected delays %v, got %v", want, s.delays)
		}
	})

	t.Run("aborts immediately", func(t *testing.T) {
		s := &recordingSleeper{}
		calls := 0
		err := Retry(context.Background(), policy, s.sleep, classifyTest, func(ctx context.Context, attempt int) error {
			calls++
			return errFatal
		})
		if !errors.Is(err, errFatal) {
			t.Fatalf("Expected fatal error, got %v", err)
		}
		if calls != 1 {
			t.Errorf("Expected 1 call, got %d", calls)
		}
		if len(s.delays) != 0 {
			t.Errorf("Expected no sleeps, got %v", s.delays)
		}
	})

	t.Run("gives up at the attempt cap", func(t *testing.T) {
		s := &recordingSleeper{}
		calls := 0
		err := Retry(context.Background(), policy, s.sleep, classifyTest, func(ctx context.Context, attempt int) error {
			calls++
			return errTransient
		})
		var re *RetryError
		if !errors.As(err, &re) {
			t.Fatalf("Expected RetryError, got %T", err)
		}
		if re.Attempts != 3 || calls != 3 {
			t.Errorf("Expected 3 attempts, got %d (calls %d)", re.Attempts, calls)
		}
		if !errors.Is(err, errTransient) {
			t.Error("Expected RetryError to unwrap to the last failure")
		}
	})

	t.Run("stops when context is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		calls := 0
		err := Retry(ctx, policy, SleepContext, classifyTest, func(ctx context.Context, attempt int) error {
			calls++
			return errTransient
		})
		if err == nil || calls != 1 {
			t.Errorf("Expected one call and an error, got calls=%d err=%v", calls, err)
		}
	})
}
