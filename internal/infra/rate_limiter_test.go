package infra

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiter_Burst(t *testing.T) {
	rl := NewRateLimiter(3, 1)

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		err := rl.Wait(ctx)
		cancel()
		if err != nil {
			t.Fatalf("Expected token %d to be available: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); err == nil {
		t.Error("Expected bucket to be empty after burst")
	}
}

func TestRateLimiter_WaitRefills(t *testing.T) {
	rl := NewRateLimiter(1, 50) // one token every 20ms

	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("Expected first token: %v", err)
	}

	start := time.Now()
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("Expected Wait to block for a refill, returned after %s", elapsed)
	}
}

func TestRateLimiter_WaitHonoursContext(t *testing.T) {
	rl := NewRateLimiter(1, 0.1)
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("Expected first token: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := rl.Wait(ctx); err == nil {
		t.Error("Expected Wait to fail when the deadline is shorter than the refill")
	}
}
