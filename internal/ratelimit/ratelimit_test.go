package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestWaitBurstThenPace(t *testing.T) {
	l := New(5)

	// A fresh bucket holds a full second of tokens.
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("Wait %d returned %v, want nil", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("burst of 5 took %v, want nearly immediate", elapsed)
	}

	// The sixth call has to wait for a refill.
	start = time.Now()
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("Wait after burst returned %v, want nil", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("Wait after burst took %v, want a pacing delay", elapsed)
	}
}

func TestWaitCancelled(t *testing.T) {
	l := New(0.1)

	// Drain the single token, then cancel while the next Wait is pending.
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait returned %v, want nil", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Wait(ctx)
	if err != context.DeadlineExceeded {
		t.Errorf("Wait returned %v, want context.DeadlineExceeded", err)
	}
}

func TestZeroRateFallsBack(t *testing.T) {
	l := New(0)
	if l.rps != 1.0 {
		t.Errorf("rps = %v, want fallback of 1.0", l.rps)
	}
}
