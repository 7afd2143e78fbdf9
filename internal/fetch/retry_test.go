package fetch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func newTestRetrier(maxAttempts int) *Retrier {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewRetrier(maxAttempts, time.Millisecond, 4*time.Millisecond, log)
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	r := newTestRetrier(5)

	calls := 0
	err := r.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_RetriesThenSucceeds(t *testing.T) {
	r := newTestRetrier(5)

	calls := 0
	err := r.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return ErrRateLimited
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_BoundedOnSustainedRateLimit(t *testing.T) {
	// A source that always signals rate-limit must produce exactly
	// maxAttempts invocations and then a skip signal.
	r := newTestRetrier(5)

	calls := 0
	err := r.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return ErrRateLimited
	})
	if calls != 5 {
		t.Errorf("expected 5 attempts, got %d", calls)
	}
	if !errors.Is(err, ErrRateLimitExceeded) {
		t.Errorf("expected ErrRateLimitExceeded, got %v", err)
	}
}

func TestDo_OtherErrorPropagatesImmediately(t *testing.T) {
	r := newTestRetrier(5)

	boom := errors.New("boom")
	calls := 0
	err := r.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return boom
	})
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
}

func TestDo_WrappedRateLimitErrorRetried(t *testing.T) {
	r := newTestRetrier(2)

	calls := 0
	err := r.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return errors.Join(errors.New("status 429"), ErrRateLimited)
	})
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
	if !errors.Is(err, ErrRateLimitExceeded) {
		t.Errorf("expected ErrRateLimitExceeded, got %v", err)
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	r := NewRetrier(5, time.Second, time.Second, log)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := r.Do(ctx, "op", func(ctx context.Context) error {
		return ErrRateLimited
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestBackoffCapped(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	r := NewRetrier(10, 100*time.Millisecond, 400*time.Millisecond, log)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 400 * time.Millisecond}, // capped
		{8, 400 * time.Millisecond}, // capped
	}
	for _, tt := range tests {
		if got := r.backoff(tt.attempt); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
