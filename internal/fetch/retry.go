// Package fetch wraps upstream calls with bounded retry on rate-limit
// responses. Any other failure propagates immediately.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrRateLimited is the signal an upstream client returns (or wraps) when
// the remote service responded with a rate-limit status.
var ErrRateLimited = errors.New("upstream rate limited")

// ErrRateLimitExceeded is returned once retries are exhausted. Callers must
// treat it as "skip this item this cycle", never as a fatal error.
var ErrRateLimitExceeded = errors.New("rate limit retries exhausted")

// Retrier retries rate-limited operations with capped exponential backoff.
type Retrier struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	log         *logrus.Logger
}

// NewRetrier creates a retrier. maxAttempts counts the initial call, so 5
// means at most 5 invocations of the operation.
func NewRetrier(maxAttempts int, baseDelay, maxDelay time.Duration, log *logrus.Logger) *Retrier {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	return &Retrier{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		log:         log,
	}
}

// Do invokes op, retrying on ErrRateLimited with exponential backoff
// (base * 2^attempt, capped). Implemented as a counted loop; retry via
// recursion is forbidden here because sustained rate limiting would grow
// the stack without bound.
func (r *Retrier) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrRateLimited) {
			return err
		}

		if attempt == r.maxAttempts-1 {
			break
		}

		delay := r.backoff(attempt)
		r.log.WithFields(logrus.Fields{
			"operation": name,
			"attempt":   attempt + 1,
			"delay":     delay.String(),
		}).Warn("Rate limited, backing off")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("%s: %w", name, ErrRateLimitExceeded)
}

func (r *Retrier) backoff(attempt int) time.Duration {
	delay := r.baseDelay << uint(attempt)
	if delay > r.maxDelay || delay <= 0 {
		delay = r.maxDelay
	}
	return delay
}
