// Package ratelimit paces outbound API calls. Every upstream this service
// talks to (Gamma, CLOB, Bluesky, Kalshi, Manifold, the RSS hosts) enforces
// its own request budget; each client owns one Limiter to stay inside it.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter is a token bucket. Capacity equals the refill rate, so a full
// bucket absorbs one second of burst before calls start pacing.
type Limiter struct {
	mu     sync.Mutex
	rps    float64
	burst  float64
	level  float64
	filled time.Time
}

// New creates a limiter allowing rps requests per second. Rates at or below
// zero fall back to one per second.
func New(rps float64) *Limiter {
	if rps <= 0 {
		rps = 1.0
	}
	return &Limiter{
		rps:    rps,
		burst:  rps,
		level:  rps,
		filled: time.Now(),
	}
}

// Wait blocks until a token is available or the context is done.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		ok, wait := l.take()
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// take refills the bucket for the elapsed time and attempts to remove one
// token. On failure it reports how long until the next token exists.
func (l *Limiter) take() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.level += now.Sub(l.filled).Seconds() * l.rps
	if l.level > l.burst {
		l.level = l.burst
	}
	l.filled = now

	if l.level >= 1.0 {
		l.level -= 1.0
		return true, 0
	}

	deficit := 1.0 - l.level
	return false, time.Duration(deficit / l.rps * float64(time.Second))
}
