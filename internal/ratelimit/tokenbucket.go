package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// TokenBucket enforces a calls-per-minute ceiling for one upstream
// provider. Acquire blocks cooperatively until a slot is free; it never
// grants more than the configured rate and never fails except on context
// cancellation. Safe for concurrent use.
type TokenBucket struct {
	rate     float64 // tokens per second
	capacity float64
	clk      clock.Clock

	mu     sync.Mutex
	tokens float64
	last   time.Time
}

// NewPerMinute builds a bucket allowing callsPerMinute sustained calls
// with the given burst. The bucket starts full.
func NewPerMinute(callsPerMinute, burst int, clk clock.Clock) *TokenBucket {
	if callsPerMinute <= 0 {
		callsPerMinute = 1
	}
	if burst <= 0 {
		burst = 1
	}
	if clk == nil {
		clk = clock.New()
	}
	return &TokenBucket{
		rate:     float64(callsPerMinute) / 60.0,
		capacity: float64(burst),
		clk:      clk,
		tokens:   float64(burst),
		last:     clk.Now(),
	}
}

// Acquire consumes one call slot, sleeping until one is available.
func (tb *TokenBucket) Acquire(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := tb.clk.Now()
		if elapsed := now.Sub(tb.last).Seconds(); elapsed > 0 {
			tb.tokens += elapsed * tb.rate
			if tb.tokens > tb.capacity {
				tb.tokens = tb.capacity
			}
			tb.last = now
		}
		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}
		deficit := 1 - tb.tokens
		tb.mu.Unlock()

		wait := time.Duration(deficit / tb.rate * float64(time.Second))
		if wait <= 0 {
			wait = time.Millisecond
		}
		timer := tb.clk.Timer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
