// Package ratelimit throttles calls to the upstream market data API.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Limiter enforces a minimum interval between the start of consecutive calls.
// One Limiter should back one upstream API key; concurrent callers serialize on Wait.
type Limiter struct {
	limiter  *rate.Limiter
	interval time.Duration

	// slot is held by the caller inside Wait and guards last
	slot chan struct{}
	last time.Time
}

// NewPerMinute creates a limiter allowing callsPerMinute calls, evenly spaced.
// A non-positive budget disables throttling.
func NewPerMinute(callsPerMinute int) *Limiter {
	if callsPerMinute <= 0 {
		return NewInterval(0)
	}
	return NewInterval(time.Minute / time.Duration(callsPerMinute))
}

// NewInterval creates a limiter with an explicit minimum interval
func NewInterval(interval time.Duration) *Limiter {
	if interval <= 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Limiter{
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		interval: interval,
		slot:     make(chan struct{}, 1),
	}
}

// Wait blocks until at least one interval has passed since the previous Wait
// returned, or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l.interval == 0 {
		return nil
	}

	select {
	case l.slot <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("rate limiter wait: %w", ctx.Err())
	}
	defer func() { <-l.slot }()

	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}

	if !l.last.IsZero() {
		if remaining := l.interval - time.Since(l.last); remaining > 0 {
			timer := time.NewTimer(remaining)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return fmt.Errorf("rate limiter wait: %w", ctx.Err())
			}
		}
	}

	l.last = time.Now()
	return nil
}

// Interval returns the enforced minimum spacing, zero when unlimited
func (l *Limiter) Interval() time.Duration {
	return l.interval
}
