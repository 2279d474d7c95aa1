package retry

import (
	"math"
	"math/rand"
	"time"
)

// Strategy defines the interface for retry strategies
type Strategy interface {
	// NextDelay calculates the delay before the next retry attempt
	NextDelay(attempt int) time.Duration

	// ShouldRetry determines if a retry should be attempted
	ShouldRetry(attempt, maxAttempts int) bool
}

// ExponentialBackoff waits BaseDelay * Multiplier^(attempt-1), capped at MaxDelay
type ExponentialBackoff struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     bool
}

// NewExponentialBackoff creates a doubling backoff strategy
func NewExponentialBackoff(baseDelay, maxDelay time.Duration, jitter bool) *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:  baseDelay,
		MaxDelay:   maxDelay,
		Multiplier: 2.0,
		Jitter:     jitter,
	}
}

// NextDelay calculates the next delay using exponential backoff
func (e *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	delay := float64(e.BaseDelay) * math.Pow(e.Multiplier, float64(attempt-1))

	if e.MaxDelay > 0 && delay > float64(e.MaxDelay) {
		delay = float64(e.MaxDelay)
	}

	if e.Jitter {
		delay = jitter(delay)
	}

	return time.Duration(delay)
}

// ShouldRetry checks if we should retry based on attempt count
func (e *ExponentialBackoff) ShouldRetry(attempt, maxAttempts int) bool {
	return attempt < maxAttempts
}

// FixedDelay waits the same delay between every attempt
type FixedDelay struct {
	Delay  time.Duration
	Jitter bool
}

// NewFixedDelay creates a new fixed delay strategy
func NewFixedDelay(delay time.Duration, jitter bool) *FixedDelay {
	return &FixedDelay{
		Delay:  delay,
		Jitter: jitter,
	}
}

// NextDelay returns a fixed delay
func (f *FixedDelay) NextDelay(attempt int) time.Duration {
	if f.Jitter {
		return time.Duration(jitter(float64(f.Delay)))
	}
	return f.Delay
}

// ShouldRetry checks if we should retry based on attempt count
func (f *FixedDelay) ShouldRetry(attempt, maxAttempts int) bool {
	return attempt < maxAttempts
}

// NoRetry implements a no-retry strategy
type NoRetry struct{}

// NewNoRetry creates a new no-retry strategy
func NewNoRetry() *NoRetry {
	return &NoRetry{}
}

// NextDelay always returns 0
func (n *NoRetry) NextDelay(attempt int) time.Duration {
	return 0
}

// ShouldRetry always returns false
func (n *NoRetry) ShouldRetry(attempt, maxAttempts int) bool {
	return false
}

// jitter randomizes a delay by ±25%
func jitter(delay float64) float64 {
	return delay * (0.75 + rand.Float64()*0.5)
}
