package retry

import (
	"errors"
	"time"
)

// Config holds retry configuration for one call site
type Config struct {
	// MaxAttempts is the maximum number of attempts (including the initial attempt)
	MaxAttempts int

	// Strategy is the retry strategy to use
	Strategy Strategy

	// RetryIf decides whether an error is worth another attempt.
	// Nil means retry on every error except a Permanent one.
	RetryIf func(err error) bool

	// RetryCallback is called when a retry is triggered
	RetryCallback func(attempt int, err error)

	// GiveUpCallback is called when all retries are exhausted
	GiveUpCallback func(err error)
}

// DefaultConfig returns three attempts with 1s, 2s exponential backoff
func DefaultConfig() *Config {
	return NewConfig(3, NewExponentialBackoff(time.Second, time.Minute, false))
}

// NewConfig creates a new retry config
func NewConfig(maxAttempts int, strategy Strategy) *Config {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Config{
		MaxAttempts: maxAttempts,
		Strategy:    strategy,
	}
}

// WithRetryIf sets the retry predicate
func (c *Config) WithRetryIf(fn func(err error) bool) *Config {
	c.RetryIf = fn
	return c
}

// WithRetryCallback sets the retry callback
func (c *Config) WithRetryCallback(callback func(attempt int, err error)) *Config {
	c.RetryCallback = callback
	return c
}

// WithGiveUpCallback sets the give up callback
func (c *Config) WithGiveUpCallback(callback func(err error)) *Config {
	c.GiveUpCallback = callback
	return c
}

// ShouldRetryError checks if an error should trigger a retry
func (c *Config) ShouldRetryError(err error) bool {
	var perm *PermanentError
	if errors.As(err, &perm) {
		return false
	}
	if c.RetryIf == nil {
		return true
	}
	return c.RetryIf(err)
}

// CalculateNextDelay calculates the delay before the next retry
func (c *Config) CalculateNextDelay(attempt int) time.Duration {
	if c.Strategy == nil {
		return 0
	}
	return c.Strategy.NextDelay(attempt)
}

// ShouldRetry checks if a retry should be attempted
func (c *Config) ShouldRetry(attempt int) bool {
	if c.Strategy == nil {
		return false
	}
	return c.Strategy.ShouldRetry(attempt, c.MaxAttempts)
}

// PermanentError marks an error that retrying cannot fix
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the executor gives up immediately
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}
