package retry

import (
	"context"
	"fmt"
	"time"
)

// Executor executes a function with retry logic
type Executor struct {
	config *Config
}

// NewExecutor creates a new retry executor
func NewExecutor(config *Config) *Executor {
	if config == nil {
		config = DefaultConfig()
	}
	return &Executor{
		config: config,
	}
}

// Config returns the configuration the executor runs with
func (e *Executor) Config() *Config {
	return e.config
}

// Execute runs a function with retry logic
func (e *Executor) Execute(ctx context.Context, fn func() error) error {
	_, err := ExecuteWithValue(ctx, e.config, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// ExecuteWithValue runs a function that returns a value with retry logic
func ExecuteWithValue[T any](ctx context.Context, config *Config, fn func() (T, error)) (T, error) {
	var zero T

	if config == nil {
		config = DefaultConfig()
	}

	for attempt := 1; ; attempt++ {
		val, err := fn()
		if err == nil {
			return val, nil
		}

		if !config.ShouldRetryError(err) {
			if config.GiveUpCallback != nil {
				config.GiveUpCallback(err)
			}
			return zero, err
		}

		if attempt >= config.MaxAttempts || !config.ShouldRetry(attempt) {
			if config.GiveUpCallback != nil {
				config.GiveUpCallback(err)
			}
			return zero, fmt.Errorf("all retry attempts exhausted after %d tries: %w", attempt, err)
		}

		if config.RetryCallback != nil {
			config.RetryCallback(attempt, err)
		}

		delay := config.CalculateNextDelay(attempt)

		// Wait for delay or context cancellation
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
}
