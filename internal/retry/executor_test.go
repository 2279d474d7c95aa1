package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExecutor_Execute_Success(t *testing.T) {
	executor := NewExecutor(DefaultConfig())

	callCount := 0
	err := executor.Execute(context.Background(), func() error {
		callCount++
		return nil
	})
	if err != nil {
		t.Errorf("Execute() error = %v, want nil", err)
	}
	if callCount != 1 {
		t.Errorf("Function called %d times, want 1", callCount)
	}
}

func TestExecutor_Execute_SuccessAfterRetries(t *testing.T) {
	executor := NewExecutor(NewConfig(5, NewFixedDelay(5*time.Millisecond, false)))

	callCount := 0
	err := executor.Execute(context.Background(), func() error {
		callCount++
		if callCount < 3 {
			return errors.New("temporary error")
		}
		return nil
	})
	if err != nil {
		t.Errorf("Execute() error = %v, want nil", err)
	}
	if callCount != 3 {
		t.Errorf("Function called %d times, want 3", callCount)
	}
}

func TestExecutor_Execute_AllRetriesFailed(t *testing.T) {
	executor := NewExecutor(NewConfig(3, NewFixedDelay(5*time.Millisecond, false)))
	cause := errors.New("persistent error")

	callCount := 0
	err := executor.Execute(context.Background(), func() error {
		callCount++
		return cause
	})
	if !errors.Is(err, cause) {
		t.Errorf("Execute() error = %v, want wrapped %v", err, cause)
	}
	if callCount != 3 {
		t.Errorf("Function called %d times, want 3", callCount)
	}
}

func TestExecutor_Execute_NoRetryStrategy(t *testing.T) {
	executor := NewExecutor(NewConfig(5, NewNoRetry()))

	callCount := 0
	_ = executor.Execute(context.Background(), func() error {
		callCount++
		return errors.New("error")
	})
	if callCount != 1 {
		t.Errorf("Function called %d times, want 1", callCount)
	}
}

func TestExecutor_Execute_PermanentError(t *testing.T) {
	executor := NewExecutor(NewConfig(5, NewFixedDelay(5*time.Millisecond, false)))
	cause := errors.New("invalid token")

	callCount := 0
	err := executor.Execute(context.Background(), func() error {
		callCount++
		return Permanent(cause)
	})
	if callCount != 1 {
		t.Errorf("Function called %d times, want 1", callCount)
	}
	if !errors.Is(err, cause) {
		t.Errorf("Execute() error = %v, want %v", err, cause)
	}
}

func TestExecutor_Execute_RetryIf(t *testing.T) {
	retryable := errors.New("timeout")
	config := NewConfig(4, NewFixedDelay(time.Millisecond, false)).
		WithRetryIf(func(err error) bool { return errors.Is(err, retryable) })
	executor := NewExecutor(config)

	callCount := 0
	_ = executor.Execute(context.Background(), func() error {
		callCount++
		if callCount == 1 {
			return retryable
		}
		return errors.New("bad request")
	})
	if callCount != 2 {
		t.Errorf("Function called %d times, want 2", callCount)
	}
}

func TestExecutor_Execute_ContextCancellation(t *testing.T) {
	executor := NewExecutor(NewConfig(5, NewFixedDelay(100*time.Millisecond, false)))

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	callCount := 0
	err := executor.Execute(ctx, func() error {
		callCount++
		return errors.New("error")
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Execute() error = %v, want deadline exceeded", err)
	}
	if callCount > 3 {
		t.Errorf("Function called %d times, want <= 3", callCount)
	}
}

func TestExecutor_Execute_Callbacks(t *testing.T) {
	var retried []int
	gaveUp := false
	config := NewConfig(3, NewFixedDelay(time.Millisecond, false)).
		WithRetryCallback(func(attempt int, err error) { retried = append(retried, attempt) }).
		WithGiveUpCallback(func(err error) { gaveUp = true })

	err := NewExecutor(config).Execute(context.Background(), func() error {
		return errors.New("persistent error")
	})
	if err == nil {
		t.Error("Execute() error = nil, want error")
	}
	if len(retried) != 2 || retried[0] != 1 || retried[1] != 2 {
		t.Errorf("RetryCallback attempts = %v, want [1 2]", retried)
	}
	if !gaveUp {
		t.Error("GiveUpCallback was not called")
	}
}

func TestExecuteWithValue_SuccessAfterRetries(t *testing.T) {
	config := NewConfig(5, NewFixedDelay(5*time.Millisecond, false))

	callCount := 0
	result, err := ExecuteWithValue(context.Background(), config, func() (int, error) {
		callCount++
		if callCount < 3 {
			return 0, errors.New("temporary error")
		}
		return 42, nil
	})
	if err != nil {
		t.Errorf("ExecuteWithValue() error = %v, want nil", err)
	}
	if result != 42 {
		t.Errorf("ExecuteWithValue() result = %v, want 42", result)
	}
}

func TestExecuteWithValue_AllRetriesFailed(t *testing.T) {
	config := NewConfig(3, NewFixedDelay(time.Millisecond, false))

	result, err := ExecuteWithValue(context.Background(), config, func() (string, error) {
		return "partial", errors.New("persistent error")
	})
	if err == nil {
		t.Error("ExecuteWithValue() error = nil, want error")
	}
	if result != "" {
		t.Errorf("ExecuteWithValue() result = %v, want empty string", result)
	}
}

func BenchmarkExecutor_Execute_NoRetries(b *testing.B) {
	executor := NewExecutor(NewConfig(1, NewNoRetry()))
	fn := func() error { return nil }

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = executor.Execute(context.Background(), fn)
	}
}
