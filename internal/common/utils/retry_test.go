package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	assert.Equal(t, 3, config.MaxAttempts)
	assert.Equal(t, 1*time.Second, config.InitialDelay)
	assert.Equal(t, 30*time.Second, config.MaxDelay)
	assert.Equal(t, 2.0, config.BackoffFactor)
	assert.True(t, config.RetryableErrors(errors.New("any error")))
}

func TestRetryWithBackoff_Success(t *testing.T) {
	config := DefaultRetryConfig()
	config.InitialDelay = 10 * time.Millisecond

	attempts := 0
	err := RetryWithBackoff(context.Background(), config, func() error {
		attempts++
		if attempts < 2 {
			return errors.New("temporary error")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRetryWithBackoff_AllAttemptsFail(t *testing.T) {
	config := DefaultRetryConfig()
	config.InitialDelay = 5 * time.Millisecond

	attempts := 0
	testError := errors.New("persistent error")
	var retried []int
	config.OnRetry = func(attempt int, _ time.Duration, _ error) {
		retried = append(retried, attempt)
	}

	err := RetryWithBackoff(context.Background(), config, func() error {
		attempts++
		return testError
	})

	assert.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int{1, 2}, retried)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.ErrorIs(t, err, testError)
}

func TestRetryWithBackoff_NoRetryReturnsOriginalError(t *testing.T) {
	testError := errors.New("once")
	attempts := 0

	err := RetryWithBackoff(context.Background(), NoRetry(), func() error {
		attempts++
		return testError
	})

	assert.Equal(t, 1, attempts)
	assert.Same(t, testError, err)
}

func TestRetryWithBackoff_NonRetryableError(t *testing.T) {
	config := DefaultRetryConfig()
	config.InitialDelay = 5 * time.Millisecond
	fatal := errors.New("fatal")
	config.RetryableErrors = func(err error) bool { return !errors.Is(err, fatal) }

	attempts := 0
	err := RetryWithBackoff(context.Background(), config, func() error {
		attempts++
		return fatal
	})

	assert.Equal(t, 1, attempts)
	assert.Equal(t, fatal, err)
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	config := DefaultRetryConfig()
	config.InitialDelay = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := RetryWithBackoff(ctx, config, func() error {
		attempts++
		cancel()
		return errors.New("fail")
	})

	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "retry cancelled")
}

func TestRandomInt64n(t *testing.T) {
	assert.Equal(t, int64(0), randomInt64n(0))
	for i := 0; i < 100; i++ {
		v := randomInt64n(10)
		assert.GreaterOrEqual(t, v, int64(0))
		assert.Less(t, v, int64(10))
	}
}
