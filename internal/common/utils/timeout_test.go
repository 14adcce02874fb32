package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "storefront-fulfillment/internal/common/errors"
)

func TestCallWithTimeout_ReturnsValue(t *testing.T) {
	v, err := CallWithTimeout(context.Background(), time.Second, "fast", func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestCallWithTimeout_PassesThroughErrors(t *testing.T) {
	boom := errors.New("boom")
	_, err := CallWithTimeout(context.Background(), time.Second, "op", func(ctx context.Context) (string, error) {
		return "", boom
	})
	assert.Same(t, boom, err)
	assert.False(t, IsTimeout(err))
}

func TestCallWithTimeout_UncooperativeCallee(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	_, err := CallWithTimeout(context.Background(), 20*time.Millisecond, "document fetch", func(ctx context.Context) ([]byte, error) {
		<-release
		return []byte("late"), nil
	})

	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.Less(t, time.Since(start), time.Second)

	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, "document fetch", appErr.Context["operation"])
}

func TestCallWithTimeout_CooperativeCalleeDeadline(t *testing.T) {
	err := RunWithTimeout(context.Background(), 10*time.Millisecond, "mail send", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.True(t, IsTimeout(err))
}

func TestCallWithTimeout_ParentCancellationIsNotTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RunWithTimeout(ctx, time.Second, "op", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsTimeout(err))
}

func TestCallWithTimeout_SiblingsAreIndependent(t *testing.T) {
	slow := make(chan error, 1)
	fast := make(chan error, 1)

	go func() {
		slow <- RunWithTimeout(context.Background(), 10*time.Millisecond, "slow", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
	}()
	go func() {
		fast <- RunWithTimeout(context.Background(), time.Second, "fast", func(ctx context.Context) error {
			time.Sleep(30 * time.Millisecond)
			return ctx.Err()
		})
	}()

	assert.True(t, IsTimeout(<-slow))
	assert.NoError(t, <-fast)
}
