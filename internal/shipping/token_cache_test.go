package shipping

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func countingLogin(calls *int32) LoginFunc {
	return func(ctx context.Context) (string, error) {
		n := atomic.AddInt32(calls, 1)
		return fmt.Sprintf("token-%d", n), nil
	}
}

func TestTokenCache_CachesUntilExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	var calls int32
	cache := NewTokenCache(time.Hour, countingLogin(&calls)).WithClock(clock.Now)

	token, err := cache.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-1", token)
	assert.Equal(t, clock.Now().Add(time.Hour), cache.ExpiresAt())

	clock.Advance(59 * time.Minute)
	token, err = cache.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-1", token)

	clock.Advance(2 * time.Minute)
	token, err = cache.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-2", token)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestTokenCache_Invalidate(t *testing.T) {
	var calls int32
	cache := NewTokenCache(time.Hour, countingLogin(&calls))

	_, err := cache.Token(context.Background())
	require.NoError(t, err)
	cache.Invalidate()
	assert.True(t, cache.ExpiresAt().IsZero())

	token, err := cache.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-2", token)
}

func TestTokenCache_LoginFailureIsNotCached(t *testing.T) {
	var calls int32
	cache := NewTokenCache(time.Hour, func(ctx context.Context) (string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return "", stderrors.New("auth down")
		}
		return "ok", nil
	})

	_, err := cache.Token(context.Background())
	require.Error(t, err)

	token, err := cache.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", token)
}

func TestTokenCache_EmptyTokenRejected(t *testing.T) {
	cache := NewTokenCache(time.Hour, func(ctx context.Context) (string, error) { return "", nil })
	_, err := cache.Token(context.Background())
	assert.Error(t, err)
}

func TestTokenCache_ConcurrentReadersShareOneLogin(t *testing.T) {
	var calls int32
	cache := NewTokenCache(time.Hour, func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return "shared", nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := cache.Token(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "shared", token)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
