package shipping

import (
	"context"
	"sync"
	"time"

	"storefront-fulfillment/internal/common/errors"
)

// TokenSource supplies the bearer token for provider calls
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	// Invalidate drops the current token so the next Token call logs in again
	Invalidate()
}

// LoginFunc obtains a fresh token from the provider
type LoginFunc func(ctx context.Context) (string, error)

// TokenCache keeps one bearer token in memory until it expires.
// Readers share the RWMutex read path; a refresh holds the write lock so
// concurrent callers wait for a single login instead of each starting one.
type TokenCache struct {
	mu        sync.RWMutex
	token     string
	expiresAt time.Time

	ttl   time.Duration
	login LoginFunc
	now   func() time.Time
}

// NewTokenCache creates an empty cache that stores tokens for ttl
func NewTokenCache(ttl time.Duration, login LoginFunc) *TokenCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenCache{
		ttl:   ttl,
		login: login,
		now:   time.Now,
	}
}

// WithClock replaces the time source
func (c *TokenCache) WithClock(now func() time.Time) *TokenCache {
	c.now = now
	return c
}

// Token returns the cached token, logging in when it is missing or expired
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	c.mu.RLock()
	token, valid := c.token, c.now().Before(c.expiresAt)
	c.mu.RUnlock()
	if valid && token != "" {
		return token, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// another caller may have refreshed while we waited for the lock
	if c.token != "" && c.now().Before(c.expiresAt) {
		return c.token, nil
	}

	if c.login == nil {
		return "", errors.ConfigError("shipping token cache has no login function")
	}
	fresh, err := c.login(ctx)
	if err != nil {
		return "", err
	}
	if fresh == "" {
		return "", errors.AuthError("shipping provider returned an empty token")
	}

	c.token = fresh
	c.expiresAt = c.now().Add(c.ttl)
	return fresh, nil
}

func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

// ExpiresAt reports when the cached token lapses, zero when none is cached
func (c *TokenCache) ExpiresAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.expiresAt
}
