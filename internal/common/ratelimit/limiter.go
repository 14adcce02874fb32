// Package ratelimit implements per-key token bucket limiting on top of
// golang.org/x/time/rate. Public ingress endpoints key it by client IP.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config represents rate limiter configuration
type Config struct {
	Enabled           bool
	RequestsPerSecond float64
	BurstSize         int

	// Idle keys are forgotten after CleanupPeriod; MaxKeys forces an early sweep
	MaxKeys       int
	CleanupPeriod time.Duration
}

// Validate fills defaults and rejects impossible values
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive, got %v", c.RequestsPerSecond)
	}
	if c.BurstSize <= 0 {
		c.BurstSize = int(c.RequestsPerSecond)
		if c.BurstSize < 1 {
			c.BurstSize = 1
		}
	}
	if c.MaxKeys <= 0 {
		c.MaxKeys = 10000
	}
	if c.CleanupPeriod <= 0 {
		c.CleanupPeriod = 5 * time.Minute
	}
	return nil
}

// KeyedLimiter keeps one token bucket per key
type KeyedLimiter struct {
	mu       sync.Mutex
	config   Config
	limiters map[string]*limiterEntry

	lastCleanup time.Time
	now         func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// NewKeyedLimiter creates a limiter; a disabled config allows everything
func NewKeyedLimiter(config Config) (*KeyedLimiter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &KeyedLimiter{
		config:      config,
		limiters:    make(map[string]*limiterEntry),
		lastCleanup: time.Now(),
		now:         time.Now,
	}, nil
}

// Allow reports whether a request for key may proceed now
func (l *KeyedLimiter) Allow(key string) bool {
	if !l.config.Enabled {
		return true
	}
	limiter, now := l.limiterFor(key)
	return limiter.AllowN(now, 1)
}

func (l *KeyedLimiter) limiterFor(key string) (*rate.Limiter, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastCleanup) > l.config.CleanupPeriod {
		l.cleanup(now)
	}

	entry, exists := l.limiters[key]
	if !exists {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(l.config.RequestsPerSecond), l.config.BurstSize),
		}
		l.limiters[key] = entry
		if len(l.limiters) > l.config.MaxKeys {
			l.cleanup(now)
		}
	}
	entry.lastUsed = now
	return entry.limiter, now
}

// cleanup drops limiters idle for longer than the cleanup period
func (l *KeyedLimiter) cleanup(now time.Time) {
	cutoff := now.Add(-l.config.CleanupPeriod)
	for key, entry := range l.limiters {
		if entry.lastUsed.Before(cutoff) {
			delete(l.limiters, key)
		}
	}
	l.lastCleanup = now
}

// ActiveKeys returns how many keys currently hold a bucket
func (l *KeyedLimiter) ActiveKeys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
