package ratelimit

import (
	"testing"
	"time"
)

func TestKeyedLimiter(t *testing.T) {
	limiter, err := NewKeyedLimiter(Config{Enabled: true, RequestsPerSecond: 1, BurstSize: 2})
	if err != nil {
		t.Fatalf("Failed to create limiter: %v", err)
	}

	for i := 0; i < 2; i++ {
		if !limiter.Allow("10.0.0.1") {
			t.Errorf("Request %d should be allowed", i)
		}
	}
	if limiter.Allow("10.0.0.1") {
		t.Error("Request should be denied after burst exhausted")
	}
	if !limiter.Allow("10.0.0.2") {
		t.Error("Other keys should have their own bucket")
	}
}

func TestKeyedLimiterDisabled(t *testing.T) {
	limiter, err := NewKeyedLimiter(Config{Enabled: false})
	if err != nil {
		t.Fatalf("Failed to create limiter: %v", err)
	}
	for i := 0; i < 100; i++ {
		if !limiter.Allow("ip") {
			t.Fatal("Disabled limiter should allow everything")
		}
	}
}

func TestKeyedLimiterCleanup(t *testing.T) {
	limiter, err := NewKeyedLimiter(Config{
		Enabled:           true,
		RequestsPerSecond: 10,
		CleanupPeriod:     time.Minute,
	})
	if err != nil {
		t.Fatalf("Failed to create limiter: %v", err)
	}

	now := time.Now()
	limiter.now = func() time.Time { return now }
	limiter.Allow("a")
	limiter.Allow("b")
	if got := limiter.ActiveKeys(); got != 2 {
		t.Fatalf("expected 2 keys, got %d", got)
	}

	now = now.Add(2 * time.Minute)
	limiter.Allow("c")
	if got := limiter.ActiveKeys(); got != 1 {
		t.Errorf("expected idle keys to be swept, got %d", got)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{Enabled: true, RequestsPerSecond: 0}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero rate")
	}

	cfg = Config{Enabled: true, RequestsPerSecond: 5}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.BurstSize != 5 || cfg.MaxKeys != 10000 || cfg.CleanupPeriod != 5*time.Minute {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}
