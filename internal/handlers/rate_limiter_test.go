package handlers

import (
	"testing"
	"time"
)

func TestKeyedRateLimiterRefillsPerKey(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := newKeyedRateLimiter(1, 1, func() time.Time { return now })

	if !limiter.Allow("a") {
		t.Fatalf("expected first request allowed")
	}
	if limiter.Allow("a") {
		t.Fatalf("expected second request in same instant rejected")
	}
	if !limiter.Allow("b") {
		t.Fatalf("expected other key to have its own bucket")
	}

	now = now.Add(time.Second)
	if !limiter.Allow("a") {
		t.Fatalf("expected bucket refilled after one second")
	}
}

func TestKeyedRateLimiterPrunesIdleKeys(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := newKeyedRateLimiter(1, 1, func() time.Time { return now }).(*keyedRateLimiter)

	limiter.Allow("stale")
	now = now.Add(limiterIdleTTL + time.Second)
	limiter.Allow("fresh")

	if _, ok := limiter.store["stale"]; ok {
		t.Fatalf("expected idle key pruned")
	}
	if len(limiter.store) != 1 {
		t.Fatalf("expected one tracked key, got %d", len(limiter.store))
	}
}

func TestNewKeyedRateLimiterDisabled(t *testing.T) {
	if limiter := newKeyedRateLimiter(0, 5, nil); limiter != nil {
		t.Fatalf("expected nil limiter when rate is zero")
	}
}
