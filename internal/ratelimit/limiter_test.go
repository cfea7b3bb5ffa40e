package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterAllow(t *testing.T) {
	l := NewLimiter()

	// 10 requests per minute
	rpm := 10
	userID := 1

	// Should allow up to 10 requests
	for i := 0; i < 10; i++ {
		if !l.Allow(userID, rpm) {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	// 11th should be denied
	if l.Allow(userID, rpm) {
		t.Error("11th request should be denied")
	}
}

func TestLimiterUnlimited(t *testing.T) {
	l := NewLimiter()

	// rpm=0 means unlimited
	for i := 0; i < 1000; i++ {
		if !l.Allow(1, 0) {
			t.Fatalf("request %d should be allowed (unlimited)", i+1)
		}
	}
}

func TestLimiterRefill(t *testing.T) {
	l := NewLimiter()
	userID := 1
	rpm := 60 // 1 token per second

	// Exhaust all tokens
	for i := 0; i < 60; i++ {
		l.Allow(userID, rpm)
	}

	if l.Allow(userID, rpm) {
		t.Error("should be rate limited after exhausting tokens")
	}

	// Wait for refill
	time.Sleep(1100 * time.Millisecond)

	if !l.Allow(userID, rpm) {
		t.Error("should be allowed after refill")
	}
}

func TestLimiterRetryAfter(t *testing.T) {
	l := NewLimiter()
	userID := 1
	rpm := 60

	// Exhaust tokens
	for i := 0; i < 60; i++ {
		l.Allow(userID, rpm)
	}

	retryAfter := l.RetryAfter(userID, rpm)
	if retryAfter < 1 {
		t.Errorf("expected retry-after >= 1, got %d", retryAfter)
	}
}

func TestLimiterMultipleUsers(t *testing.T) {
	l := NewLimiter()

	// User 1: 5 rpm
	for i := 0; i < 5; i++ {
		if !l.Allow(1, 5) {
			t.Fatalf("user 1 request %d should be allowed", i+1)
		}
	}
	if l.Allow(1, 5) {
		t.Error("user 1 should be rate limited")
	}

	// User 2 should still have tokens
	if !l.Allow(2, 5) {
		t.Error("user 2 should not be affected by user 1's rate limit")
	}
}

func TestLimiterCleanup(t *testing.T) {
	l := NewLimiter()

	l.Allow(1, 10)
	l.Allow(2, 10)

	if len(l.buckets) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(l.buckets))
	}

	// Set bucket 1's lastRefill to the past
	l.mu.Lock()
	l.buckets[1].lastRefill = time.Now().Add(-2 * time.Hour)
	l.mu.Unlock()

	l.Cleanup(1 * time.Hour)

	l.mu.Lock()
	count := len(l.buckets)
	l.mu.Unlock()

	if count != 1 {
		t.Errorf("expected 1 bucket after cleanup, got %d", count)
	}
}
