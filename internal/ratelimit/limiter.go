// Package ratelimit provides per-user request rate limiting with token
// buckets.
package ratelimit

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/meshdrive/meshdrive/internal/metrics"
	"github.com/meshdrive/meshdrive/internal/protocol"
)

// bucket tracks one user's remaining tokens.
type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// Limiter enforces per-user requests-per-minute limits.
type Limiter struct {
	mu      sync.Mutex
	buckets map[int]*bucket
}

// NewLimiter creates a rate limiter.
func NewLimiter() *Limiter {
	return &Limiter{buckets: make(map[int]*bucket)}
}

// Allow reports whether the user may make a request under the given
// requests-per-minute limit. rpm <= 0 means unlimited.
func (l *Limiter) Allow(userID, rpm int) bool {
	if rpm <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.refill(userID, rpm)
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// RetryAfter returns the number of seconds until the user's next request
// would be allowed.
func (l *Limiter) RetryAfter(userID, rpm int) int {
	if rpm <= 0 {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.refill(userID, rpm)
	if b.tokens >= 1 {
		return 0
	}
	perSecond := float64(rpm) / 60.0
	return int(math.Ceil((1 - b.tokens) / perSecond))
}

// refill must be called with the lock held.
func (l *Limiter) refill(userID, rpm int) *bucket {
	now := time.Now()
	b, ok := l.buckets[userID]
	if !ok {
		b = &bucket{tokens: float64(rpm), lastRefill: now}
		l.buckets[userID] = b
		return b
	}

	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * float64(rpm) / 60.0
	if b.tokens > float64(rpm) {
		b.tokens = float64(rpm)
	}
	b.lastRefill = now
	return b
}

// Cleanup drops buckets idle longer than maxIdle.
func (l *Limiter) Cleanup(maxIdle time.Duration) {
	cutoff := time.Now().Add(-maxIdle)
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, b := range l.buckets {
		if b.lastRefill.Before(cutoff) {
			delete(l.buckets, id)
		}
	}
}

// UserIDFromContext extracts the user ID from the request context. It
// decouples this package from the auth package.
type UserIDFromContext func(ctx context.Context) (userID int, ok bool)

// Middleware returns middleware that enforces the given requests-per-minute
// limit for authenticated users. Requests without a user context pass
// through.
func Middleware(limiter *Limiter, rpm int, getUserID UserIDFromContext) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := getUserID(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			if !limiter.Allow(userID, rpm) {
				metrics.RecordRateLimitHit()
				w.Header().Set("Retry-After", strconv.Itoa(limiter.RetryAfter(userID, rpm)))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(protocol.ErrorResponse{
					Error: "rate limit exceeded",
					Code:  http.StatusTooManyRequests,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
