// Package ratelimit throttles outbound traffic: page advances against
// the content sources and requests to the classification backend.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter gates requests under a rate limit.
type Limiter interface {
	// Allow reports whether a request may proceed now.
	Allow() bool
	// Wait blocks until a request may proceed.
	Wait()
	// Reset restores the limiter to its initial state.
	Reset()
}

// TokenBucket is a token bucket limiter refilled on a fixed period.
type TokenBucket struct {
	capacity     int
	tokens       int
	refillPeriod time.Duration
	lastRefill   time.Time
	mu           sync.Mutex
}

// NewTokenBucket creates a bucket of the given capacity refilled every
// refillPeriod.
func NewTokenBucket(capacity int, refillPeriod time.Duration) *TokenBucket {
	return &TokenBucket{
		capacity:     capacity,
		tokens:       capacity,
		refillPeriod: refillPeriod,
		lastRefill:   time.Now(),
	}
}

// PerMinute creates a bucket allowing n requests per minute.
func PerMinute(n int) *TokenBucket {
	return NewTokenBucket(n, time.Minute)
}

func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

func (tb *TokenBucket) Wait() {
	for !tb.Allow() {
		tb.mu.Lock()
		remaining := tb.refillPeriod - time.Since(tb.lastRefill)
		tb.mu.Unlock()

		if remaining > 0 {
			time.Sleep(remaining)
		} else {
			time.Sleep(100 * time.Millisecond)
		}
	}
}

func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.tokens = tb.capacity
	tb.lastRefill = time.Now()
}

// refill restores the bucket when a full period has elapsed. Caller must
// hold the lock.
func (tb *TokenBucket) refill() {
	if time.Since(tb.lastRefill) >= tb.refillPeriod {
		tb.tokens = tb.capacity
		tb.lastRefill = time.Now()
	}
}

// Unlimited is a Limiter that never blocks. Used when throttling is
// disabled and by tests.
type Unlimited struct{}

func (Unlimited) Allow() bool { return true }
func (Unlimited) Wait()       {}
func (Unlimited) Reset()      {}
