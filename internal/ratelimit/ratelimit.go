// Package ratelimit paces outbound traffic. Scrape navigation and direct
// gateway calls are throttled separately: pages get a randomized gap
// between targets, API calls get a token bucket.
package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

type RateLimiter interface {
	Wait(ctx context.Context) error
	SetDelay(min, max time.Duration)
}

// SimpleRateLimiter enforces a randomized minimum gap between actions.
// The jitter keeps the request cadence from looking machine-regular.
type SimpleRateLimiter struct {
	mu       sync.Mutex
	minDelay time.Duration
	maxDelay time.Duration
	last     time.Time
}

func NewSimpleRateLimiter(minDelay, maxDelay time.Duration) *SimpleRateLimiter {
	return &SimpleRateLimiter{
		minDelay: minDelay,
		maxDelay: maxDelay,
	}
}

func (r *SimpleRateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	gap := r.nextGap()
	if elapsed := time.Since(r.last); elapsed < gap {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(gap - elapsed):
		}
	}

	r.last = time.Now()
	return nil
}

func (r *SimpleRateLimiter) SetDelay(min, max time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.minDelay = min
	r.maxDelay = max
}

func (r *SimpleRateLimiter) nextGap() time.Duration {
	spread := r.maxDelay - r.minDelay
	if spread <= 0 {
		return r.minDelay
	}
	return r.minDelay + time.Duration(rand.Int63n(int64(spread)))
}

// AdaptiveRateLimiter widens the gap when targets start failing and
// narrows it back after a run of clean passes. Challenge pages and
// blocks show up as errors, so sustained failure reads as detection and
// slows the whole run down.
type AdaptiveRateLimiter struct {
	*SimpleRateLimiter
	errorStreak   int
	successStreak int
}

const (
	backoffAfter   = 3
	speedupAfter   = 5
	backoffFactor  = 1.5
	minDelayFloor  = 1 * time.Second
	minDelayCeil   = 60 * time.Second
	maxDelayCeil   = 120 * time.Second
)

func NewAdaptiveRateLimiter(minDelay, maxDelay time.Duration) *AdaptiveRateLimiter {
	return &AdaptiveRateLimiter{
		SimpleRateLimiter: NewSimpleRateLimiter(minDelay, maxDelay),
	}
}

func (a *AdaptiveRateLimiter) RecordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.successStreak++
	a.errorStreak = 0

	if a.successStreak > speedupAfter {
		a.successStreak = 0
		next := time.Duration(float64(a.minDelay) * 0.9)
		if next < minDelayFloor {
			next = minDelayFloor
		}
		a.minDelay = next
	}
}

func (a *AdaptiveRateLimiter) RecordError() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.errorStreak++
	a.successStreak = 0

	if a.errorStreak < backoffAfter {
		return
	}
	a.errorStreak = 0

	a.minDelay = time.Duration(float64(a.minDelay) * backoffFactor)
	a.maxDelay = time.Duration(float64(a.maxDelay) * backoffFactor)
	if a.minDelay > minDelayCeil {
		a.minDelay = minDelayCeil
	}
	if a.maxDelay > maxDelayCeil {
		a.maxDelay = maxDelayCeil
	}
}

// TokenBucketRateLimiter allows short bursts up to the bucket size, then
// throttles to the refill rate. Used for direct gateway calls, which are
// cheap enough to burst but still need a sustained cap.
type TokenBucketRateLimiter struct {
	mu         sync.Mutex
	tokens     int
	maxTokens  int
	refillRate time.Duration
	lastRefill time.Time
}

func NewTokenBucketRateLimiter(maxTokens int, refillRate time.Duration) *TokenBucketRateLimiter {
	return &TokenBucketRateLimiter{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

func (t *TokenBucketRateLimiter) Wait(ctx context.Context) error {
	for {
		t.mu.Lock()
		t.refill()
		if t.tokens > 0 {
			t.tokens--
			t.mu.Unlock()
			return nil
		}
		wait := t.refillRate
		t.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// SetDelay reinterprets min as the refill rate; max is ignored.
func (t *TokenBucketRateLimiter) SetDelay(min, max time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refillRate = min
}

func (t *TokenBucketRateLimiter) refill() {
	elapsed := time.Since(t.lastRefill)
	add := int(elapsed / t.refillRate)
	if add <= 0 {
		return
	}
	t.tokens += add
	if t.tokens > t.maxTokens {
		t.tokens = t.maxTokens
	}
	t.lastRefill = time.Now()
}
