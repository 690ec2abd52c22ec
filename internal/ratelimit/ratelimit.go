// Package ratelimit provides the in-memory token bucket guarding the
// operator token endpoint against credential stuffing. Keys are client IPs;
// the capture hot path is never rate limited here (the analysis gate bounds
// it instead).
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter decides whether a request identified by key should be allowed.
// Implementations must be safe for concurrent use. Errors mean a limiter
// malfunction; callers treat them as fail-open rather than blocking traffic.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Close() error
}

// Noop permits every request. Used when rate limiting is disabled.
type Noop struct{}

func (Noop) Allow(context.Context, string) (bool, error) { return true, nil }
func (Noop) Close() error                                { return nil }

// bucket is a single token bucket for one key.
type bucket struct {
	tokens     float64
	lastAccess time.Time
}

// TokenBucket implements Limiter with an independent in-memory bucket per
// key. A background goroutine evicts entries not touched for ten minutes.
type TokenBucket struct {
	rate  float64 // tokens added per second
	burst float64 // bucket capacity

	mu      sync.Mutex
	buckets map[string]*bucket

	stopOnce sync.Once
	done     chan struct{}
}

// NewTokenBucket creates a limiter sustaining rate requests per second per
// key with the given burst capacity. Call Close to stop the eviction loop.
func NewTokenBucket(rate float64, burst int) *TokenBucket {
	tb := &TokenBucket{
		rate:    rate,
		burst:   float64(burst),
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
	go tb.evictLoop()
	return tb
}

// Allow consumes one token from the bucket for key.
func (tb *TokenBucket) Allow(_ context.Context, key string) (bool, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	b, ok := tb.buckets[key]
	if !ok {
		tb.buckets[key] = &bucket{tokens: tb.burst - 1, lastAccess: now}
		return true, nil
	}

	b.tokens += now.Sub(b.lastAccess).Seconds() * tb.rate
	if b.tokens > tb.burst {
		b.tokens = tb.burst
	}
	b.lastAccess = now

	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// Close stops the eviction goroutine. Safe to call multiple times.
func (tb *TokenBucket) Close() error {
	tb.stopOnce.Do(func() { close(tb.done) })
	return nil
}

const staleThreshold = 10 * time.Minute

func (tb *TokenBucket) evictLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-tb.done:
			return
		case <-ticker.C:
			tb.evictStale()
		}
	}
}

func (tb *TokenBucket) evictStale() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	cutoff := time.Now().Add(-staleThreshold)
	for key, b := range tb.buckets {
		if b.lastAccess.Before(cutoff) {
			delete(tb.buckets, key)
		}
	}
}
