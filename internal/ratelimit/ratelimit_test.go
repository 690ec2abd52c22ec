package ratelimit

import (
	"context"
	"testing"
	"time"
)

func closeBucket(t *testing.T, tb *TokenBucket) {
	t.Helper()
	if err := tb.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestTokenBucketAllowsBurst(t *testing.T) {
	tb := NewTokenBucket(1, 5)
	defer closeBucket(t, tb)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		ok, err := tb.Allow(ctx, "10.0.0.1")
		if err != nil {
			t.Fatalf("Allow %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("request %d denied inside burst", i)
		}
	}
}

func TestTokenBucketDeniesAfterBurst(t *testing.T) {
	tb := NewTokenBucket(0.001, 3) // effectively no refill during the test
	defer closeBucket(t, tb)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if ok, _ := tb.Allow(ctx, "10.0.0.1"); !ok {
			t.Fatalf("request %d denied inside burst", i)
		}
	}
	if ok, _ := tb.Allow(ctx, "10.0.0.1"); ok {
		t.Fatal("request allowed after burst exhausted")
	}
}

func TestTokenBucketKeysAreIndependent(t *testing.T) {
	tb := NewTokenBucket(0.001, 1)
	defer closeBucket(t, tb)

	ctx := context.Background()
	if ok, _ := tb.Allow(ctx, "10.0.0.1"); !ok {
		t.Fatal("first key denied")
	}
	if ok, _ := tb.Allow(ctx, "10.0.0.1"); ok {
		t.Fatal("first key not exhausted")
	}
	if ok, _ := tb.Allow(ctx, "10.0.0.2"); !ok {
		t.Fatal("second key affected by first key's bucket")
	}
}

func TestTokenBucketRefills(t *testing.T) {
	// 1000 tokens per second: a few milliseconds refills an exhausted bucket.
	tb := NewTokenBucket(1000, 2)
	defer closeBucket(t, tb)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, _ = tb.Allow(ctx, "k")
	}
	if ok, _ := tb.Allow(ctx, "k"); ok {
		t.Fatal("allowed immediately after exhausting burst")
	}

	time.Sleep(5 * time.Millisecond)

	if ok, err := tb.Allow(ctx, "k"); err != nil || !ok {
		t.Fatalf("not allowed after refill window: ok=%v err=%v", ok, err)
	}
}

func TestTokenBucketEvictStale(t *testing.T) {
	tb := NewTokenBucket(1, 5)
	defer closeBucket(t, tb)

	_, _ = tb.Allow(context.Background(), "old")
	tb.mu.Lock()
	tb.buckets["old"].lastAccess = time.Now().Add(-staleThreshold - time.Minute)
	tb.mu.Unlock()

	tb.evictStale()

	tb.mu.Lock()
	_, exists := tb.buckets["old"]
	tb.mu.Unlock()
	if exists {
		t.Fatal("stale bucket survived eviction")
	}
}

func TestNoopAlwaysAllows(t *testing.T) {
	var n Noop
	for i := 0; i < 100; i++ {
		ok, err := n.Allow(context.Background(), "any")
		if err != nil || !ok {
			t.Fatalf("Noop denied: ok=%v err=%v", ok, err)
		}
	}
	if err := n.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
