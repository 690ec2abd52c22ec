package pattern

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mamori-ai/mamori/internal/model"
)

// countingSource counts Load calls so cache hit behaviour is observable.
type countingSource struct {
	loads atomic.Int64
	err   error
}

func (s *countingSource) Load(category model.Category) ([]Pattern, error) {
	s.loads.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	p, err := compile("stub", category, model.SeverityLow, 0.5, "stub", "")
	if err != nil {
		return nil, err
	}
	return []Pattern{p}, nil
}

func TestCacheServesFromCache(t *testing.T) {
	source := &countingSource{}
	cache := NewCache(source, time.Minute)
	defer cache.Close()

	for i := 0; i < 5; i++ {
		patterns, err := cache.Get(model.CategoryPromptInjection)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if len(patterns) != 1 {
			t.Fatalf("got %d patterns", len(patterns))
		}
	}
	if got := source.loads.Load(); got != 1 {
		t.Fatalf("source loaded %d times, want 1", got)
	}

	// A different category is its own entry.
	if _, err := cache.Get(model.CategoryModelDoS); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := source.loads.Load(); got != 2 {
		t.Fatalf("source loaded %d times after second category, want 2", got)
	}
}

func TestCacheExpiresAfterTTL(t *testing.T) {
	source := &countingSource{}
	cache := NewCache(source, 10*time.Millisecond)
	defer cache.Close()

	if _, err := cache.Get(model.CategoryPromptInjection); err != nil {
		t.Fatalf("Get: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if _, err := cache.Get(model.CategoryPromptInjection); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := source.loads.Load(); got != 2 {
		t.Fatalf("source loaded %d times, want 2 (reload after TTL)", got)
	}
}

func TestCacheInvalidate(t *testing.T) {
	source := &countingSource{}
	cache := NewCache(source, time.Minute)
	defer cache.Close()

	if _, err := cache.Get(model.CategoryPromptInjection); err != nil {
		t.Fatalf("Get: %v", err)
	}
	cache.Invalidate(model.CategoryPromptInjection)
	if _, err := cache.Get(model.CategoryPromptInjection); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := source.loads.Load(); got != 2 {
		t.Fatalf("source loaded %d times, want 2 after invalidation", got)
	}
}

func TestCachePropagatesSourceError(t *testing.T) {
	source := &countingSource{err: errors.New("source down")}
	cache := NewCache(source, time.Minute)
	defer cache.Close()

	if _, err := cache.Get(model.CategoryPromptInjection); err == nil {
		t.Fatal("source error swallowed")
	}
}

func TestCacheConcurrentMissesCollapsed(t *testing.T) {
	source := &countingSource{}
	cache := NewCache(source, time.Minute)
	defer cache.Close()

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := cache.Get(model.CategoryPromptInjection); err != nil {
				t.Errorf("Get: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	// Singleflight collapses concurrent misses; a couple of loads can slip
	// through on scheduling boundaries, but nothing near one per caller.
	if got := source.loads.Load(); got > 3 {
		t.Fatalf("source loaded %d times for 20 concurrent gets", got)
	}
}
