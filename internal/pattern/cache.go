package pattern

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mamori-ai/mamori/internal/model"
)

// Cache is a short-TTL read-mostly cache in front of a Source, keyed by
// category. Concurrent misses for the same category are collapsed into a
// single Load call. Entries are never partially visible: a category's
// pattern slice is replaced atomically under the write lock.
type Cache struct {
	source Source
	ttl    time.Duration

	mu      sync.RWMutex
	entries map[model.Category]cachedEntry

	group singleflight.Group
	done  chan struct{}

	closeOnce sync.Once
}

type cachedEntry struct {
	patterns  []Pattern
	expiresAt time.Time
}

// NewCache creates a pattern cache over source with the given TTL.
// Call Close to stop the background eviction goroutine.
func NewCache(source Source, ttl time.Duration) *Cache {
	c := &Cache{
		source:  source,
		ttl:     ttl,
		entries: make(map[model.Category]cachedEntry),
		done:    make(chan struct{}),
	}
	go c.evictLoop()
	return c
}

// Get returns the patterns for a category, populating the cache on miss.
func (c *Cache) Get(category model.Category) ([]Pattern, error) {
	c.mu.RLock()
	entry, ok := c.entries[category]
	c.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.patterns, nil
	}

	v, err, _ := c.group.Do(string(category), func() (any, error) {
		// Re-check under the flight: another caller may have filled it.
		c.mu.RLock()
		entry, ok := c.entries[category]
		c.mu.RUnlock()
		if ok && time.Now().Before(entry.expiresAt) {
			return entry.patterns, nil
		}

		patterns, err := c.source.Load(category)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.entries[category] = cachedEntry{
			patterns:  patterns,
			expiresAt: time.Now().Add(c.ttl),
		}
		c.mu.Unlock()
		return patterns, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Pattern), nil
}

// Invalidate drops a category's entry, forcing a reload on next Get.
func (c *Cache) Invalidate(category model.Category) {
	c.mu.Lock()
	delete(c.entries, category)
	c.mu.Unlock()
}

// Close stops the background eviction goroutine. Safe to call multiple times.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// evictLoop removes expired entries every minute.
func (c *Cache) evictLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

func (c *Cache) evictExpired() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for category, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, category)
		}
	}
}
