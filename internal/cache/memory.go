package cache

import (
	"context"
	"sync"
	"time"
)

const defaultMaxEntries = 1024

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryExactCache is an in-process ExactCache bounded by entry count.
// When full, expired entries are purged first and then the entry closest
// to expiry is evicted.
type MemoryExactCache struct {
	mu              sync.RWMutex
	items           map[string]memoryEntry
	maxEntries      int
	stopCleanup     chan struct{}
	cleanupOnce     sync.Once
	cleanupInterval time.Duration
}

// NewMemoryExactCache starts a cache whose janitor runs every
// cleanupInterval (5m when <= 0). maxEntries <= 0 selects a default bound.
func NewMemoryExactCache(cleanupInterval time.Duration, maxEntries int) *MemoryExactCache {
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}

	c := &MemoryExactCache{
		items:           make(map[string]memoryEntry),
		maxEntries:      maxEntries,
		stopCleanup:     make(chan struct{}),
		cleanupInterval: cleanupInterval,
	}

	go c.cleanupExpired()

	return c
}

func (c *MemoryExactCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	entry, ok := c.items[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}

	now := time.Now()
	if now.After(entry.expiresAt) {
		c.mu.Lock()
		if e, exists := c.items[key]; exists && now.After(e.expiresAt) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return nil, false, nil
	}

	return entry.value, true, nil
}

// Set stores value for ttl. A non-positive ttl removes the key.
func (c *MemoryExactCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		return nil
	}

	// Copy to decouple from caller's buffer
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists && len(c.items) >= c.maxEntries {
		c.purgeLocked(now)
		if len(c.items) >= c.maxEntries {
			c.evictSoonestLocked()
		}
	}
	c.items[key] = memoryEntry{value: valueCopy, expiresAt: now.Add(ttl)}

	return nil
}

func (c *MemoryExactCache) purgeLocked(now time.Time) {
	for k, v := range c.items {
		if now.After(v.expiresAt) {
			delete(c.items, k)
		}
	}
}

func (c *MemoryExactCache) evictSoonestLocked() {
	var (
		victim  string
		first   = true
		soonest time.Time
	)
	for k, v := range c.items {
		if first || v.expiresAt.Before(soonest) {
			victim, soonest, first = k, v.expiresAt, false
		}
	}
	if !first {
		delete(c.items, victim)
	}
}

// cleanupExpired runs periodically to remove expired entries.
func (c *MemoryExactCache) cleanupExpired() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			c.purgeLocked(time.Now())
			c.mu.Unlock()
		case <-c.stopCleanup:
			return
		}
	}
}

// Close stops the cleanup goroutine. Call this on shutdown or in tests.
func (c *MemoryExactCache) Close() error {
	c.cleanupOnce.Do(func() {
		close(c.stopCleanup)
	})
	return nil
}

// Len returns the number of items currently in the cache.
func (c *MemoryExactCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
