package cache

import (
	"context"
	"sync"
	"time"
)

type Item[V any] struct {
	Value    V
	StoredAt time.Time
}

// MemoryCache is a TTL map. Entries older than the ttl are treated as absent
// on read and removed by Sweep.
type MemoryCache[V any] struct {
	items map[string]Item[V]
	ttl   time.Duration
	now   func() time.Time
	mu    sync.RWMutex
}

func NewMemoryCache[V any](ttl time.Duration) *MemoryCache[V] {
	return &MemoryCache[V]{
		items: make(map[string]Item[V]),
		ttl:   ttl,
		now:   time.Now,
	}
}

// WithClock replaces the time source (tests).
func (c *MemoryCache[V]) WithClock(now func() time.Time) *MemoryCache[V] {
	if now != nil {
		c.now = now
	}
	return c
}

// Set stores value under key, replacing any previous entry wholesale.
func (c *MemoryCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = Item[V]{Value: value, StoredAt: c.now()}
}

func (c *MemoryCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, found := c.items[key]
	if !found || c.expired(item) {
		var zero V
		return zero, false
	}
	return item.Value, true
}

func (c *MemoryCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Sweep removes expired entries and returns how many were dropped.
func (c *MemoryCache[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, item := range c.items {
		if c.expired(item) {
			delete(c.items, k)
			removed++
		}
	}
	return removed
}

// Len counts stored entries, expired or not.
func (c *MemoryCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// RunJanitor sweeps every interval until ctx is done.
func (c *MemoryCache[V]) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

func (c *MemoryCache[V]) expired(item Item[V]) bool {
	return c.now().Sub(item.StoredAt) >= c.ttl
}
