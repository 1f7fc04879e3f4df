// Package cooldown provides a bounded, concurrency-safe map from key to
// last-seen time with TTL expiry and a background eviction sweep.
package cooldown

import (
	"context"
	"sync"
	"time"
)

// Cache remembers when each key was last marked. Entries older than the TTL
// are treated as absent and removed by Sweep. When the cache is full the
// oldest entry is evicted to make room.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]time.Time
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// New creates a cache. maxEntries <= 0 means unbounded.
func New(ttl time.Duration, maxEntries int) *Cache {
	return &Cache{
		entries:    make(map[string]time.Time),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Seen reports whether key was marked within the TTL.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.liveLocked(key, c.now())
	return ok
}

// LastSeen returns when key was last marked, if within the TTL.
func (c *Cache) LastSeen(key string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(key, c.now())
}

// Mark records key as seen now.
func (c *Cache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(key, c.now())
}

// TryAcquire marks key and returns true unless it was already marked within
// the TTL, in which case it returns false and leaves the entry unchanged.
func (c *Cache) TryAcquire(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if _, ok := c.liveLocked(key, now); ok {
		return false
	}
	c.markLocked(key, now)
	return true
}

// Forget removes key.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of stored entries, expired ones included until the
// next sweep.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep removes expired entries and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked(c.now())
}

// Run sweeps every interval until ctx is done.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
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

func (c *Cache) liveLocked(key string, now time.Time) (time.Time, bool) {
	at, ok := c.entries[key]
	if !ok {
		return time.Time{}, false
	}
	if c.ttl > 0 && now.Sub(at) >= c.ttl {
		delete(c.entries, key)
		return time.Time{}, false
	}
	return at, true
}

func (c *Cache) markLocked(key string, now time.Time) {
	if _, exists := c.entries[key]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		if c.sweepLocked(now) == 0 {
			c.evictOldestLocked()
		}
	}
	c.entries[key] = now
}

func (c *Cache) sweepLocked(now time.Time) int {
	if c.ttl <= 0 {
		return 0
	}
	removed := 0
	for k, at := range c.entries {
		if now.Sub(at) >= c.ttl {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

func (c *Cache) evictOldestLocked() {
	var (
		oldestKey string
		oldestAt  time.Time
		found     bool
	)
	for k, at := range c.entries {
		if !found || at.Before(oldestAt) {
			oldestKey, oldestAt, found = k, at, true
		}
	}
	if found {
		delete(c.entries, oldestKey)
	}
}
