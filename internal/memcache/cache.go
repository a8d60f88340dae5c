// Package memcache is a TTL- and capacity-bounded cache of assembled
// per-user context blobs. State is process-local and rebuildable from the
// durable stores.
package memcache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Key builds a cache key from a user id and a version token. An empty
// token means "latest".
func Key(userID, versionToken string) string {
	if versionToken == "" {
		versionToken = "latest"
	}
	return userID + ":" + versionToken
}

type entry struct {
	payload     string
	lastUpdated time.Time
}

// Cache bounds entries by TTL and capacity. Eviction at capacity removes
// the single entry with the oldest lastUpdated; a periodic sweep clears
// expired entries independently of request traffic.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]entry
	ttl      time.Duration
	capacity int
	log      zerolog.Logger

	// now is swappable for tests.
	now func() time.Time
}

func New(ttl time.Duration, capacity int, log zerolog.Logger) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{
		entries:  make(map[string]entry),
		ttl:      ttl,
		capacity: capacity,
		log:      log,
		now:      time.Now,
	}
}

// Get returns the payload when present and fresh; an expired entry is
// evicted on the spot and reported as a miss.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.now().Sub(e.lastUpdated) > c.ttl {
		delete(c.entries, key)
		return "", false
	}
	return e.payload, true
}

// Set inserts or refreshes an entry, evicting the least-recently-updated
// entry first when at capacity.
func (c *Cache) Set(key, payload string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.evictOldestLocked()
	}
	c.entries[key] = entry{payload: payload, lastUpdated: c.now()}
}

// Invalidate removes every entry belonging to the user, so cached context
// never serves stale personalization after a profile edit.
func (c *Cache) Invalidate(userID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := userID + ":"
	removed := 0
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len reports the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// StartSweeper runs the background eviction sweep until ctx is canceled.
func (c *Cache) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.log.Debug().Int("evicted", n).Msg("cache sweep")
			}
		}
	}
}

// Sweep evicts every expired entry and returns the eviction count.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	evicted := 0
	for k, e := range c.entries {
		if now.Sub(e.lastUpdated) > c.ttl {
			delete(c.entries, k)
			evicted++
		}
	}
	return evicted
}

func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	first := true
	for k, e := range c.entries {
		if first || e.lastUpdated.Before(oldest) {
			oldestKey, oldest = k, e.lastUpdated
			first = false
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
