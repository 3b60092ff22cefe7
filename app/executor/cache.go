package executor

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// cacheKey hashes the analysis content together with its caller context
// so the same article analyzed under a different context misses.
func cacheKey(content, context string) string {
	h := sha256.New()
	h.Write([]byte(content))
	h.Write([]byte{0})
	h.Write([]byte(context))
	return hex.EncodeToString(h.Sum(nil))
}

type cacheEntry struct {
	result  *Result
	addedAt time.Time
}

// responseCache is a bounded TTL cache over analysis results. Once full,
// the oldest entry is evicted to make room.
type responseCache struct {
	mu       sync.Mutex
	entries  map[string]cacheEntry
	order    []string
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

func newResponseCache(capacity int, ttl time.Duration) *responseCache {
	return &responseCache{
		entries:  make(map[string]cacheEntry, capacity),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (c *responseCache) get(key string) (*Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.addedAt) > c.ttl {
		delete(c.entries, key)
		c.dropKey(key)
		return nil, false
	}
	return entry.result, true
}

// dropKey removes a key from the eviction order. order must track exactly
// the live keys, otherwise eviction pops stale slots and throws out newer
// entries to compensate. Caller holds the lock.
func (c *responseCache) dropKey(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

func (c *responseCache) put(key string, result *Result) {
	if c.capacity <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		for len(c.entries) >= c.capacity && len(c.order) > 0 {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = cacheEntry{result: result, addedAt: c.now()}
}

func (c *responseCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
