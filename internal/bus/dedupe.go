package bus

import (
	"sort"
	"sync"
	"time"
)

// DedupeCache is a TTL-bounded insert-if-absent cache used to drop duplicate
// inbound deliveries (webhook retries, double-taps, multi-path delivery).
// Safe for concurrent use.
type DedupeCache struct {
	mu      sync.Mutex
	entries map[string]time.Time // key → last seen
	ttl     time.Duration
	maxSize int
}

// NewDedupeCache creates a dedupe cache. Entries older than ttl are evicted
// lazily; maxSize bounds memory by dropping the oldest entries.
func NewDedupeCache(ttl time.Duration, maxSize int) *DedupeCache {
	return &DedupeCache{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// IsDuplicate reports whether key was seen within the TTL, recording it
// either way. The first caller for a key gets false; repeats get true.
func (c *DedupeCache) IsDuplicate(key string) bool {
	return c.IsDuplicateAt(key, time.Now())
}

// IsDuplicateAt is IsDuplicate with an explicit clock, for tests.
func (c *DedupeCache) IsDuplicateAt(key string, now time.Time) bool {
	if key == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	seen, found := c.entries[key]
	if found && (c.ttl <= 0 || now.Sub(seen) < c.ttl) {
		c.entries[key] = now // touch
		return true
	}

	c.entries[key] = now
	c.prune(now)
	return false
}

// prune removes expired entries, then enforces maxSize by evicting oldest.
func (c *DedupeCache) prune(now time.Time) {
	if c.ttl > 0 {
		for k, seen := range c.entries {
			if now.Sub(seen) >= c.ttl {
				delete(c.entries, k)
			}
		}
	}

	if c.maxSize <= 0 || len(c.entries) <= c.maxSize {
		return
	}

	type entry struct {
		key  string
		seen time.Time
	}
	all := make([]entry, 0, len(c.entries))
	for k, seen := range c.entries {
		all = append(all, entry{k, seen})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seen.Before(all[j].seen) })

	toRemove := len(all) - c.maxSize
	for i := 0; i < toRemove; i++ {
		delete(c.entries, all[i].key)
	}
}

// Size returns the current number of entries.
func (c *DedupeCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear removes all entries.
func (c *DedupeCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]time.Time)
}
