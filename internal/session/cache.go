package session

import (
	"sync"
	"time"

	mon "keyrelay-go/internal/monitoring"
	"keyrelay-go/internal/token"
)

// Cache is the side cache in front of the token store's digest scan. Keys are
// plaintext tokens, values are record snapshots; a hit lets the guard skip the
// full bcrypt comparison pass. Entries only ever shortcut the lookup; every
// authorization decision is still made against the persisted record.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration

	now func() time.Time
}

type cacheEntry struct {
	record   token.Record
	storedAt time.Time
}

// NewCache builds a side cache with the given entry TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Peek returns the cached record snapshot for a plaintext token. Expired
// entries are evicted on sight and reported as a miss.
func (c *Cache) Peek(plaintext string) (token.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[plaintext]
	if !ok {
		mon.TokenCacheHitsTotal.WithLabelValues("miss").Inc()
		return token.Record{}, false
	}
	if c.now().Sub(entry.storedAt) > c.ttl {
		delete(c.entries, plaintext)
		mon.TokenCacheSize.Set(float64(len(c.entries)))
		mon.TokenCacheHitsTotal.WithLabelValues("stale").Inc()
		return token.Record{}, false
	}
	mon.TokenCacheHitsTotal.WithLabelValues("hit").Inc()
	return entry.record, true
}

// Put stores a record snapshot under its plaintext key.
func (c *Cache) Put(plaintext string, rec token.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[plaintext] = cacheEntry{record: rec, storedAt: c.now()}
	mon.TokenCacheSize.Set(float64(len(c.entries)))
}

// Invalidate drops a single entry, e.g. after its record was deleted.
func (c *Cache) Invalidate(plaintext string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, plaintext)
	mon.TokenCacheSize.Set(float64(len(c.entries)))
}

// Flush empties the cache and returns the number of dropped entries. Wired to
// the management API so operators can force re-validation after edits.
func (c *Cache) Flush() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]cacheEntry)
	mon.TokenCacheSize.Set(0)
	return n
}

// Len reports the current number of entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep evicts all expired entries. Run it periodically; lookups already
// evict lazily so this only bounds memory between lookups.
func (c *Cache) Sweep() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.entries {
		if now.Sub(entry.storedAt) > c.ttl {
			delete(c.entries, key)
		}
	}
	mon.TokenCacheSize.Set(float64(len(c.entries)))
}

// StartSweeper runs Sweep every interval until stop is closed.
func (c *Cache) StartSweeper(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Sweep()
			case <-stop:
				return
			}
		}
	}()
}
