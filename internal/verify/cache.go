package verify

import (
	"sync"
	"time"

	"github.com/jmerrifield20/examcert/internal/certificate"
)

type cacheEntry struct {
	locator   string
	display   certificate.Display
	expiresAt time.Time
}

func (e *cacheEntry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// resultCache holds verified results keyed by anchor hash. Anchored records
// never change, so only the TTL bounds an entry's life.
type resultCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

func newResultCache(ttl time.Duration) *resultCache {
	return &resultCache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *resultCache) get(hash string) (*cacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[hash]
	if !ok || e.expired(c.now()) {
		return nil, false
	}
	return e, true
}

func (c *resultCache) set(hash, locator string, d *certificate.Display) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[hash] = &cacheEntry{
		locator:   locator,
		display:   *d,
		expiresAt: c.now().Add(c.ttl),
	}
}

func (c *resultCache) invalidate(hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, hash)
}

// evict removes expired entries and returns how many were dropped.
func (c *resultCache) evict() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

func (c *resultCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
