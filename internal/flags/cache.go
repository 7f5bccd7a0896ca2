package flags

import (
	"sync"
	"time"

	"content-agent/internal/models"
)

type entry struct {
	flag    models.FeatureFlag
	found   bool
	expires time.Time
}

// Cache is a per-key TTL cache of flag rows. It is local to one process; other processes see
// changes only after their own entries expire.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]entry
}

// NewCache builds a cache; a nil clock defaults to time.Now.
func NewCache(ttl time.Duration, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{ttl: ttl, now: now, entries: map[string]entry{}}
}

// Get returns the cached flag and whether the row existed. ok is false on a miss or expiry.
func (c *Cache) Get(key string) (flag models.FeatureFlag, found, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, hit := c.entries[key]
	if !hit {
		return models.FeatureFlag{}, false, false
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, key)
		return models.FeatureFlag{}, false, false
	}
	return e.flag, e.found, true
}

// Put stores a lookup result, including a negative one.
func (c *Cache) Put(key string, flag models.FeatureFlag, found bool) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = entry{flag: flag, found: found, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Invalidate drops one key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidateAll drops every key.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.entries = map[string]entry{}
	c.mu.Unlock()
}
