package noise

import (
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// SuppressionEntry counts occurrences of one transient error shape while its
// suppression window is open.
type SuppressionEntry struct {
	count int64
}

// Increment bumps the suppressed-occurrence counter and returns the new total.
func (e *SuppressionEntry) Increment() int64 {
	return atomic.AddInt64(&e.count, 1)
}

// Count returns the number of occurrences seen since the window opened.
func (e *SuppressionEntry) Count() int64 {
	return atomic.LoadInt64(&e.count)
}

// SuppressionCache is the store for active transient-error suppressions.
// It is injectable so multi-process deployments can swap the in-memory
// implementation for a shared one without touching filter logic.
type SuppressionCache interface {
	Get(key string) (*SuppressionEntry, bool)
	Set(key string, entry *SuppressionEntry, ttl time.Duration)
	Prune()
	Len() int
}

// pruneThreshold bounds the in-memory map: once the cache grows past it,
// expired entries are swept opportunistically on the next write.
const pruneThreshold = 500

type memorySuppressionCache struct {
	cache *gocache.Cache
}

// NewSuppressionCache returns the default in-memory, per-process cache.
// Entries expire by wall clock; go-cache's janitor sweeps them in the
// background and Prune forces a sweep on demand.
func NewSuppressionCache() SuppressionCache {
	return &memorySuppressionCache{
		cache: gocache.New(gocache.NoExpiration, 10*time.Minute),
	}
}

func (c *memorySuppressionCache) Get(key string) (*SuppressionEntry, bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	entry, ok := v.(*SuppressionEntry)
	return entry, ok
}

func (c *memorySuppressionCache) Set(key string, entry *SuppressionEntry, ttl time.Duration) {
	if c.cache.ItemCount() > pruneThreshold {
		c.cache.DeleteExpired()
	}
	c.cache.Set(key, entry, ttl)
}

func (c *memorySuppressionCache) Prune() {
	c.cache.DeleteExpired()
}

func (c *memorySuppressionCache) Len() int {
	return c.cache.ItemCount()
}
