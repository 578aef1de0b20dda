package tenant

import (
	"container/list"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/teresa-solution/tenant-context-service/internal/model"
)

const (
	// DefaultCacheTTL is how long a resolved host stays valid.
	DefaultCacheTTL = 5 * time.Minute

	// DefaultCacheSize is the default maximum number of cached hosts.
	DefaultCacheSize = 1000
)

// cacheEntry keeps the value and its timestamp in one record so the two can
// never be updated separately.
type cacheEntry struct {
	key      string
	value    model.TenantContext
	cachedAt time.Time
}

// DirectoryCache maps normalized hosts to resolved tenant contexts. Entries
// expire after the TTL and the oldest-added entry is evicted once the size
// bound is exceeded.
type DirectoryCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	maxSize int
	items   map[string]*list.Element
	order   *list.List // front is the oldest insertion
	now     func() time.Time
}

// NewDirectoryCache creates a cache; non-positive arguments select defaults.
func NewDirectoryCache(ttl time.Duration, maxSize int) *DirectoryCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultCacheSize
	}
	return &DirectoryCache{
		ttl:     ttl,
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// WithClock replaces the cache's time source.
func (c *DirectoryCache) WithClock(now func() time.Time) *DirectoryCache {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
	return c
}

// TTL returns the configured entry lifetime.
func (c *DirectoryCache) TTL() time.Duration {
	return c.ttl
}

// Get returns the entry for key. Missing and expired entries report false;
// expired entries are removed.
func (c *DirectoryCache) Get(key string) (model.TenantContext, bool) {
	c.mu.RLock()
	el, ok := c.items[key]
	if !ok {
		c.mu.RUnlock()
		return model.TenantContext{}, false
	}
	entry := el.Value.(*cacheEntry)
	if c.fresh(entry) {
		v := entry.value.Clone()
		c.mu.RUnlock()
		return v, true
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	// Recheck: a concurrent Put may have refreshed the entry.
	if el, ok := c.items[key]; ok {
		entry := el.Value.(*cacheEntry)
		if c.fresh(entry) {
			return entry.value.Clone(), true
		}
		c.removeElement(el)
	}
	return model.TenantContext{}, false
}

// Put stores value under key. Unscoped contexts are never cached.
func (c *DirectoryCache) Put(key string, value model.TenantContext) {
	if !value.IsScoped() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
	c.items[key] = c.order.PushBack(&cacheEntry{
		key:      key,
		value:    value.Clone(),
		cachedAt: c.now(),
	})

	for c.order.Len() > c.maxSize {
		c.removeElement(c.order.Front())
	}
}

// Invalidate removes key.
func (c *DirectoryCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

// InvalidateTenant removes every host that resolves to tenantID and returns
// how many were removed.
func (c *DirectoryCache) InvalidateTenant(tenantID uuid.UUID) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if el.Value.(*cacheEntry).value.TenantID == tenantID {
			c.removeElement(el)
			removed++
		}
		el = next
	}
	return removed
}

// Len returns the number of stored entries, including expired ones not yet purged.
func (c *DirectoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.order.Len()
}

func (c *DirectoryCache) fresh(e *cacheEntry) bool {
	return c.now().Sub(e.cachedAt) < c.ttl
}

func (c *DirectoryCache) removeElement(el *list.Element) {
	entry := c.order.Remove(el).(*cacheEntry)
	delete(c.items, entry.key)
}
