package userinfo

import (
	"sync"
	"time"
)

// CachedUserInfo is one cached user-info response for a subject.
type CachedUserInfo struct {
	Subject   string
	Claims    map[string]any
	FetchedAt time.Time
	TTL       time.Duration
}

func (c CachedUserInfo) fresh(now time.Time) bool {
	return now.Before(c.FetchedAt.Add(c.TTL))
}

// Cache holds fetched user-info responses per (tenant, subject) with a
// TTL. Stale entries are treated as absent on read, which makes the
// next read trigger a re-fetch. Each tenant has its own partition and
// lock plus a size bound with oldest-fetch eviction.
type Cache struct {
	mu         sync.RWMutex
	partitions map[string]*cachePartition

	maxPerTenant int
	nowFunc      func() time.Time
}

type cachePartition struct {
	mu      sync.RWMutex
	entries map[string]CachedUserInfo
}

type CacheOption func(*Cache)

// WithCacheNowFunc sets the now time function (primarily for testing)
func WithCacheNowFunc(now func() time.Time) CacheOption {
	return func(c *Cache) {
		c.nowFunc = now
	}
}

// WithMaxPerTenant bounds the number of subjects cached per tenant.
func WithMaxPerTenant(max int) CacheOption {
	return func(c *Cache) {
		c.maxPerTenant = max
	}
}

const defaultMaxPerTenant = 1000

func NewCache(options ...CacheOption) *Cache {
	c := &Cache{
		partitions:   make(map[string]*cachePartition),
		maxPerTenant: defaultMaxPerTenant,
		nowFunc:      time.Now,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Get returns the cached user-info for a subject if present and fresh.
func (c *Cache) Get(tenantID, subject string) (CachedUserInfo, bool) {
	p := c.lookupPartition(tenantID)
	if p == nil {
		return CachedUserInfo{}, false
	}

	p.mu.RLock()
	entry, ok := p.entries[subject]
	p.mu.RUnlock()
	if !ok {
		return CachedUserInfo{}, false
	}

	if !entry.fresh(c.nowFunc()) {
		p.mu.Lock()
		delete(p.entries, subject)
		p.mu.Unlock()
		return CachedUserInfo{}, false
	}
	return entry, true
}

// Put stores a fetched user-info response. When the tenant partition is
// full the entry with the oldest fetch time is evicted first.
func (c *Cache) Put(tenantID, subject string, claims map[string]any, ttl time.Duration) {
	p := c.partition(tenantID)

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.entries[subject]; !exists && len(p.entries) >= c.maxPerTenant {
		c.evictOldestLocked(p)
	}
	p.entries[subject] = CachedUserInfo{
		Subject:   subject,
		Claims:    claims,
		FetchedAt: c.nowFunc(),
		TTL:       ttl,
	}
}

// Clear resets the whole cache. Safe to call concurrently with reads
// and writes; readers either see the old partition or an empty one,
// never partial state.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.partitions = make(map[string]*cachePartition)
}

// Size reports the number of fresh entries across all tenants.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.nowFunc()
	total := 0
	for _, p := range c.partitions {
		p.mu.RLock()
		for _, entry := range p.entries {
			if entry.fresh(now) {
				total++
			}
		}
		p.mu.RUnlock()
	}
	return total
}

func (c *Cache) evictOldestLocked(p *cachePartition) {
	var oldestSubject string
	var oldestAt time.Time
	for subject, entry := range p.entries {
		if oldestSubject == "" || entry.FetchedAt.Before(oldestAt) {
			oldestSubject = subject
			oldestAt = entry.FetchedAt
		}
	}
	if oldestSubject != "" {
		delete(p.entries, oldestSubject)
	}
}

func (c *Cache) partition(tenantID string) *cachePartition {
	c.mu.RLock()
	p, ok := c.partitions[tenantID]
	c.mu.RUnlock()
	if ok {
		return p
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok = c.partitions[tenantID]; ok {
		return p
	}
	p = &cachePartition{entries: make(map[string]CachedUserInfo)}
	c.partitions[tenantID] = p
	return p
}

func (c *Cache) lookupPartition(tenantID string) *cachePartition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.partitions[tenantID]
}
