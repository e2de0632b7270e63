package license

import (
	"sync"
	"time"
)

// CacheEntry represents a cached license lookup. Found=false entries cache
// unknown keys so repeated lookups do not reach the backend.
type CacheEntry struct {
	License   License   `json:"license"`
	Found     bool      `json:"found"`
	CachedAt  time.Time `json:"cached_at"`
	ExpiresAt time.Time `json:"expires_at"`
	HitCount  int       `json:"hit_count"`
}

// Cache is a TTL-bounded, size-bounded cache of license lookups
type Cache struct {
	entries   map[string]CacheEntry
	mutex     sync.Mutex
	ttl       time.Duration
	maxSize   int
	hitCount  int64
	missCount int64
	stopChan  chan struct{}
	stopOnce  sync.Once
	now       func() time.Time
}

// NewCache creates a cache and starts its expiry sweeper
func NewCache(ttl time.Duration, maxSize int) *Cache {
	cache := &Cache{
		entries:  make(map[string]CacheEntry),
		ttl:      ttl,
		maxSize:  maxSize,
		stopChan: make(chan struct{}),
		now:      time.Now,
	}

	go cache.cleanup()

	return cache
}

// Get retrieves a lookup result from cache
func (c *Cache) Get(key string) (License, bool, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, exists := c.entries[key]
	if !exists || !c.now().Before(entry.ExpiresAt) {
		c.missCount++
		return License{}, false, false
	}

	entry.HitCount++
	c.entries[key] = entry
	c.hitCount++

	return entry.License, entry.Found, true
}

// Set stores a lookup result
func (c *Cache) Set(key string, l License, found bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.maxSize <= 0 || c.ttl <= 0 {
		return
	}

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	now := c.now()
	c.entries[key] = CacheEntry{
		License:   l,
		Found:     found,
		CachedAt:  now,
		ExpiresAt: now.Add(c.ttl),
	}
}

// Invalidate removes a key from cache
func (c *Cache) Invalidate(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.entries, key)
}

// GetStats returns cache statistics
func (c *Cache) GetStats() map[string]interface{} {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	totalRequests := c.hitCount + c.missCount
	hitRatio := float64(0)
	if totalRequests > 0 {
		hitRatio = float64(c.hitCount) / float64(totalRequests)
	}

	return map[string]interface{}{
		"entries":     len(c.entries),
		"max_size":    c.maxSize,
		"hit_count":   c.hitCount,
		"miss_count":  c.missCount,
		"hit_ratio":   hitRatio,
		"ttl_seconds": c.ttl.Seconds(),
	}
}

func (c *Cache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range c.entries {
		if oldestKey == "" || entry.CachedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.CachedAt
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Stop stops the sweeper goroutine. Safe to call more than once.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}

func (c *Cache) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Cache) sweep() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	for key, entry := range c.entries {
		if !now.Before(entry.ExpiresAt) {
			delete(c.entries, key)
		}
	}
}
