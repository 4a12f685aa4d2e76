package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/platewise/imagegate/pkg/types"
)

// LRUCache is a thread-safe, entry-count-bounded LRU cache of image metadata
// with a fixed per-entry TTL.
type LRUCache struct {
	mu         sync.Mutex
	maxEntries int
	ttl        time.Duration
	items      map[string]*cacheItem
	evictList  *list.List

	stats types.CacheStats
}

// cacheItem represents an item in the cache.
type cacheItem struct {
	key      string
	meta     *types.ImageMetadata
	storedAt time.Time
	element  *list.Element
}

// cacheEntry represents the value stored in the list element.
type cacheEntry struct {
	key string
}

// NewLRUCache creates a new LRU cache with the given entry capacity and TTL.
func NewLRUCache(maxEntries int, ttl time.Duration) *LRUCache {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &LRUCache{
		maxEntries: maxEntries,
		ttl:        ttl,
		items:      make(map[string]*cacheItem),
		evictList:  list.New(),
		stats: types.CacheStats{
			Capacity: maxEntries,
		},
	}
}

// Get retrieves metadata from the cache. A TTL-expired entry reads as absent
// and is purged. A hit moves the entry to the most-recently-used position.
func (c *LRUCache) Get(key string) *types.ImageMetadata {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, exists := c.items[key]
	if !exists {
		c.stats.Misses++
		c.updateHitRate()
		return nil
	}

	if c.isExpired(item) {
		c.removeItem(key)
		c.stats.Misses++
		c.updateHitRate()
		return nil
	}

	c.evictList.MoveToFront(item.element)

	c.stats.Hits++
	c.updateHitRate()
	return item.meta
}

// Set stores metadata in the cache. At capacity, the single least-recently-
// used entry is evicted before the insert.
func (c *LRUCache) Set(key string, meta *types.ImageMetadata) {
	if meta == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if item, exists := c.items[key]; exists {
		item.meta = meta
		item.storedAt = time.Now()
		c.evictList.MoveToFront(item.element)
		return
	}

	if c.evictList.Len() >= c.maxEntries {
		c.evictOldest()
	}

	element := c.evictList.PushFront(&cacheEntry{key: key})
	c.items[key] = &cacheItem{
		key:      key,
		meta:     meta,
		storedAt: time.Now(),
		element:  element,
	}
	c.stats.Entries = len(c.items)
}

// Delete removes an entry from the cache.
func (c *LRUCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; exists {
		c.removeItem(key)
	}
}

// Len returns the current number of entries.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns a snapshot of cache statistics.
func (c *LRUCache) Stats() types.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Entries = len(c.items)
	return stats
}

// Purge drops every entry.
func (c *LRUCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*cacheItem)
	c.evictList.Init()
	c.stats.Entries = 0
}

// evictOldest removes the least-recently-used entry. Caller holds the lock.
func (c *LRUCache) evictOldest() {
	element := c.evictList.Back()
	if element == nil {
		return
	}
	entry := element.Value.(*cacheEntry)
	c.removeItem(entry.key)
	c.stats.Evictions++
}

// removeItem removes an item from both the map and the list. Caller holds
// the lock.
func (c *LRUCache) removeItem(key string) {
	if item, exists := c.items[key]; exists {
		c.evictList.Remove(item.element)
		delete(c.items, key)
	}
	c.stats.Entries = len(c.items)
}

func (c *LRUCache) isExpired(item *cacheItem) bool {
	return time.Since(item.storedAt) > c.ttl
}

func (c *LRUCache) updateHitRate() {
	total := c.stats.Hits + c.stats.Misses
	if total > 0 {
		c.stats.HitRate = float64(c.stats.Hits) / float64(total)
	}
}
