package storage

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/notcontrolos/hinata/internal/logger"
	"github.com/notcontrolos/hinata/pkg/packet"
)

const (
	// DefaultCacheEntries bounds the number of cached packets.
	DefaultCacheEntries = 4096
	// DefaultCacheBytes bounds the cached payload size.
	DefaultCacheBytes = 256 << 20
	// DefaultCacheTTL is the per-entry lifetime. An expired entry is
	// treated as a miss and removed on access.
	DefaultCacheTTL = 60 * time.Second
)

// CacheConfig bounds the packet cache. Zero values take defaults.
type CacheConfig struct {
	MaxEntries int
	MaxBytes   uint64
	TTL        time.Duration
}

func (c CacheConfig) withDefaults() CacheConfig {
	if c.MaxEntries <= 0 {
		c.MaxEntries = DefaultCacheEntries
	}
	if c.MaxBytes == 0 {
		c.MaxBytes = DefaultCacheBytes
	}
	if c.TTL <= 0 {
		c.TTL = DefaultCacheTTL
	}
	return c
}

type cacheEntry struct {
	id         string
	p          *packet.Packet
	size       uint64
	pinned     bool
	insertedAt time.Time
}

// Cache is an LRU packet cache with entry and byte budgets. The cache holds
// one reference on each cached packet; Get hands the caller an additional
// reference which the caller must Put.
type Cache struct {
	mu      sync.Mutex
	cfg     CacheConfig
	entries map[string]*list.Element
	lru     *list.List // front is most recently used
	bytes   uint64

	hits        atomic.Uint64
	misses      atomic.Uint64
	evictions   atomic.Uint64
	expirations atomic.Uint64
}

// CacheStats is a snapshot of cache counters.
type CacheStats struct {
	Entries     int
	Bytes       uint64
	Hits        uint64
	Misses      uint64
	Evictions   uint64
	Expirations uint64
}

// NewCache creates an empty cache.
func NewCache(cfg CacheConfig) *Cache {
	return &Cache{
		cfg:     cfg.withDefaults(),
		entries: make(map[string]*list.Element),
		lru:     list.New(),
	}
}

// Get returns a cached packet with a fresh reference, or nil on miss.
// Expired entries are removed and counted as misses.
func (c *Cache) Get(id string) *packet.Packet {
	c.mu.Lock()
	elem, ok := c.entries[id]
	if !ok {
		c.mu.Unlock()
		c.misses.Add(1)
		return nil
	}
	entry := elem.Value.(*cacheEntry)

	if time.Since(entry.insertedAt) > c.cfg.TTL {
		c.removeLocked(elem)
		c.mu.Unlock()
		c.expirations.Add(1)
		c.misses.Add(1)
		return nil
	}

	p := entry.p.Get()
	if p == nil {
		// Packet destroyed behind the cache's back.
		c.removeLockedNoRelease(elem)
		c.mu.Unlock()
		c.misses.Add(1)
		return nil
	}
	c.lru.MoveToFront(elem)
	c.mu.Unlock()
	c.hits.Add(1)
	return p
}

// Put inserts a packet, taking its own reference. Pinned entries are never
// evicted by budget pressure. Returns false if the packet could not be
// cached (released, or larger than the byte budget).
func (c *Cache) Put(id string, p *packet.Packet, pinned bool) bool {
	size := p.Size()
	if size > c.cfg.MaxBytes {
		return false
	}
	if p.Get() == nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[id]; ok {
		c.removeLocked(elem)
	}

	entry := &cacheEntry{
		id:         id,
		p:          p,
		size:       size,
		pinned:     pinned,
		insertedAt: time.Now(),
	}
	c.entries[id] = c.lru.PushFront(entry)
	c.bytes += size

	c.evictOverBudgetLocked()
	return true
}

// Remove drops an entry if present.
func (c *Cache) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.entries[id]
	if !ok {
		return false
	}
	c.removeLocked(elem)
	return true
}

// Flush drops every entry, releasing the cache's references.
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for elem := c.lru.Front(); elem != nil; {
		next := elem.Next()
		c.removeLocked(elem)
		elem = next
	}
}

// Sweep removes expired entries. Called by the background sync timer so
// stale packets do not pin memory until their next access.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for elem := c.lru.Front(); elem != nil; {
		next := elem.Next()
		entry := elem.Value.(*cacheEntry)
		if time.Since(entry.insertedAt) > c.cfg.TTL {
			c.removeLocked(elem)
			c.expirations.Add(1)
			removed++
		}
		elem = next
	}
	return removed
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	entries := len(c.entries)
	bytes := c.bytes
	c.mu.Unlock()
	return CacheStats{
		Entries:     entries,
		Bytes:       bytes,
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Evictions:   c.evictions.Load(),
		Expirations: c.expirations.Load(),
	}
}

// evictOverBudgetLocked walks from the LRU tail, skipping pinned entries,
// until both budgets are satisfied.
func (c *Cache) evictOverBudgetLocked() {
	over := func() bool {
		return len(c.entries) > c.cfg.MaxEntries || c.bytes > c.cfg.MaxBytes
	}
	for elem := c.lru.Back(); elem != nil && over(); {
		prev := elem.Prev()
		entry := elem.Value.(*cacheEntry)
		if !entry.pinned {
			c.removeLocked(elem)
			c.evictions.Add(1)
			logger.Debug("cache entry evicted",
				logger.KeyPacketID, entry.id, "size", entry.size)
		}
		elem = prev
	}
}

func (c *Cache) removeLocked(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	c.removeLockedNoRelease(elem)
	entry.p.Put()
}

func (c *Cache) removeLockedNoRelease(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	c.lru.Remove(elem)
	delete(c.entries, entry.id)
	c.bytes -= entry.size
}
