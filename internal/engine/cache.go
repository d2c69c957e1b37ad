package engine

import (
	"sync"
	"time"

	"github.com/roach88/xfilter/internal/ir"
)

// CacheEntry is the last successful result for one request key.
type CacheEntry struct {
	Key       string
	Table     *ir.Table
	Timestamp time.Time
}

// Cache maps request keys to results. Entries are replaced wholesale and
// only removed by Clear; there is no size or time based eviction.
//
// Thread-safety: all methods are safe for concurrent use. Within the
// manager only the Run loop writes to it.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]CacheEntry
	now     func() time.Time
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]CacheEntry),
		now:     time.Now,
	}
}

func (c *Cache) setNow(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Get returns the cached table for key.
func (c *Cache) Get(key string) (*ir.Table, bool) {
	e, ok := c.Entry(key)
	if !ok {
		return nil, false
	}
	return e.Table, true
}

// Entry returns the full entry for key, including when it was stored.
func (c *Cache) Entry(key string) (CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

// Set stores table under key, replacing any previous entry.
func (c *Cache) Set(key string, table *ir.Table) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = CacheEntry{Key: key, Table: table, Timestamp: c.now()}
}

// Clear evicts every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]CacheEntry)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
