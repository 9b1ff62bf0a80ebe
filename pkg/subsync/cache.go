package subsync

import (
	"sync"
	"time"
)

// Cache defines the interface for caching subscription records to reduce
// store load on the entitlement read path. The cache is never authoritative:
// the Manager falls back to the store on every miss and invalidates the
// user's entry on every successful merge.
type Cache interface {
	// GetRecord retrieves a cached record
	// Returns the record and true if found, nil and false otherwise
	GetRecord(userID string) (*SubscriptionRecord, bool)

	// SetRecord stores a record in the cache with TTL
	SetRecord(userID string, rec *SubscriptionRecord, ttl time.Duration)

	// InvalidateRecord removes a record from the cache
	InvalidateRecord(userID string)

	// Clear removes all entries from the cache
	Clear()

	// Stats returns cache statistics
	Stats() CacheStats
}

// CacheStats holds cache performance statistics
type CacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
}

// cacheEntry wraps a cached record with expiration time and access time for LRU
type cacheEntry struct {
	record     *SubscriptionRecord
	expiration time.Time
	accessTime time.Time
	sequence   int64 // For tiebreaking when access times are equal
}

func (e *cacheEntry) isExpired() bool {
	return time.Now().After(e.expiration)
}

// NoopCache is a cache implementation that does nothing
// Used when caching is disabled
type NoopCache struct{}

// NewNoopCache creates a new no-op cache
func NewNoopCache() *NoopCache {
	return &NoopCache{}
}

func (c *NoopCache) GetRecord(_ string) (*SubscriptionRecord, bool) {
	return nil, false
}

func (c *NoopCache) SetRecord(_ string, _ *SubscriptionRecord, _ time.Duration) {}

func (c *NoopCache) InvalidateRecord(_ string) {}

func (c *NoopCache) Clear() {}

func (c *NoopCache) Stats() CacheStats {
	return CacheStats{}
}

// LRUCache implements Cache using an in-memory LRU cache with TTL support
type LRUCache struct {
	records   map[string]*cacheEntry
	maxSize   int
	mu        sync.RWMutex
	hits      int64
	misses    int64
	evictions int64
	sequence  int64
}

// NewLRUCache creates a new LRU cache with the specified maximum size
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 1000 // default
	}

	return &LRUCache{
		records: make(map[string]*cacheEntry, maxSize),
		maxSize: maxSize,
	}
}

func (c *LRUCache) GetRecord(userID string) (*SubscriptionRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.records[userID]
	if !exists || entry.isExpired() {
		c.misses++
		return nil, false
	}

	// Update access time for LRU
	entry.accessTime = time.Now()

	c.hits++
	// Return a copy to prevent external modifications
	rec := *entry.record
	return &rec, true
}

func (c *LRUCache) SetRecord(userID string, rec *SubscriptionRecord, ttl time.Duration) {
	if rec == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	_, exists := c.records[userID]

	// Evict if at capacity and entry doesn't exist
	if len(c.records) >= c.maxSize && !exists {
		// Evict least recently used (oldest accessTime, then oldest sequence)
		var oldestKey string
		var oldestTime time.Time
		var oldestSeq int64
		first := true
		for key, entry := range c.records {
			if first || entry.accessTime.Before(oldestTime) ||
				(entry.accessTime.Equal(oldestTime) && entry.sequence < oldestSeq) {
				oldestKey = key
				oldestTime = entry.accessTime
				oldestSeq = entry.sequence
				first = false
			}
		}
		if oldestKey != "" {
			delete(c.records, oldestKey)
			c.evictions++
		}
	}

	seq := c.sequence
	c.sequence++
	recCopy := *rec
	c.records[userID] = &cacheEntry{
		record:     &recCopy,
		expiration: now.Add(ttl),
		accessTime: now,
		sequence:   seq,
	}
}

func (c *LRUCache) InvalidateRecord(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, userID)
}

func (c *LRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = make(map[string]*cacheEntry, c.maxSize)
}

func (c *LRUCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return CacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      len(c.records),
	}
}
