package policy

import (
	"container/list"
	"sync"
	"time"

	"github.com/upb/deal-guardrails/models"
)

// allTypesKey is the cache key of the unfiltered active set
const allTypesKey = "*"

// CacheKey identifies one cached active-set snapshot
type CacheKey struct {
	PolicyType *models.PolicyType
}

// String returns a string representation of the cache key
func (k CacheKey) String() string {
	if k.PolicyType != nil {
		return string(*k.PolicyType)
	}
	return allTypesKey
}

// cacheEntry represents a single cache entry with TTL
type cacheEntry struct {
	key        CacheKey
	policies   []*models.Policy
	insertedAt time.Time
	element    *list.Element // For LRU tracking
}

// isExpired checks if the cache entry has expired
func (e *cacheEntry) isExpired(ttl time.Duration) bool {
	return time.Since(e.insertedAt) > ttl
}

// PolicyCache is an in-memory LRU cache with TTL for active-set snapshots.
// Cached slices are shared between readers and must not be mutated.
// A cache with a max size of zero stores nothing.
//
// Every invalidation bumps the generation of the keys it drops, so a snapshot read
// before an invalidation can be refused with SetPoliciesAt.
type PolicyCache struct {
	mu          sync.RWMutex
	entries     map[string]*cacheEntry // Key: CacheKey.String()
	generations map[string]uint64
	clears      uint64
	lruList *list.List             // Doubly linked list for LRU tracking
	maxSize int                    // Maximum number of entries
	ttl     time.Duration          // Time-to-live for entries
	hits    uint64                 // Cache hit counter
	misses  uint64                 // Cache miss counter
}

// NewPolicyCache creates a new PolicyCache with specified max size and TTL
func NewPolicyCache(maxSize int, ttl time.Duration) *PolicyCache {
	return &PolicyCache{
		entries:     make(map[string]*cacheEntry),
		generations: make(map[string]uint64),
		lruList:     list.New(),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// GetPolicies retrieves an active-set snapshot from cache.
// The second return value is false if not found or expired.
func (c *PolicyCache) GetPolicies(key CacheKey) ([]*models.Policy, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keyStr := key.String()
	entry, exists := c.entries[keyStr]

	if !exists || entry.isExpired(c.ttl) {
		c.misses++
		if exists {
			c.removeEntry(keyStr)
		}
		return nil, false
	}

	// Move to front (most recently used)
	c.lruList.MoveToFront(entry.element)
	c.hits++

	return entry.policies, true
}

// Generation returns the invalidation generation of key. Capture it before reading
// the active set and pass it to SetPoliciesAt.
func (c *PolicyCache) Generation(key CacheKey) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.generation(key.String())
}

// SetPolicies stores an active-set snapshot in cache
func (c *PolicyCache) SetPolicies(key CacheKey, policies []*models.Policy) {
	if c.maxSize <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.store(key, policies)
}

// SetPoliciesAt stores a snapshot only if key has not been invalidated since
// generation was captured. It reports whether the snapshot was stored.
func (c *PolicyCache) SetPoliciesAt(key CacheKey, generation uint64, policies []*models.Policy) bool {
	if c.maxSize <= 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation(key.String()) != generation {
		return false
	}
	c.store(key, policies)
	return true
}

// store inserts or replaces an entry (must be called with lock held)
func (c *PolicyCache) store(key CacheKey, policies []*models.Policy) {
	keyStr := key.String()

	if entry, exists := c.entries[keyStr]; exists {
		entry.policies = policies
		entry.insertedAt = time.Now()
		c.lruList.MoveToFront(entry.element)
		return
	}

	// Evict least recently used entry if cache is full
	if c.lruList.Len() >= c.maxSize {
		c.evictLRU()
	}

	entry := &cacheEntry{
		key:        key,
		policies:   policies,
		insertedAt: time.Now(),
	}
	entry.element = c.lruList.PushFront(keyStr)
	c.entries[keyStr] = entry
}

// Invalidate removes a specific cache entry
func (c *PolicyCache) Invalidate(key CacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeEntry(key.String())
	c.generations[key.String()]++
}

// InvalidateType removes the snapshot of one policy type and the unfiltered snapshot
func (c *PolicyCache) InvalidateType(policyType models.PolicyType) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, keyStr := range []string{string(policyType), allTypesKey} {
		c.removeEntry(keyStr)
		c.generations[keyStr]++
	}
}

// Clear removes all entries from the cache
func (c *PolicyCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.lruList.Init()
	c.clears++
}

// Stats returns cache statistics
func (c *PolicyCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return CacheStats{
		Size:    len(c.entries),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: c.calculateHitRate(),
	}
}

// CacheStats represents cache statistics
type CacheStats struct {
	Size    int     `json:"size"`
	MaxSize int     `json:"max_size"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// calculateHitRate calculates the cache hit rate
func (c *PolicyCache) calculateHitRate() float64 {
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}

// generation combines the per-key counter with the clear counter (must be called with lock held).
// Both only grow, so the sum changes whenever either does.
func (c *PolicyCache) generation(keyStr string) uint64 {
	return c.generations[keyStr] + c.clears
}

// removeEntry removes an entry from the cache (must be called with lock held)
func (c *PolicyCache) removeEntry(keyStr string) {
	if entry, exists := c.entries[keyStr]; exists {
		c.lruList.Remove(entry.element)
		delete(c.entries, keyStr)
	}
}

// evictLRU evicts the least recently used entry (must be called with lock held)
func (c *PolicyCache) evictLRU() {
	backElement := c.lruList.Back()
	if backElement != nil {
		keyStr := backElement.Value.(string)
		c.lruList.Remove(backElement)
		delete(c.entries, keyStr)
	}
}

// CleanupExpired removes all expired entries and returns how many were removed
func (c *PolicyCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiredKeys := make([]string, 0)
	for keyStr, entry := range c.entries {
		if entry.isExpired(c.ttl) {
			expiredKeys = append(expiredKeys, keyStr)
		}
	}
	for _, keyStr := range expiredKeys {
		c.removeEntry(keyStr)
	}

	return len(expiredKeys)
}

// StartCleanupWorker periodically removes expired entries until stopCh is closed
func (c *PolicyCache) StartCleanupWorker(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.CleanupExpired()
		case <-stopCh:
			return
		}
	}
}
