package embeddings

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CacheStats reports cache effectiveness (spec.md §4.1's cache stats:
// hits, misses, size, hit_rate).
type CacheStats struct {
	Hits    int64
	Misses  int64
	Size    int
	MaxSize int
}

// HitRate returns hits / (hits + misses), or 0 when the cache is unused.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type cacheEntry struct {
	vector  []float32
	expires time.Time
}

// Cache is a fixed-size, TTL-bounded embedding cache (component C2). Keys
// are sha256(model + ":" + text), matching the Python prototype's cache
// key derivation so identical text re-embedded under the same model always
// hits.
type Cache struct {
	mu      sync.Mutex
	lru     *lru.Cache[string, cacheEntry]
	ttl     time.Duration
	maxSize int
	hits    int64
	misses  int64
}

// NewCache creates a Cache holding at most maxSize entries, each valid for
// ttl after insertion. A non-positive ttl means entries never expire.
func NewCache(maxSize int, ttl time.Duration) (*Cache, error) {
	l, err := lru.New[string, cacheEntry](maxSize)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l, ttl: ttl, maxSize: maxSize}, nil
}

// CacheKey derives the lookup key for (model, text).
func CacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + ":" + text))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached vector for key, if present and unexpired.
func (c *Cache) Get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lru.Get(key)
	if !ok {
		c.misses++
		return nil, false
	}
	if c.ttl > 0 && time.Now().After(entry.expires) {
		c.lru.Remove(key)
		c.misses++
		return nil, false
	}
	c.hits++
	return entry.vector, true
}

// Put stores vector under key, evicting the least-recently-used entry if
// the cache is at capacity.
func (c *Cache) Put(key string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expires time.Time
	if c.ttl > 0 {
		expires = time.Now().Add(c.ttl)
	}
	c.lru.Add(key, cacheEntry{vector: vector, expires: expires})
}

// Stats returns a snapshot of cache hit/miss counters and current size.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Hits:    c.hits,
		Misses:  c.misses,
		Size:    c.lru.Len(),
		MaxSize: c.maxSize,
	}
}

// Purge empties the cache and resets hit/miss counters.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.hits = 0
	c.misses = 0
}
