// Package cache implements the TTL-aware response cache keyed by
// (qtype, qname). The outer index is a small map from qtype to an inner
// per-type bucket; each bucket is a github.com/patrickmn/go-cache
// instance with its janitor disabled, so expiry happens only lazily, on
// access, and no background goroutine ever sweeps an entry on its own.
package cache

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"dnsproxy/internal/wire"
)

const (
	// DefaultMinTTL and DefaultMaxTTL bound every cached entry's TTL,
	// regardless of what the upstream reply advertised.
	DefaultMinTTL = 60 * time.Second
	DefaultMaxTTL = 86400 * time.Second
)

// Cache maps (qtype, qname) -> cached response bytes.
type Cache struct {
	minTTL, maxTTL time.Duration

	mu      sync.RWMutex
	buckets map[uint16]*gocache.Cache
}

// New creates a Cache with the default TTL bounds.
func New() *Cache {
	return NewWithTTLBounds(DefaultMinTTL, DefaultMaxTTL)
}

// NewWithTTLBounds creates a Cache clamping every insert's TTL to
// [minTTL, maxTTL].
func NewWithTTLBounds(minTTL, maxTTL time.Duration) *Cache {
	return &Cache{
		minTTL:  minTTL,
		maxTTL:  maxTTL,
		buckets: make(map[uint16]*gocache.Cache),
	}
}

// Get returns a copy of the cached response for q with its id rewritten
// to q.ID, or (nil, false) on a miss or expired entry. Lookup does not
// allocate beyond the returned copy.
func (c *Cache) Get(q wire.Query) ([]byte, bool) {
	c.mu.RLock()
	bucket, ok := c.buckets[q.Qtype]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	val, found := bucket.Get(q.Domain)
	if !found {
		return nil, false
	}
	stored, ok := val.([]byte)
	if !ok {
		return nil, false
	}
	return wire.RewriteID(stored, q.ID)
}

// Put inserts response under (q.Qtype, q.Domain), deriving its TTL from
// the response's own minimum-TTL scan and clamping to [minTTL, maxTTL].
// An existing entry for the same key is replaced.
func (c *Cache) Put(q wire.Query, response []byte) {
	ttl := time.Duration(wire.MinTTL(response, uint32(c.minTTL/time.Second))) * time.Second
	if ttl < c.minTTL {
		ttl = c.minTTL
	}
	if ttl > c.maxTTL {
		ttl = c.maxTTL
	}

	bucket := c.bucketFor(q.Qtype)

	stored := make([]byte, len(response))
	copy(stored, response)
	bucket.Set(q.Domain, stored, ttl)
}

// bucketFor returns the per-qtype bucket, creating it under a write lock
// if this is the first entry seen for that qtype.
func (c *Cache) bucketFor(qtype uint16) *gocache.Cache {
	c.mu.RLock()
	bucket, ok := c.buckets[qtype]
	c.mu.RUnlock()
	if ok {
		return bucket
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if bucket, ok = c.buckets[qtype]; ok {
		return bucket
	}
	bucket = gocache.New(c.maxTTL, 0)
	c.buckets[qtype] = bucket
	return bucket
}

// Len returns a best-effort count of entries across all buckets.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	total := 0
	for _, bucket := range c.buckets {
		total += bucket.ItemCount()
	}
	return total
}
