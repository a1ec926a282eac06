package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryCache is an in-process LRU cache whose entries expire after a fixed TTL
type MemoryCache struct {
	lru *expirable.LRU[string, []byte]

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// NewMemoryCache creates a cache holding at most size results for ttl each
func NewMemoryCache(size int, ttl time.Duration) (*MemoryCache, error) {
	if size <= 0 {
		return nil, fmt.Errorf("cache size must be positive, got %d", size)
	}

	mc := &MemoryCache{}
	mc.lru = expirable.NewLRU[string, []byte](size, func(string, []byte) {
		mc.evictions.Add(1)
	}, ttl)
	return mc, nil
}

// Get returns the cached result for key. Expired entries are misses.
func (mc *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool) {
	data, ok := mc.lru.Get(key)
	if !ok {
		mc.misses.Add(1)
		return nil, false
	}
	mc.hits.Add(1)
	return data, true
}

// Set stores a result, evicting the least recently used entry when full
func (mc *MemoryCache) Set(ctx context.Context, key string, value []byte) {
	mc.lru.Add(key, value)
}

// Len returns the number of entries, expired ones included until they are swept
func (mc *MemoryCache) Len() int {
	return mc.lru.Len()
}

// Stats returns hit, miss and eviction counters
func (mc *MemoryCache) Stats() Stats {
	return Stats{
		Hits:      mc.hits.Load(),
		Misses:    mc.misses.Load(),
		Evictions: mc.evictions.Load(),
		Entries:   mc.lru.Len(),
	}
}

// Close drops every entry
func (mc *MemoryCache) Close() {
	mc.lru.Purge()
}

// NoopCache is used when caching is disabled
type NoopCache struct{}

// NewNoopCache creates a new no-op cache
func NewNoopCache() *NoopCache {
	return &NoopCache{}
}

// Get always returns not found
func (nc *NoopCache) Get(ctx context.Context, key string) ([]byte, bool) {
	return nil, false
}

// Set does nothing
func (nc *NoopCache) Set(ctx context.Context, key string, value []byte) {}

// Close does nothing
func (nc *NoopCache) Close() {}
