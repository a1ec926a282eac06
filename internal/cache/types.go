package cache

import "context"

// Cache defines the interface for query result caching
// Implementations: in-memory LRU (MemoryCache), Redis (RedisCache), NoopCache
type Cache interface {
	// Get retrieves a cached result by key
	// Returns the cached data and true if found, nil and false otherwise
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores a result in the cache with the given key
	Set(ctx context.Context, key string, value []byte)

	// Close releases any resources held by the cache
	Close()
}

// Stats holds cache counters. Evictions counts entries dropped for size or age.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Entries   int
}

// StatsReporter is implemented by caches that keep counters
type StatsReporter interface {
	Stats() Stats
}
