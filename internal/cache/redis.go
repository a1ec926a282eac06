package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// redisKeyPrefix namespaces every key written by RedisCache
const redisKeyPrefix = "rpcdemo:query:"

// RedisCache stores query results in Redis with a TTL
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewRedisCache connects to the Redis server at url (redis://host:port/db)
func NewRedisCache(ctx context.Context, url string, ttl time.Duration, logger zerolog.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "redis-cache").Logger(),
	}, nil
}

// Get retrieves a value from Redis. Errors other than a miss are logged and reported as a miss.
func (rc *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := rc.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			rc.logger.Warn().Err(err).Str("key", key).Msg("redis get failed")
		}
		rc.misses.Add(1)
		return nil, false
	}
	rc.hits.Add(1)
	return data, true
}

// Stats returns hit and miss counters. Expiry is handled by Redis and not counted.
func (rc *RedisCache) Stats() Stats {
	return Stats{Hits: rc.hits.Load(), Misses: rc.misses.Load()}
}

// Set stores a value in Redis with the configured TTL
func (rc *RedisCache) Set(ctx context.Context, key string, value []byte) {
	if err := rc.client.Set(ctx, redisKeyPrefix+key, value, rc.ttl).Err(); err != nil {
		rc.logger.Warn().Err(err).Str("key", key).Msg("redis set failed")
	}
}

// Close closes the Redis client
func (rc *RedisCache) Close() {
	if err := rc.client.Close(); err != nil {
		rc.logger.Debug().Err(err).Msg("redis close failed")
	}
}
