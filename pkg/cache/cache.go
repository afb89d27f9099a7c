// Package cache provides a small Redis-based caching layer with JSON
// serialization. The service uses it for read-through caching of
// nearest-responder lookups, which are slow external calls whose answers
// change rarely for a given area.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Cache stores JSON-encoded values in Redis with a TTL.
type Cache struct {
	client *redis.Client
}

// NewCache creates a new cache instance wrapping a Redis client.
//
// Example:
//
//	c := cache.NewCache(redisDB.Client())
func NewCache(client *redis.Client) *Cache {
	return &Cache{
		client: client,
	}
}

// Get retrieves a value from cache and unmarshals it into the target.
// Returns ErrCacheMiss if the key doesn't exist.
func (c *Cache) Get(ctx context.Context, key string, target interface{}) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		log.Error().Err(err).Str("key", key).Msg("Failed to get from cache")
		return fmt.Errorf("cache get error: %w", err)
	}

	if err := json.Unmarshal(data, target); err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to unmarshal cached data")
		return fmt.Errorf("unmarshal error: %w", err)
	}

	return nil
}

// Set stores a value in cache with the specified TTL.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to set cache")
		return fmt.Errorf("cache set error: %w", err)
	}

	log.Debug().Str("key", key).Dur("ttl", ttl).Msg("Cached data")
	return nil
}

// GetOrLoad implements the cache-aside pattern for a typed value.
//
// On a hit the cached value is returned. On a miss (or when Redis is
// unavailable) loader runs; a successful result is cached for ttl and
// returned. Loader errors are returned unchanged and nothing is cached.
// A nil Cache always calls loader.
//
// Example:
//
//	r, err := cache.GetOrLoad(ctx, c, cache.ResponderKey(lat, lon), time.Hour,
//	    func() (models.Responder, error) { return fetch(ctx, lat, lon) })
func GetOrLoad[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, loader func() (T, error)) (T, error) {
	if c == nil {
		return loader()
	}

	var cached T
	err := c.Get(ctx, key, &cached)
	if err == nil {
		log.Debug().Str("key", key).Msg("Cache hit")
		return cached, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		log.Warn().Err(err).Str("key", key).Msg("Cache unavailable, loading directly")
	}

	value, err := loader()
	if err != nil {
		return value, err
	}

	if err := c.Set(ctx, key, value, ttl); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to cache loaded data")
	}

	return value, nil
}
