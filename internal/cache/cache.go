// Package cache stores converted GeoJSON in Redis, keyed by the uploaded content.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	keyPrefix   = "shpmap:geojson:"
	pingTimeout = 5 * time.Second
)

// Cache is a Redis backed conversion cache. A nil *Cache is a disabled cache:
// every lookup misses and stores are dropped.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to redisURL. An empty URL disables caching.
func New(ctx context.Context, redisURL string, ttl time.Duration) (*Cache, error) {
	if redisURL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	log.Info().Str("addr", opts.Addr).Dur("ttl", ttl).Msg("Conversion cache enabled")

	return &Cache{client: client, ttl: ttl}, nil
}

// Key derives the cache key of an upload.
func Key(upload []byte) string {
	sum := sha256.Sum256(upload)
	return keyPrefix + hex.EncodeToString(sum[:])
}

// Get returns the GeoJSON stored for upload.
func (c *Cache) Get(ctx context.Context, upload []byte) ([]byte, bool) {
	if c == nil {
		return nil, false
	}

	key := Key(upload)
	value, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Cache lookup failed")
		return nil, false
	}

	return value, true
}

// Set stores the GeoJSON converted from upload.
func (c *Cache) Set(ctx context.Context, upload, geojson []byte) {
	if c == nil {
		return
	}

	key := Key(upload)
	if err := c.client.Set(ctx, key, geojson, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Cache store failed")
	}
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}

	log.Debug().Msg("Closing conversion cache")
	return c.client.Close()
}
