package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "livedepartures:"
	// deleteBatch is how many scanned keys go into one UNLINK.
	deleteBatch = 500
)

// RedisCache is the shared second-level cache for lookups. Values are JSON;
// large ones (the full stop list) are stored gzip-compressed.
type RedisCache struct {
	client *redis.Client
	logger *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

func NewRedisCache(addr, password string, db int, logger *slog.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger = logger.With("component", "redis_cache")
	logger.Info("connected to Redis", "addr", addr, "db", db)
	return &RedisCache{client: client, logger: logger}, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Ping reports whether Redis answers; readiness shows it without gating on it.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	return c.put(ctx, key, value, ttl, false)
}

func (c *RedisCache) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	return c.fetch(ctx, key, dest, false)
}

func (c *RedisCache) SetJSONCompressed(ctx context.Context, key string, value any, ttl time.Duration) error {
	return c.put(ctx, key, value, ttl, true)
}

func (c *RedisCache) GetJSONCompressed(ctx context.Context, key string, dest any) (bool, error) {
	return c.fetch(ctx, key, dest, true)
}

func (c *RedisCache) put(ctx context.Context, key string, value any, ttl time.Duration, compressed bool) error {
	data, err := encodeValue(value, compressed)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := c.client.Set(ctx, redisKeyPrefix+key, data, ttl).Err(); err != nil {
		c.errors.Add(1)
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	c.logger.Debug("cache set", "key", key, "size_bytes", len(data), "compressed", compressed, "ttl", ttl)
	return nil
}

func (c *RedisCache) fetch(ctx context.Context, key string, dest any, compressed bool) (bool, error) {
	data, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		c.misses.Add(1)
		return false, nil
	}
	if err != nil {
		c.errors.Add(1)
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := decodeValue(data, dest, compressed); err != nil {
		c.errors.Add(1)
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	c.hits.Add(1)
	return true, nil
}

// DeletePattern unlinks every key under the prefix matching pattern, in
// batches as the scan yields them.
func (c *RedisCache) DeletePattern(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, redisKeyPrefix+pattern, deleteBatch).Iterator()
	batch := make([]string, 0, deleteBatch)
	deleted := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := c.client.Unlink(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis unlink: %w", err)
		}
		deleted += len(batch)
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == deleteBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	if err := flush(); err != nil {
		return err
	}

	c.logger.Debug("cache keys deleted", "pattern", pattern, "count", deleted)
	return nil
}

type RedisStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Errors int64 `json:"errors"`
}

func (c *RedisCache) Stats() RedisStats {
	return RedisStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Errors: c.errors.Load(),
	}
}

func encodeValue(value any, compressed bool) ([]byte, error) {
	if !compressed {
		return json.Marshal(value)
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := json.NewEncoder(gz).Encode(value); err != nil {
		gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeValue(data []byte, dest any, compressed bool) error {
	if !compressed {
		return json.Unmarshal(data, dest)
	}
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer gz.Close()
	raw, err := io.ReadAll(gz)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}
