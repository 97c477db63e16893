package provider

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cachePrefix = "cache:border:"

// Cached is a read-through redis layer over another provider. Cache failures
// never fail the request: on any redis error the inner provider is consulted
// directly.
type Cached struct {
	inner  DataProvider
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func NewCached(inner DataProvider, client *redis.Client, ttl time.Duration, log *zap.Logger) *Cached {
	return &Cached{inner: inner, client: client, ttl: ttl, log: log}
}

func cacheKey(target string, params map[string]string) string {
	crossing := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(params["crossing"])), " ", "_")
	return cachePrefix + target + ":" + crossing
}

func (c *Cached) Fetch(ctx context.Context, target string, params map[string]string) (map[string]any, error) {
	key := cacheKey(target, params)

	raw, err := c.client.Get(ctx, key).Result()
	if err == nil {
		var data map[string]any
		if err := json.Unmarshal([]byte(raw), &data); err == nil {
			data["cached"] = true
			return data, nil
		}
		c.log.Warn("dropping corrupt cache entry", zap.String("key", key))
		c.client.Del(ctx, key)
	} else if err != redis.Nil {
		c.log.Warn("cache read failed", zap.Error(err))
	}

	data, err := c.inner.Fetch(ctx, target, params)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(data); err == nil {
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			c.log.Warn("cache write failed", zap.Error(err))
		}
	}
	data["cached"] = false
	return data, nil
}

// Invalidate drops the entry for one crossing, or every border entry when
// crossing is empty.
func (c *Cached) Invalidate(ctx context.Context, target, crossing string) (int64, error) {
	if crossing != "" {
		return c.client.Del(ctx, cacheKey(target, map[string]string{"crossing": crossing})).Result()
	}

	var removed int64
	iter := c.client.Scan(ctx, 0, cachePrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n, err := c.client.Del(ctx, iter.Val()).Result()
		if err != nil {
			return removed, err
		}
		removed += n
	}
	return removed, iter.Err()
}

// Stats reports cache shape for the ops endpoint.
func (c *Cached) Stats(ctx context.Context) (map[string]any, error) {
	var keys int64
	iter := c.client.Scan(ctx, 0, cachePrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys++
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return map[string]any{
		"enabled":     true,
		"ttl_seconds": int(c.ttl.Seconds()),
		"cached_keys": keys,
	}, nil
}
