package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/regnet/pkg/logger"
	"github.com/OFFIS-RIT/regnet/pkg/network"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	defaultTTL    = 10 * time.Minute
	generationKey = "regnet:network:generation"
)

// Interface is the part of a Redis client the cache uses.
type Interface interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
}

// Params identify one materialized network.
type Params struct {
	Threshold   float64
	MaxSections int
}

// BuildFunc materializes a network on a cache miss.
type BuildFunc func(ctx context.Context) (*network.Graph, error)

// NetworkCache keeps materialized networks in Redis. Concurrent misses for
// the same parameters share one build. Redis failures degrade to building
// on every call.
type NetworkCache struct {
	client Interface
	ttl    time.Duration
	group  singleflight.Group
}

// NewNetworkCache returns a cache on client. A nil client disables caching.
func NewNetworkCache(client Interface, ttl time.Duration) *NetworkCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &NetworkCache{client: client, ttl: ttl}
}

// NewRedisClient connects to the Redis URL, e.g. redis://localhost:6379/0.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}
	return client, nil
}

func (c *NetworkCache) generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func cacheKey(gen int64, p Params) string {
	return fmt.Sprintf("regnet:network:%d:%.4f:%d", gen, p.Threshold, p.MaxSections)
}

// GetOrBuild returns the cached network for p or builds and stores it.
func (c *NetworkCache) GetOrBuild(ctx context.Context, p Params, build BuildFunc) (*network.Graph, error) {
	if c == nil || c.client == nil {
		return build(ctx)
	}

	gen, err := c.generation(ctx)
	if err != nil {
		logger.Warn("[Cache] redis unavailable, building network", "err", err)
		return build(ctx)
	}
	key := cacheKey(gen, p)

	v, err, _ := c.group.Do(key, func() (any, error) {
		data, err := c.client.Get(ctx, key).Bytes()
		if err == nil {
			g, derr := network.Decode(data)
			if derr == nil {
				logger.Debug("[Cache] network hit", "key", key)
				return g, nil
			}
			logger.Warn("[Cache] dropping unreadable network", "key", key, "err", derr)
		} else if !errors.Is(err, redis.Nil) {
			logger.Warn("[Cache] network lookup failed", "key", key, "err", err)
		}

		g, err := build(ctx)
		if err != nil {
			return nil, err
		}
		payload, err := json.Marshal(g)
		if err != nil {
			return nil, fmt.Errorf("failed to encode network: %w", err)
		}
		if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			logger.Warn("[Cache] failed to store network", "key", key, "err", err)
		}
		return g, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*network.Graph), nil
}

// Invalidate retires every cached network. Old entries expire with their TTL.
func (c *NetworkCache) Invalidate(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	if err := c.client.Incr(ctx, generationKey).Err(); err != nil {
		return fmt.Errorf("failed to invalidate network cache: %w", err)
	}
	logger.Debug("[Cache] network cache invalidated")
	return nil
}
