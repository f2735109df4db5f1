// Copyright 2023 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package internal

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
	"github.com/heptiolabs/healthcheck"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// TieredCache keeps values in memory and, when redis is configured, in redis as a second tier
// shared by all replicas.
type TieredCache struct {
	memCache *cache.Cache
	rdb      *redis.Client

	memoryDataExpiration time.Duration
	redisDataExpiration  time.Duration
}

// CacheOptions configures a TieredCache. An empty RedisURI disables the redis tier.
type CacheOptions struct {
	RedisURI      string
	RedisPassword string
	RedisDB       int

	MemoryExpiration time.Duration
	RedisExpiration  time.Duration
}

// NewTieredCache creates a cache. It never fails: an unreachable redis only costs cache misses.
func NewTieredCache(options CacheOptions) *TieredCache {
	if options.MemoryExpiration <= 0 {
		options.MemoryExpiration = TenSeconds
	}
	if options.RedisExpiration <= 0 {
		options.RedisExpiration = options.MemoryExpiration
	}

	c := &TieredCache{
		memCache:             cache.New(options.MemoryExpiration, 2*options.MemoryExpiration),
		memoryDataExpiration: options.MemoryExpiration,
		redisDataExpiration:  options.RedisExpiration,
	}

	if options.RedisURI == "" {
		zap.S().Infof("No redis configured, caching in memory only")
		return c
	}

	zap.S().Debugf("Initializing redis cache at %s (db %d)", options.RedisURI, options.RedisDB)
	c.rdb = redis.NewClient(&redis.Options{
		Addr:     options.RedisURI,
		Password: options.RedisPassword,
		DB:       options.RedisDB,
	})
	return c
}

// IsRedisAvailable pings the redis tier
func (c *TieredCache) IsRedisAvailable(ctx context.Context) bool {
	if c.rdb == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, FiveSeconds)
	defer cancel()

	statusCmd := c.rdb.Ping(ctx)
	if statusCmd.Val() == "PONG" {
		return true
	}
	zap.S().Debugf("Redis Error: %s", statusCmd)
	return false
}

// RedisHealthCheck fails while the redis tier does not answer a ping
func RedisHealthCheck(c *TieredCache) healthcheck.Check {
	return func() error {
		if !c.IsRedisAvailable(context.Background()) {
			return errors.New("healthcheck failed to reach redis")
		}
		return nil
	}
}

// GetTiered attempts to get key from the memory cache and falls back to redis.
// A value found in redis is written back to memory.
func (c *TieredCache) GetTiered(ctx context.Context, key string, value any) bool {
	if cached, found := c.memCache.Get(key); found {
		raw, ok := cached.([]byte)
		if !ok {
			return false
		}
		return json.Unmarshal(raw, value) == nil
	}

	if c.rdb == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, c.memoryDataExpiration)
	defer cancel()

	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zap.S().Warnw("Failed to read from redis", "key", key, "error", err)
		}
		return false
	}
	if err = json.Unmarshal(raw, value); err != nil {
		zap.S().Warnw("Discarding undecodable redis value", "key", key, "error", err)
		return false
	}

	c.memCache.SetDefault(key, raw)
	return true
}

// SetTiered stores value in memory and in redis
func (c *TieredCache) SetTiered(ctx context.Context, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		zap.S().Errorw("Failed to encode cache value", "key", key, "error", err)
		return
	}
	c.memCache.SetDefault(key, raw)

	if c.rdb == nil {
		return
	}
	if err = c.rdb.Set(ctx, key, raw, c.redisDataExpiration).Err(); err != nil {
		zap.S().Warnw("Failed to write to redis", "key", key, "error", err)
	}
}

// GetCount returns the cached population size for a predicate key
func (c *TieredCache) GetCount(ctx context.Context, predicateKey string) (int, bool) {
	var count int
	if !c.GetTiered(ctx, CountCacheKey(predicateKey), &count) {
		return 0, false
	}
	return count, true
}

// SetCount caches the population size for a predicate key
func (c *TieredCache) SetCount(ctx context.Context, predicateKey string, count int) {
	c.SetTiered(ctx, CountCacheKey(predicateKey), count)
}

// Close releases the redis connection, if any
func (c *TieredCache) Close() error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
