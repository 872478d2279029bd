package scan

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// analysisTTL bounds how stale a cached instrument analysis may be.
const analysisTTL = 5 * time.Minute

// Cache stores per-instrument analyses between scan cycles.
type Cache interface {
	Get(ctx context.Context, instrument string) (Analysis, bool)
	Set(ctx context.Context, instrument string, a Analysis)
}

// NewCache returns a Redis-backed cache when addr is set and reachable,
// otherwise a process-local cache.
func NewCache(ctx context.Context, addr, password string, db int, log zerolog.Logger) Cache {
	if addr == "" {
		return NewLocalCache()
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", addr).Msg("redis unreachable, using local cache")
		return NewLocalCache()
	}
	return &RedisCache{client: client, log: log}
}

// RedisCache shares analyses across processes with a TTL enforced by Redis.
type RedisCache struct {
	client *redis.Client
	log    zerolog.Logger
}

func cacheKey(instrument string) string {
	return "cointrader:scan:" + instrument
}

func (c *RedisCache) Get(ctx context.Context, instrument string) (Analysis, bool) {
	raw, err := c.client.Get(ctx, cacheKey(instrument)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Debug().Err(err).Str("instrument", instrument).Msg("cache read failed")
		}
		return Analysis{}, false
	}
	var a Analysis
	if err := json.Unmarshal(raw, &a); err != nil {
		return Analysis{}, false
	}
	return a, true
}

func (c *RedisCache) Set(ctx context.Context, instrument string, a Analysis) {
	raw, err := json.Marshal(a)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(instrument), raw, analysisTTL).Err(); err != nil {
		c.log.Debug().Err(err).Str("instrument", instrument).Msg("cache write failed")
	}
}

// LocalCache is the in-process fallback when Redis is not configured.
type LocalCache struct {
	mu      sync.Mutex
	entries map[string]localEntry
}

type localEntry struct {
	analysis Analysis
	expires  time.Time
}

func NewLocalCache() *LocalCache {
	return &LocalCache{entries: make(map[string]localEntry)}
}

func (c *LocalCache) Get(_ context.Context, instrument string) (Analysis, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[instrument]
	if !ok || time.Now().After(e.expires) {
		delete(c.entries, instrument)
		return Analysis{}, false
	}
	return e.analysis, true
}

func (c *LocalCache) Set(_ context.Context, instrument string, a Analysis) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[instrument] = localEntry{analysis: a, expires: time.Now().Add(analysisTTL)}
}
