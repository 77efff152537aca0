package service

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/cdss-mcp-server/internal/attribution"
	"github.com/cdss-mcp-server/internal/domain"
	"github.com/cdss-mcp-server/internal/features"
	"github.com/cdss-mcp-server/internal/metrics"
)

const (
	defaultCacheItems = 1024
	defaultCacheTTL   = time.Hour
	redisKeyPrefix    = "cdss:explanation:"

	// Cache tiers as reported to metrics.
	TierLocal = "local"
	TierRedis = "redis"
)

// ExplanationCache memoises explanations per artifact version and feature
// vector. The in-process LRU is always present; the Redis tier is optional and
// sits behind a circuit breaker so an unavailable Redis degrades to misses.
type ExplanationCache struct {
	local   *lru.Cache[string, attribution.Explanation]
	redis   *redis.Client
	breaker *gobreaker.CircuitBreaker
	ttl     time.Duration
	logger  *logrus.Logger
}

// CachedExplanation is the Redis payload.
type CachedExplanation struct {
	Explanation attribution.Explanation `json:"explanation"`
	CachedAt    time.Time               `json:"cached_at"`
}

// NewExplanationCache builds the cache from configuration. An empty RedisURL
// keeps the cache process-local.
func NewExplanationCache(cfg domain.CacheConfig, logger *logrus.Logger) (*ExplanationCache, error) {
	var client *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		if cfg.PoolSize > 0 {
			opts.PoolSize = cfg.PoolSize
		}
		if cfg.PoolTimeout > 0 {
			opts.PoolTimeout = cfg.PoolTimeout
		}
		if cfg.MaxRetries != 0 {
			opts.MaxRetries = cfg.MaxRetries
		}
		client = redis.NewClient(opts)
	}
	return NewExplanationCacheWithClient(cfg.MaxItems, client, cfg.DefaultTTL, logger)
}

// NewExplanationCacheWithClient wires an existing Redis client, which may be nil.
func NewExplanationCacheWithClient(size int, client *redis.Client, ttl time.Duration, logger *logrus.Logger) (*ExplanationCache, error) {
	if size <= 0 {
		size = defaultCacheItems
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	local, err := lru.New[string, attribution.Explanation](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create explanation cache: %w", err)
	}

	c := &ExplanationCache{local: local, redis: client, ttl: ttl, logger: logger}
	if client != nil {
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "ExplanationRedis",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.WithFields(logrus.Fields{
					"circuit_breaker": name,
					"from_state":      from.String(),
					"to_state":        to.String(),
				}).Warn("Circuit breaker state changed")
			},
		})
	}
	return c, nil
}

// CacheKey derives the key for vector v explained against artifact version
// with the given permutation samples and seed. Values are hashed by their
// exact bit patterns.
func CacheKey(version string, samples int, seed int64, v features.Vector) string {
	h := sha256.New()
	h.Write([]byte(version))
	h.Write([]byte{0})
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(samples))
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(seed))
	h.Write(buf[:])
	for _, x := range v.Values() {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(x))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get looks the key up in the local tier, then in Redis. A Redis hit is
// promoted to the local tier. Redis failures count as misses.
func (c *ExplanationCache) Get(ctx context.Context, key string) (attribution.Explanation, bool) {
	if exp, ok := c.local.Get(key); ok {
		metrics.RecordCacheLookup(TierLocal, true)
		return exp, true
	}
	metrics.RecordCacheLookup(TierLocal, false)
	if c.redis == nil {
		return attribution.Explanation{}, false
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		val, err := c.redis.Get(ctx, redisKeyPrefix+key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return val, err
	})
	if err != nil {
		c.logger.WithError(err).Debug("Redis explanation lookup failed")
		metrics.RecordCacheLookup(TierRedis, false)
		return attribution.Explanation{}, false
	}
	raw, _ := out.([]byte)
	if raw == nil {
		metrics.RecordCacheLookup(TierRedis, false)
		return attribution.Explanation{}, false
	}

	var cached CachedExplanation
	if err := json.Unmarshal(raw, &cached); err != nil {
		c.redis.Del(ctx, redisKeyPrefix+key)
		metrics.RecordCacheLookup(TierRedis, false)
		return attribution.Explanation{}, false
	}
	metrics.RecordCacheLookup(TierRedis, true)
	c.local.Add(key, cached.Explanation)
	return cached.Explanation, true
}

// Set stores exp in both tiers. A Redis failure is logged, not returned.
func (c *ExplanationCache) Set(ctx context.Context, key string, exp attribution.Explanation) {
	c.local.Add(key, exp)
	if c.redis == nil {
		return
	}
	payload, err := json.Marshal(CachedExplanation{Explanation: exp, CachedAt: time.Now()})
	if err != nil {
		c.logger.WithError(err).Warn("Failed to marshal explanation for cache")
		return
	}
	_, err = c.breaker.Execute(func() (interface{}, error) {
		return nil, c.redis.Set(ctx, redisKeyPrefix+key, payload, c.ttl).Err()
	})
	if err != nil {
		c.logger.WithError(err).Debug("Redis explanation store failed")
	}
}

// Purge drops the local tier. Redis entries expire on their own and are keyed
// by artifact version, so stale versions are never served.
func (c *ExplanationCache) Purge() { c.local.Purge() }

// Len returns the number of locally cached explanations.
func (c *ExplanationCache) Len() int { return c.local.Len() }

// BreakerState reports the Redis circuit breaker state, or "disabled".
func (c *ExplanationCache) BreakerState() string {
	if c.breaker == nil {
		return "disabled"
	}
	return c.breaker.State().String()
}

// Close releases the Redis client.
func (c *ExplanationCache) Close() error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Close()
}
