package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/rusuite/website/internal/middleware"
)

const DefaultTargetCacheTTL = 5 * time.Minute

// CacheService is a Redis cache-aside layer for target lookups. Every call
// goes through a circuit breaker so a failing Redis degrades to database reads
// instead of adding latency to each vote.
type CacheService struct {
	rdb *redis.Client
	cb  *gobreaker.CircuitBreaker
	ttl time.Duration

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewCacheService creates a new CacheService. If redisURL is empty or connection
// fails, it returns a CacheService with a nil client (cache operations become no-ops).
func NewCacheService(redisURL string, ttl time.Duration) *CacheService {
	log := middleware.Logger.With().Str("component", "redis").Logger()
	if ttl <= 0 {
		ttl = DefaultTargetCacheTTL
	}

	if redisURL == "" {
		log.Info().Msg("no URL configured, caching disabled")
		return &CacheService{ttl: ttl}
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Warn().Err(err).Msg("invalid URL, caching disabled")
		return &CacheService{ttl: ttl}
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("connection failed, caching disabled")
		_ = rdb.Close()
		return &CacheService{ttl: ttl}
	}

	log.Info().Dur("ttl", ttl).Msg("connected, caching enabled")
	return newCacheService(rdb, ttl)
}

func newCacheService(rdb *redis.Client, ttl time.Duration) *CacheService {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis-target-cache",
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			middleware.Logger.Warn().
				Str("component", "redis").
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})
	return &CacheService{rdb: rdb, cb: cb, ttl: ttl}
}

// Client returns the underlying Redis client (for health checks). May be nil.
func (c *CacheService) Client() *redis.Client {
	return c.rdb
}

// Enabled reports whether a Redis client is configured.
func (c *CacheService) Enabled() bool {
	return c.rdb != nil
}

// GetTarget returns the cached votability of a target. found is false on a
// miss, when caching is disabled, or when the breaker is open.
func (c *CacheService) GetTarget(ctx context.Context, targetID string) (votable, found bool, err error) {
	if c.rdb == nil {
		return false, false, nil
	}

	v, err := c.cb.Execute(func() (interface{}, error) {
		val, err := c.rdb.Get(ctx, targetKey(targetID)).Result()
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return val, err
	})
	if err != nil {
		c.misses.Add(1)
		return false, false, err
	}

	switch v.(string) {
	case "1":
		c.hits.Add(1)
		return true, true, nil
	case "0":
		c.hits.Add(1)
		return false, true, nil
	default:
		c.misses.Add(1)
		return false, false, nil
	}
}

// SetTarget stores a target's votability.
func (c *CacheService) SetTarget(ctx context.Context, targetID string, votable bool) error {
	if c.rdb == nil {
		return nil
	}
	val := "0"
	if votable {
		val = "1"
	}
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.rdb.Set(ctx, targetKey(targetID), val, c.ttl).Err()
	})
	return err
}

// InvalidateTargets removes targets from cache (called after listing changes).
func (c *CacheService) InvalidateTargets(ctx context.Context, targetIDs ...string) error {
	if c.rdb == nil || len(targetIDs) == 0 {
		return nil
	}
	keys := make([]string, len(targetIDs))
	for i, id := range targetIDs {
		keys[i] = targetKey(id)
	}
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.rdb.Del(ctx, keys...).Err()
	})
	return err
}

// Ping checks Redis directly, bypassing the breaker so readiness reflects
// the real connection state.
func (c *CacheService) Ping(ctx context.Context) error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Ping(ctx).Err()
}

// Hits returns the number of cache hits since startup.
func (c *CacheService) Hits() uint64 { return c.hits.Load() }

// Misses returns the number of cache misses since startup.
func (c *CacheService) Misses() uint64 { return c.misses.Load() }

// Close shuts down the Redis connection.
func (c *CacheService) Close() error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

func targetKey(targetID string) string {
	return fmt.Sprintf("server:%s", targetID)
}
