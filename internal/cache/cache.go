/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based caching layer for per-user derived data.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/kith/internal/availability"
	"github.com/friendsincode/kith/internal/events"
	"github.com/friendsincode/kith/internal/followup"
	"github.com/friendsincode/kith/internal/telemetry"
)

// Default TTL values for different cache types
const (
	DefaultSlotsTTL = 5 * time.Minute
	DefaultFeedTTL  = 1 * time.Minute
)

// Key prefixes for Redis cache
const (
	keyRoot  = "kith:cache:"
	KeySlots = keyRoot + "slots:" // + user_id
	KeyFeed  = keyRoot + "feed:"  // + user_id
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// TTL overrides
	SlotsTTL time.Duration
	FeedTTL  time.Duration

	// Fallback behavior
	DisableOnError bool // If true, disable caching on Redis errors
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		SlotsTTL:       DefaultSlotsTTL,
		FeedTTL:        DefaultFeedTTL,
		DisableOnError: true,
	}
}

// Cache provides Redis-backed caching with graceful fallback.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // Circuit breaker state
}

// New creates a new cache instance. An unreachable Redis yields a disabled cache, not an error.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		_ = client.Close()
		return Disabled(logger), nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")

	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}, nil
}

// Disabled returns a cache that misses on every read and ignores writes.
func Disabled(logger zerolog.Logger) *Cache {
	return &Cache{
		logger:   logger.With().Str("component", "cache").Logger(),
		config:   DefaultConfig(),
		disabled: true,
	}
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// handleError handles Redis errors with circuit breaker logic.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || errors.Is(err, redis.Nil) {
		return
	}

	telemetry.CacheOperations.WithLabelValues("error").Inc()
	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

// get retrieves a value from cache and unmarshals it.
func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		telemetry.CacheOperations.WithLabelValues("miss").Inc()
		return false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false, nil
	}

	telemetry.CacheOperations.WithLabelValues("hit").Inc()
	return true, nil
}

// set stores a value in cache with TTL.
func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}

	return nil
}

// delete removes keys from cache.
func (c *Cache) delete(ctx context.Context, keys ...string) error {
	if !c.IsAvailable() || len(keys) == 0 {
		return nil
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}

	return nil
}

// deletePattern deletes all keys matching a pattern.
func (c *Cache) deletePattern(ctx context.Context, pattern string) error {
	if !c.IsAvailable() {
		return nil
	}

	// SCAN rather than KEYS so large keyspaces do not block Redis
	var cursor uint64
	for {
		keys, nextCursor, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.handleError(err, "scan")
			return err
		}

		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.handleError(err, "delete_batch")
				return err
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return nil
}

// Free slot caching

// CachedAvailability holds the busy intervals behind a user's free slots. Slots are
// recomputed from it on every read so the notice window follows the caller's clock.
type CachedAvailability struct {
	Busy       []availability.BusyInterval `json:"busy"`
	Options    availability.Options        `json:"options"`
	ComputedAt time.Time                   `json:"computed_at"`
}

// GetAvailability retrieves cached busy intervals fetched with the same options.
func (c *Cache) GetAvailability(ctx context.Context, userID string, opts availability.Options) (*CachedAvailability, bool) {
	var cached CachedAvailability
	found, err := c.get(ctx, KeySlots+userID, &cached)
	if err != nil || !found || cached.Options != opts {
		return nil, false
	}
	c.logger.Debug().Str("user_id", userID).Int("busy", len(cached.Busy)).Msg("availability cache hit")
	return &cached, true
}

// SetAvailability caches busy intervals for a user.
func (c *Cache) SetAvailability(ctx context.Context, userID string, cached *CachedAvailability) error {
	return c.set(ctx, KeySlots+userID, cached, c.config.SlotsTTL)
}

// Feed caching

// CachedFeed is the store read behind a user's feed. Ranking always runs at read time.
type CachedFeed struct {
	Contacts []followup.Contact `json:"contacts"`
	LoadedAt time.Time          `json:"loaded_at"`
}

// GetFeed retrieves the cached contact snapshots for a user.
func (c *Cache) GetFeed(ctx context.Context, userID string) (*CachedFeed, bool) {
	var cached CachedFeed
	found, err := c.get(ctx, KeyFeed+userID, &cached)
	if err != nil || !found {
		return nil, false
	}
	return &cached, true
}

// SetFeed caches contact snapshots for a user.
func (c *Cache) SetFeed(ctx context.Context, userID string, feed *CachedFeed) error {
	return c.set(ctx, KeyFeed+userID, feed, c.config.FeedTTL)
}

// InvalidateUser removes every cached entry for a user.
func (c *Cache) InvalidateUser(ctx context.Context, userID string) error {
	c.logger.Debug().Str("user_id", userID).Msg("invalidating user caches")
	return c.delete(ctx, KeySlots+userID, KeyFeed+userID)
}

// FlushAll removes all cached data (use sparingly).
func (c *Cache) FlushAll(ctx context.Context) error {
	c.logger.Warn().Msg("flushing all cache data")
	return c.deletePattern(ctx, keyRoot+"*")
}

// InvalidationKeys returns the cache keys an event makes stale.
func InvalidationKeys(eventType events.EventType, payload events.Payload) []string {
	userID := payload.UserID()
	if userID == "" {
		return nil
	}
	switch eventType {
	case events.EventCatchupScheduled, events.EventCalendarConnected, events.EventCalendarDisconnected:
		return []string{KeySlots + userID, KeyFeed + userID}
	case events.EventContactCreated, events.EventContactUpdated, events.EventContactDeleted,
		events.EventContactSnoozed, events.EventContactFollowedUp, events.EventContactDone,
		events.EventContactReactivated, events.EventShareAccepted:
		return []string{KeyFeed + userID}
	default:
		return nil
	}
}

type invalidation struct {
	eventType events.EventType
	payload   events.Payload
}

// Listen drops stale entries as bus events arrive, until ctx is cancelled.
func (c *Cache) Listen(ctx context.Context, bus events.Broker) {
	merged := make(chan invalidation, 32)
	subs := make(map[events.EventType]events.Subscriber)

	var wg sync.WaitGroup
	for _, et := range events.AllEventTypes() {
		if InvalidationKeys(et, events.Payload{"user_id": "probe"}) == nil {
			continue
		}
		sub := bus.Subscribe(et)
		subs[et] = sub

		wg.Add(1)
		go func(et events.EventType, sub events.Subscriber) {
			defer wg.Done()
			for p := range sub {
				select {
				case merged <- invalidation{eventType: et, payload: p}:
				case <-ctx.Done():
					return
				}
			}
		}(et, sub)
	}

	defer func() {
		for et, sub := range subs {
			bus.Unsubscribe(et, sub)
		}
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-merged:
			keys := InvalidationKeys(msg.eventType, msg.payload)
			if err := c.delete(ctx, keys...); err != nil {
				c.logger.Debug().Err(err).Str("event_type", string(msg.eventType)).Msg("cache invalidation failed")
			}
		}
	}
}
