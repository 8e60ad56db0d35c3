package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/curator/pkg/observability"
	"github.com/platinummonkey/curator/pkg/storage"
	"github.com/platinummonkey/curator/pkg/storage/postgres"
)

// Version identifies the invalidation state a set was loaded under. A set
// stored with a version that has since been invalidated is never served.
type Version string

// Entry is a cached permission set.
type Entry struct {
	Set     PermissionSet `json:"set"`
	Version Version       `json:"version"`
	// Until is when the first override in the set expires; zero when none does.
	Until time.Time `json:"until"`
}

// Live reports whether the entry may still be served at now.
func (e Entry) Live(now time.Time) bool {
	return e.Until.IsZero() || now.Before(e.Until)
}

// Cache stores resolved permission sets. Implementations must be safe for
// concurrent use and must not return errors: a failing cache behaves as a miss.
//
// Callers read Version before loading a set and store the set with it, so a
// load that overlaps an invalidation lands under a dead version.
type Cache interface {
	Version(ctx context.Context, userID uuid.UUID) (Version, bool)
	Get(ctx context.Context, userID uuid.UUID) (Entry, bool)
	Set(ctx context.Context, userID uuid.UUID, entry Entry)
	InvalidateUser(ctx context.Context, userID uuid.UUID)
	InvalidateAll(ctx context.Context)
}

// LRUCache is the in-process layer. On its own it relies on the resolver's
// local invalidation; inside a TieredCache its entries are checked against
// the shared version on every hit.
type LRUCache struct {
	entries *lru.LRU[uuid.UUID, Entry]
	metrics *observability.Metrics
}

// NewLRUCache creates an LRU of size entries, each living at most ttl.
func NewLRUCache(size int, ttl time.Duration, metrics *observability.Metrics) *LRUCache {
	return &LRUCache{
		entries: lru.NewLRU[uuid.UUID, Entry](size, nil, ttl),
		metrics: metrics,
	}
}

// Version is always the empty version; local invalidation is synchronous.
func (c *LRUCache) Version(context.Context, uuid.UUID) (Version, bool) {
	return "", true
}

func (c *LRUCache) Get(ctx context.Context, userID uuid.UUID) (Entry, bool) {
	return c.getAt(userID, "")
}

// getAt returns the entry only when it was stored under ver.
func (c *LRUCache) getAt(userID uuid.UUID, ver Version) (Entry, bool) {
	e, ok := c.entries.Get(userID)
	if !ok || e.Version != ver {
		c.metrics.CacheMiss("l1")
		return Entry{}, false
	}
	c.metrics.CacheHit("l1")
	return e, true
}

func (c *LRUCache) Set(ctx context.Context, userID uuid.UUID, entry Entry) {
	c.entries.Add(userID, entry)
}

func (c *LRUCache) InvalidateUser(ctx context.Context, userID uuid.UUID) {
	c.entries.Remove(userID)
}

func (c *LRUCache) InvalidateAll(ctx context.Context) {
	c.entries.Purge()
}

// Len returns the number of live entries.
func (c *LRUCache) Len() int {
	return c.entries.Len()
}

const redisKeyPrefix = "curator:perms"

// RedisCache is the shared layer. A version combines a global generation,
// bumped by InvalidateAll, with a per-user generation, bumped by
// InvalidateUser. Data keys embed the version, so invalidation is one INCR
// and entries under dead versions age out with their TTL.
type RedisCache struct {
	client  *postgres.RedisClient
	ttl     time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewRedisCache creates a Redis-backed cache with entries living at most ttl.
func NewRedisCache(client *postgres.RedisClient, ttl time.Duration, logger *observability.Logger, metrics *observability.Metrics) *RedisCache {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &RedisCache{client: client, ttl: ttl, logger: logger, metrics: metrics, now: time.Now}
}

func (c *RedisCache) generationKey() string {
	return redisKeyPrefix + ":gen"
}

func (c *RedisCache) userGenerationKey(userID uuid.UUID) string {
	return redisKeyPrefix + ":gen:" + userID.String()
}

func (c *RedisCache) dataKey(ver Version, userID uuid.UUID) string {
	return fmt.Sprintf("%s:%s:%s", redisKeyPrefix, ver, userID)
}

// Version reads the global and per-user generations in one round trip.
func (c *RedisCache) Version(ctx context.Context, userID uuid.UUID) (Version, bool) {
	gens, err := c.client.Counters(ctx, c.generationKey(), c.userGenerationKey(userID))
	if err != nil {
		c.logger.WithError(err).Warn("Permission cache version read failed")
		return "", false
	}
	return Version(fmt.Sprintf("%d.%d", gens[0], gens[1])), true
}

func (c *RedisCache) Get(ctx context.Context, userID uuid.UUID) (Entry, bool) {
	ver, ok := c.Version(ctx, userID)
	if !ok {
		c.metrics.CacheMiss("l2")
		return Entry{}, false
	}
	return c.getAt(ctx, userID, ver)
}

func (c *RedisCache) getAt(ctx context.Context, userID uuid.UUID, ver Version) (Entry, bool) {
	var e Entry
	found, err := c.client.GetJSON(ctx, c.dataKey(ver, userID), &e)
	if err != nil {
		c.logger.WithError(err).Warn("Permission cache read failed")
	}
	if !found {
		c.metrics.CacheMiss("l2")
		return Entry{}, false
	}
	c.metrics.CacheHit("l2")
	return e, true
}

// Set stores entry under its version. The key lives until the layer TTL or
// entry.Until, whichever comes first; an entry already past Until is dropped.
func (c *RedisCache) Set(ctx context.Context, userID uuid.UUID, entry Entry) {
	if entry.Version == "" {
		ver, ok := c.Version(ctx, userID)
		if !ok {
			return
		}
		entry.Version = ver
	}

	ttl := c.ttl
	if !entry.Until.IsZero() {
		left := entry.Until.Sub(c.now())
		if left <= 0 {
			return
		}
		if ttl <= 0 || left < ttl {
			ttl = left
		}
	}
	if err := c.client.SetJSON(ctx, c.dataKey(entry.Version, userID), entry, ttl); err != nil {
		c.logger.WithError(err).Warn("Permission cache write failed")
	}
}

func (c *RedisCache) InvalidateUser(ctx context.Context, userID uuid.UUID) {
	if _, err := c.client.Incr(ctx, c.userGenerationKey(userID)); err != nil {
		c.logger.WithError(err).WithField("user_id", userID.String()).Error("Permission cache invalidation failed")
	}
}

func (c *RedisCache) InvalidateAll(ctx context.Context) {
	if _, err := c.client.Incr(ctx, c.generationKey()); err != nil {
		c.logger.WithError(err).Error("Permission cache invalidation failed")
	}
}

// TieredCache reads the in-process layer first and fills it from the shared
// layer. Every read checks the shared version, so an invalidation made by any
// process hides the in-process copies of all others. While Redis is
// unreachable every read is a miss.
type TieredCache struct {
	l1 *LRUCache
	l2 *RedisCache
}

// NewTieredCache combines both layers.
func NewTieredCache(l1 *LRUCache, l2 *RedisCache) *TieredCache {
	return &TieredCache{l1: l1, l2: l2}
}

func (c *TieredCache) Version(ctx context.Context, userID uuid.UUID) (Version, bool) {
	return c.l2.Version(ctx, userID)
}

func (c *TieredCache) Get(ctx context.Context, userID uuid.UUID) (Entry, bool) {
	ver, ok := c.l2.Version(ctx, userID)
	if !ok {
		return Entry{}, false
	}
	if e, ok := c.l1.getAt(userID, ver); ok {
		return e, true
	}
	e, ok := c.l2.getAt(ctx, userID, ver)
	if !ok {
		return Entry{}, false
	}
	c.l1.Set(ctx, userID, e)
	return e, true
}

func (c *TieredCache) Set(ctx context.Context, userID uuid.UUID, entry Entry) {
	c.l2.Set(ctx, userID, entry)
	c.l1.Set(ctx, userID, entry)
}

func (c *TieredCache) InvalidateUser(ctx context.Context, userID uuid.UUID) {
	c.l2.InvalidateUser(ctx, userID)
	c.l1.InvalidateUser(ctx, userID)
}

func (c *TieredCache) InvalidateAll(ctx context.Context) {
	c.l2.InvalidateAll(ctx)
	c.l1.InvalidateAll(ctx)
}

// NewCache assembles the cache layers described by cfg. It returns nil when
// caching is disabled. redis may be nil.
func NewCache(cfg storage.Config, redis *postgres.RedisClient, logger *observability.Logger, metrics *observability.Metrics) Cache {
	if !cfg.CacheEnabled {
		return nil
	}

	var (
		l1 *LRUCache
		l2 *RedisCache
	)
	if cfg.L1CacheSize > 0 {
		l1 = NewLRUCache(cfg.L1CacheSize, cfg.L1CacheTTL, metrics)
	}
	if redis != nil {
		l2 = NewRedisCache(redis, cfg.L2CacheTTL, logger, metrics)
	}

	switch {
	case l1 != nil && l2 != nil:
		return NewTieredCache(l1, l2)
	case l1 != nil:
		return l1
	case l2 != nil:
		return l2
	}
	return nil
}
