package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/taskhive/taskhive/pkg/observability"
)

const redisBackend = "redis"

// redisKeyPrefix namespaces grant entries in a shared Redis.
const redisKeyPrefix = "taskhive:perms:role:"

// RedisPermissionCache is a PermissionCache shared across instances.
// Values are JSON slug arrays with the TTL enforced by Redis itself. A
// Redis outage degrades to loading straight from the store on every
// request; it never turns into a denial on its own.
type RedisPermissionCache struct {
	client  *redis.Client
	loader  PermissionLoader
	ttl     time.Duration
	log     *logrus.Logger
	metrics *observability.Metrics
}

var _ PermissionCache = (*RedisPermissionCache)(nil)

// NewRedisPermissionCache builds a Redis-backed cache over loader. A
// non-positive ttl gets the default; logger and metrics may be nil.
func NewRedisPermissionCache(client *redis.Client, loader PermissionLoader, ttl time.Duration, log *logrus.Logger, metrics *observability.Metrics) *RedisPermissionCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if log == nil {
		log = logrus.New()
	}

	return &RedisPermissionCache{
		client:  client,
		loader:  loader,
		ttl:     ttl,
		log:     log,
		metrics: metrics,
	}
}

func redisKey(roleID int64) string {
	return redisKeyPrefix + strconv.FormatInt(roleID, 10)
}

// Resolve implements PermissionCache.
func (c *RedisPermissionCache) Resolve(ctx context.Context, roleID int64) (GrantSet, error) {
	key := redisKey(roleID)

	payload, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var slugs []string
		if jsonErr := json.Unmarshal(payload, &slugs); jsonErr == nil {
			c.recordHit()
			return NewGrantSet(slugs...), nil
		}
		c.log.Warnf("Dropping undecodable grant entry %s", key)
		c.client.Del(ctx, key)
	case errors.Is(err, redis.Nil):
		// Plain miss, fall through to the loader.
	default:
		c.log.Warnf("Redis get failed for %s, loading from store: %v", key, err)
	}

	c.recordMiss()
	slugs, err := c.loader.GetPermissionsForRole(ctx, roleID)
	if err != nil {
		return GrantSet{}, err
	}

	if payload, err := json.Marshal(slugs); err == nil {
		if setErr := c.client.Set(ctx, key, payload, c.ttl).Err(); setErr != nil {
			c.log.Warnf("Redis set failed for %s: %v", key, setErr)
		}
	}

	return NewGrantSet(slugs...), nil
}

// Invalidate implements PermissionCache.
func (c *RedisPermissionCache) Invalidate(ctx context.Context, roleID int64) error {
	if err := c.client.Del(ctx, redisKey(roleID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate role %d: %w", roleID, err)
	}
	c.recordInvalidation("role")
	return nil
}

// InvalidateAll implements PermissionCache. It sweeps the key namespace
// with SCAN so unrelated keys in a shared Redis survive.
func (c *RedisPermissionCache) InvalidateAll(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) == 100 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to invalidate grant entries: %w", err)
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan grant entries: %w", err)
	}
	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("failed to invalidate grant entries: %w", err)
		}
	}

	c.recordInvalidation("all")
	return nil
}

func (c *RedisPermissionCache) recordHit() {
	if c.metrics != nil {
		c.metrics.PermissionCacheHitsTotal.WithLabelValues(redisBackend).Inc()
	}
}

func (c *RedisPermissionCache) recordMiss() {
	if c.metrics != nil {
		c.metrics.PermissionCacheMissesTotal.WithLabelValues(redisBackend).Inc()
	}
}

func (c *RedisPermissionCache) recordInvalidation(scope string) {
	if c.metrics != nil {
		c.metrics.PermissionCacheInvalidationsTotal.WithLabelValues(redisBackend, scope).Inc()
	}
}
