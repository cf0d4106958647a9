package rbac

import (
	"context"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/taskhive/taskhive/pkg/observability"
)

// DefaultCacheTTL is how long a resolved grant set stays valid. Five
// minutes bounds how stale a grant edit can look on an instance that
// missed the invalidation.
const DefaultCacheTTL = 5 * time.Minute

// DefaultCacheSize caps how many role entries the in-memory cache holds.
const DefaultCacheSize = 4096

// PermissionCache resolves a role id to its grant set, serving repeat
// lookups without store I/O until the entry expires or is invalidated.
type PermissionCache interface {
	// Resolve returns the grant set for a role. A live entry is served
	// as-is; a miss loads through the store and caches the result. Load
	// failures propagate to the caller and cache nothing.
	Resolve(ctx context.Context, roleID int64) (GrantSet, error)

	// Invalidate drops the entry for one role.
	Invalidate(ctx context.Context, roleID int64) error

	// InvalidateAll drops every entry.
	InvalidateAll(ctx context.Context) error
}

// CacheConfig tunes a permission cache.
type CacheConfig struct {
	TTL        time.Duration
	MaxEntries int
}

// DefaultCacheConfig returns the production defaults.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:        DefaultCacheTTL,
		MaxEntries: DefaultCacheSize,
	}
}

const memoryBackend = "memory"

// MemoryPermissionCache is an in-process PermissionCache over an expiring
// LRU. Entries are whole GrantSets swapped atomically, never mutated, so
// readers racing an invalidation observe either the old set or the new
// one. Concurrent misses for the same role collapse into a single store
// read.
type MemoryPermissionCache struct {
	loader  PermissionLoader
	entries *lru.LRU[int64, GrantSet]
	group   singleflight.Group
	metrics *observability.Metrics
}

var _ PermissionCache = (*MemoryPermissionCache)(nil)

// NewMemoryPermissionCache builds an in-process cache over loader. Zero
// config fields get the defaults; metrics may be nil.
func NewMemoryPermissionCache(loader PermissionLoader, config CacheConfig, metrics *observability.Metrics) *MemoryPermissionCache {
	if config.TTL <= 0 {
		config.TTL = DefaultCacheTTL
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultCacheSize
	}

	return &MemoryPermissionCache{
		loader:  loader,
		entries: lru.NewLRU[int64, GrantSet](config.MaxEntries, nil, config.TTL),
		metrics: metrics,
	}
}

// Resolve implements PermissionCache.
func (c *MemoryPermissionCache) Resolve(ctx context.Context, roleID int64) (GrantSet, error) {
	if set, ok := c.entries.Get(roleID); ok {
		c.recordHit()
		return set, nil
	}

	v, err, _ := c.group.Do(strconv.FormatInt(roleID, 10), func() (any, error) {
		// A flight that just finished may have filled the entry while
		// this caller was queued behind it.
		if set, ok := c.entries.Get(roleID); ok {
			c.recordHit()
			return set, nil
		}

		c.recordMiss()
		slugs, err := c.loader.GetPermissionsForRole(ctx, roleID)
		if err != nil {
			return GrantSet{}, err
		}

		set := NewGrantSet(slugs...)
		c.entries.Add(roleID, set)
		c.recordSize()
		return set, nil
	})
	if err != nil {
		return GrantSet{}, err
	}
	return v.(GrantSet), nil
}

// Invalidate implements PermissionCache.
func (c *MemoryPermissionCache) Invalidate(ctx context.Context, roleID int64) error {
	c.entries.Remove(roleID)
	c.recordInvalidation("role")
	c.recordSize()
	return nil
}

// InvalidateAll implements PermissionCache.
func (c *MemoryPermissionCache) InvalidateAll(ctx context.Context) error {
	c.entries.Purge()
	c.recordInvalidation("all")
	c.recordSize()
	return nil
}

// Len returns the number of live entries.
func (c *MemoryPermissionCache) Len() int {
	return c.entries.Len()
}

func (c *MemoryPermissionCache) recordHit() {
	if c.metrics != nil {
		c.metrics.PermissionCacheHitsTotal.WithLabelValues(memoryBackend).Inc()
	}
}

func (c *MemoryPermissionCache) recordMiss() {
	if c.metrics != nil {
		c.metrics.PermissionCacheMissesTotal.WithLabelValues(memoryBackend).Inc()
	}
}

func (c *MemoryPermissionCache) recordInvalidation(scope string) {
	if c.metrics != nil {
		c.metrics.PermissionCacheInvalidationsTotal.WithLabelValues(memoryBackend, scope).Inc()
	}
}

func (c *MemoryPermissionCache) recordSize() {
	if c.metrics != nil {
		c.metrics.PermissionCacheEntries.WithLabelValues(memoryBackend).Set(float64(c.entries.Len()))
	}
}
