package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/taskhive/taskhive/pkg/observability"
)

// CacheBackend selects where resolved grant sets live.
type CacheBackend string

const (
	// CacheBackendMemory keeps a per-process LRU. Pair it with the
	// invalidation bus when running more than one instance.
	CacheBackendMemory CacheBackend = "memory"

	// CacheBackendRedis shares one cache between instances.
	CacheBackendRedis CacheBackend = "redis"
)

// Config holds RBAC wiring options.
type Config struct {
	// CacheTTL bounds how stale cached grants may get. Zero means the
	// five minute default.
	CacheTTL time.Duration

	// CacheMaxEntries caps the in-memory cache. Zero means the default.
	CacheMaxEntries int

	// CacheBackend picks the cache tier. Empty means memory.
	CacheBackend CacheBackend

	// Redis backs the shared cache tier and the invalidation bus. The
	// bus is wired whenever a client is present, whichever backend is
	// chosen.
	Redis *redis.Client
}

// DefaultConfig returns the production defaults with no Redis tier.
func DefaultConfig() Config {
	return Config{
		CacheTTL:        DefaultCacheTTL,
		CacheMaxEntries: DefaultCacheSize,
		CacheBackend:    CacheBackendMemory,
	}
}

// Manager assembles the authorization components over one database and
// owns their lifecycle.
type Manager struct {
	store      *Store
	cache      PermissionCache
	authorizer *Authorizer
	handlers   *Handlers
	bus        *InvalidationBus
	db         *sql.DB
	log        *logrus.Logger
}

// NewManager wires a store, cache, authorizer and handlers over db.
// Logger and metrics may be nil.
func NewManager(db *sql.DB, config Config, log *logrus.Logger, metrics *observability.Metrics) *Manager {
	if log == nil {
		log = logrus.New()
	}

	store := NewStore(db)

	useRedisCache := config.CacheBackend == CacheBackendRedis && config.Redis != nil
	if config.CacheBackend == CacheBackendRedis && config.Redis == nil {
		log.Warn("Redis cache backend requested without a redis client, using memory cache")
	}

	var cache PermissionCache
	if useRedisCache {
		cache = NewRedisPermissionCache(config.Redis, store, config.CacheTTL, log, metrics)
	} else {
		cache = NewMemoryPermissionCache(store, CacheConfig{TTL: config.CacheTTL, MaxEntries: config.CacheMaxEntries}, metrics)
	}

	var bus *InvalidationBus
	if config.Redis != nil {
		bus = NewInvalidationBus(config.Redis, log)
	}

	return &Manager{
		store:      store,
		cache:      cache,
		authorizer: NewAuthorizer(cache),
		handlers:   NewHandlers(store, cache, bus, log),
		bus:        bus,
		db:         db,
		log:        log,
	}
}

// Initialize runs the schema migrations and seeds the permission catalog
// and system roles. Call it once at boot, after the core schema exists.
func (m *Manager) Initialize(ctx context.Context) error {
	if err := RunMigrations(ctx, m.db, m.log); err != nil {
		return fmt.Errorf("failed to run rbac migrations: %w", err)
	}
	if err := m.store.Seed(ctx); err != nil {
		return fmt.Errorf("failed to seed rbac data: %w", err)
	}
	return nil
}

// RegisterRoutes registers the role management routes on router.
func (m *Manager) RegisterRoutes(router *mux.Router) {
	m.handlers.RegisterRoutes(router)
}

// Store returns the role store.
func (m *Manager) Store() *Store { return m.store }

// Cache returns the permission cache.
func (m *Manager) Cache() PermissionCache { return m.cache }

// Authorizer returns the authorizer.
func (m *Manager) Authorizer() *Authorizer { return m.authorizer }

// Handlers returns the role management HTTP handlers.
func (m *Manager) Handlers() *Handlers { return m.handlers }

// Bus returns the invalidation bus, nil without Redis.
func (m *Manager) Bus() *InvalidationBus { return m.bus }

// SubscribeInvalidations applies remote invalidations to the local cache
// until ctx ends. Without Redis it returns immediately.
func (m *Manager) SubscribeInvalidations(ctx context.Context) error {
	if m.bus == nil {
		return nil
	}
	return m.bus.Subscribe(ctx, m.cache)
}

// Stats summarizes the authorization data set.
type Stats struct {
	TotalRoles       int64 `json:"total_roles"`
	SystemRoles      int64 `json:"system_roles"`
	CustomRoles      int64 `json:"custom_roles"`
	CatalogSize      int64 `json:"catalog_size"`
	GrantAssignments int64 `json:"grant_assignments"`
}

// GetStats counts roles, catalog entries and grant assignments.
func (m *Manager) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM roles`).Scan(&stats.TotalRoles); err != nil {
		return nil, fmt.Errorf("failed to count roles: %w", err)
	}
	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM roles WHERE is_system = TRUE`).Scan(&stats.SystemRoles); err != nil {
		return nil, fmt.Errorf("failed to count system roles: %w", err)
	}
	stats.CustomRoles = stats.TotalRoles - stats.SystemRoles

	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM permissions`).Scan(&stats.CatalogSize); err != nil {
		return nil, fmt.Errorf("failed to count permissions: %w", err)
	}
	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM role_permissions`).Scan(&stats.GrantAssignments); err != nil {
		return nil, fmt.Errorf("failed to count grants: %w", err)
	}

	return stats, nil
}
