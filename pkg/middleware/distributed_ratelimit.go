package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/taskhive/taskhive/pkg/observability"
)

// rateLimitKeyPrefix namespaces limiter counters in Redis.
const rateLimitKeyPrefix = "taskhive:ratelimit:"

// DistributedRateLimiter enforces fixed-window limits through Redis so
// every instance behind the load balancer draws from the same budget.
//
// The limiter fails open: when Redis is unreachable, Allow reports true
// alongside the error. An infrastructure outage must not turn into a
// platform-wide 429; callers that want degraded enforcement instead wire an
// in-memory fallback through DistributedRateLimitMiddleware.
type DistributedRateLimiter struct {
	client *redis.Client
	config *RateLimitConfig
	prefix string
}

// NewDistributedRateLimiter creates a limiter over a Redis client. A nil
// config gets the default tier.
func NewDistributedRateLimiter(client *redis.Client, config *RateLimitConfig) *DistributedRateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	return &DistributedRateLimiter{
		client: client,
		config: config,
		prefix: rateLimitKeyPrefix,
	}
}

func (l *DistributedRateLimiter) capacity() int64 {
	return int64(l.config.RequestsPerWindow + l.config.BurstSize)
}

// Allow counts one request against key's current window. The window starts
// with the first request and expires WindowDuration later.
func (l *DistributedRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := l.prefix + key

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return true, fmt.Errorf("rate limit check failed: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, l.config.WindowDuration).Err(); err != nil {
			return true, fmt.Errorf("rate limit window set failed: %w", err)
		}
	}

	if count > l.capacity() {
		// A counter that lost its window (crash between INCR and EXPIRE)
		// would deny forever; re-arm it so the denial heals itself.
		if ttl, terr := l.client.TTL(ctx, redisKey).Result(); terr == nil && ttl < 0 {
			l.client.Expire(ctx, redisKey, l.config.WindowDuration)
		}
		return false, nil
	}
	return true, nil
}

// Remaining reports how many requests key has left in its current window.
func (l *DistributedRateLimiter) Remaining(ctx context.Context, key string) (int, error) {
	count, err := l.client.Get(ctx, l.prefix+key).Int()
	if err == redis.Nil {
		return int(l.capacity()), nil
	}
	if err != nil {
		return 0, fmt.Errorf("rate limit read failed: %w", err)
	}
	remaining := int(l.capacity()) - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// ResetAt reports when key's current window expires. Without a live counter
// (or without Redis) it assumes a full window from now.
func (l *DistributedRateLimiter) ResetAt(ctx context.Context, key string) time.Time {
	ttl, err := l.client.TTL(ctx, l.prefix+key).Result()
	if err != nil || ttl < 0 {
		return time.Now().Add(l.config.WindowDuration)
	}
	return time.Now().Add(ttl)
}

// HealthCheck verifies the Redis connection.
func (l *DistributedRateLimiter) HealthCheck(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("rate limiter redis unavailable: %w", err)
	}
	return nil
}

// Stats returns the live counters by key, prefix stripped. Debug surface;
// it scans the keyspace and is not meant for the request path.
func (l *DistributedRateLimiter) Stats(ctx context.Context) (map[string]int64, error) {
	stats := make(map[string]int64)
	iter := l.client.Scan(ctx, 0, l.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		redisKey := iter.Val()
		count, err := l.client.Get(ctx, redisKey).Int64()
		if err != nil {
			continue
		}
		stats[strings.TrimPrefix(redisKey, l.prefix)] = count
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("rate limit stats scan failed: %w", err)
	}
	return stats, nil
}

// DistributedRateLimitMiddleware applies the same tiers as
// RateLimitMiddleware but with fleet-wide budgets held in Redis. When Redis
// is unreachable it either fails open or, with a fallback configured,
// degrades to per-instance in-memory enforcement.
type DistributedRateLimitMiddleware struct {
	user      *DistributedRateLimiter
	org       *DistributedRateLimiter
	anonymous *DistributedRateLimiter
	memory    *RateLimitMiddleware
	log       *observability.Logger
}

// NewDistributedRateLimitMiddleware creates the middleware over a Redis
// client. With fallback true, Redis outages degrade to in-memory limiting
// at the same tiers instead of disabling limits entirely.
func NewDistributedRateLimitMiddleware(client *redis.Client, fallback bool, log *observability.Logger) *DistributedRateLimitMiddleware {
	if log == nil {
		log = observability.NewLogger(observability.InfoLevel, nil)
	}
	m := &DistributedRateLimitMiddleware{
		user:      NewDistributedRateLimiter(client, PerUserRateLimitConfig()),
		org:       NewDistributedRateLimiter(client, PerOrgRateLimitConfig()),
		anonymous: NewDistributedRateLimiter(client, DefaultRateLimitConfig()),
		log:       log,
	}
	if fallback {
		m.memory = NewRateLimitMiddleware()
	}
	return m
}

// HealthCheck verifies the shared Redis connection.
func (m *DistributedRateLimitMiddleware) HealthCheck(ctx context.Context) error {
	return m.user.HealthCheck(ctx)
}

// Handler enforces the limits and sets X-RateLimit headers on every
// response. Like RateLimitMiddleware it keys authenticated traffic by user
// and organization, so it runs after Guard on protected routes.
func (m *DistributedRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	var fallbackChain http.Handler
	if m.memory != nil {
		fallbackChain = m.memory.Handler(next)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		limiter := m.anonymous
		key := "ip:" + getClientIP(r)

		identity, authenticated := IdentityFromContext(ctx)
		if authenticated {
			limiter = m.user
			key = "user:" + strconv.FormatInt(identity.UserID, 10)

			if identity.OrgBound() {
				orgKey := "org:" + strconv.FormatInt(*identity.OrganizationID, 10)
				allowed, err := m.org.Allow(ctx, orgKey)
				// An org-tier Redis error falls through; the user-tier call
				// below hits the same Redis and handles the outage once.
				if err == nil && !allowed {
					writeRateLimitExceeded(w, m.org.config, retryAfterSeconds(ctx, m.org, orgKey))
					return
				}
			}
		}

		allowed, err := limiter.Allow(ctx, key)
		if err != nil {
			m.log.WithError(err).Warn("distributed rate limit unavailable")
			if fallbackChain != nil {
				fallbackChain.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			writeRateLimitExceeded(w, limiter.config, retryAfterSeconds(ctx, limiter, key))
			return
		}

		if remaining, err := limiter.Remaining(ctx, key); err == nil {
			setRateLimitHeaders(w, limiter.config, remaining)
		}
		next.ServeHTTP(w, r)
	})
}

func retryAfterSeconds(ctx context.Context, l *DistributedRateLimiter, key string) int {
	return int(time.Until(l.ResetAt(ctx, key)).Seconds()) + 1
}
