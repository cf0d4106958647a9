package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/taskhive/taskhive/pkg/observability"
)

// RateLimitConfig describes one limiter tier.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
	BurstSize         int
}

// DefaultRateLimitConfig is the anonymous tier, keyed by client IP.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 100,
		WindowDuration:    time.Minute,
		BurstSize:         10,
	}
}

// PerUserRateLimitConfig is the tier for authenticated callers, keyed by
// user ID.
func PerUserRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 1000,
		WindowDuration:    time.Minute,
		BurstSize:         50,
	}
}

// PerOrgRateLimitConfig is the aggregate tier across everyone acting in one
// organization, keyed by organization ID. It caps what a whole tenant can
// send regardless of how many members share the load.
func PerOrgRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 5000,
		WindowDuration:    time.Minute,
		BurstSize:         100,
	}
}

// tokenBucket is the per-key refill state. Each bucket carries its own
// mutex so hot keys do not serialize against each other.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// RateLimiter is an in-memory token bucket limiter. Buckets refill
// continuously at RequestsPerWindow per WindowDuration up to a cap of
// RequestsPerWindow+BurstSize.
//
// State is process-local; behind a load balancer each instance enforces its
// own share. Use DistributedRateLimiter when the fleet must share one
// budget.
type RateLimiter struct {
	config  *RateLimitConfig
	mu      sync.RWMutex
	buckets map[string]*tokenBucket
}

// NewRateLimiter creates a limiter. A nil config gets the default tier.
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	return &RateLimiter{
		config:  config,
		buckets: make(map[string]*tokenBucket),
	}
}

func (l *RateLimiter) bucket(key string) *tokenBucket {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.buckets[key]; ok {
		return b
	}
	b = &tokenBucket{
		tokens:     float64(l.config.RequestsPerWindow + l.config.BurstSize),
		lastRefill: time.Now(),
	}
	l.buckets[key] = b
	return b
}

// refillLocked advances the bucket to now. Caller holds b.mu.
func (l *RateLimiter) refillLocked(b *tokenBucket) {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}
	rate := float64(l.config.RequestsPerWindow) / l.config.WindowDuration.Seconds()
	b.tokens += elapsed.Seconds() * rate
	max := float64(l.config.RequestsPerWindow + l.config.BurstSize)
	if b.tokens > max {
		b.tokens = max
	}
	b.lastRefill = now
}

// Allow consumes one token for key, reporting whether one was available.
func (l *RateLimiter) Allow(key string) bool {
	b := l.bucket(key)
	b.mu.Lock()
	defer b.mu.Unlock()

	l.refillLocked(b)
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Remaining returns the whole tokens currently available for key without
// consuming any.
func (l *RateLimiter) Remaining(key string) int {
	b := l.bucket(key)
	b.mu.Lock()
	defer b.mu.Unlock()

	l.refillLocked(b)
	return int(b.tokens)
}

// Cleanup drops buckets idle for more than two windows. Idle buckets are
// full anyway; dropping them only frees memory.
func (l *RateLimiter) Cleanup() {
	cutoff := time.Now().Add(-2 * l.config.WindowDuration)

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		b.mu.Lock()
		stale := b.lastRefill.Before(cutoff)
		b.mu.Unlock()
		if stale {
			delete(l.buckets, key)
		}
	}
}

// StartCleanup runs Cleanup once per window until ctx is cancelled.
func (l *RateLimiter) StartCleanup(ctx context.Context) {
	log := observability.NewLogger(observability.InfoLevel, nil)
	go func() {
		defer observability.RecoverPanic(log, "rate limiter cleanup")

		ticker := time.NewTicker(l.config.WindowDuration)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Cleanup()
			}
		}
	}()
}

// RateLimitMiddleware applies per-caller and per-organization limits.
// Authenticated requests draw from the caller's user bucket and, when the
// identity is org-bound, from the organization's aggregate bucket; anonymous
// requests draw from a per-IP bucket. It reads the identity Guard stored,
// so it runs after Guard on protected routes and falls back to IP keying
// everywhere else.
type RateLimitMiddleware struct {
	userLimiter      *RateLimiter
	orgLimiter       *RateLimiter
	anonymousLimiter *RateLimiter
}

// NewRateLimitMiddleware creates the middleware with the standard tiers.
func NewRateLimitMiddleware() *RateLimitMiddleware {
	return &RateLimitMiddleware{
		userLimiter:      NewRateLimiter(PerUserRateLimitConfig()),
		orgLimiter:       NewRateLimiter(PerOrgRateLimitConfig()),
		anonymousLimiter: NewRateLimiter(DefaultRateLimitConfig()),
	}
}

// StartCleanup starts the bucket sweepers for all tiers.
func (m *RateLimitMiddleware) StartCleanup(ctx context.Context) {
	m.userLimiter.StartCleanup(ctx)
	m.orgLimiter.StartCleanup(ctx)
	m.anonymousLimiter.StartCleanup(ctx)
}

// Handler enforces the limits and sets X-RateLimit headers on every
// response.
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limiter := m.anonymousLimiter
		key := "ip:" + getClientIP(r)

		identity, authenticated := IdentityFromContext(r.Context())
		if authenticated {
			limiter = m.userLimiter
			key = "user:" + strconv.FormatInt(identity.UserID, 10)

			// The tenant-wide budget is drawn first so a denied request
			// consumes nothing from the caller's own bucket.
			if identity.OrgBound() {
				orgKey := "org:" + strconv.FormatInt(*identity.OrganizationID, 10)
				if !m.orgLimiter.Allow(orgKey) {
					writeRateLimitExceeded(w, m.orgLimiter.config, int(m.orgLimiter.config.WindowDuration.Seconds()))
					return
				}
			}
		}

		if !limiter.Allow(key) {
			writeRateLimitExceeded(w, limiter.config, int(limiter.config.WindowDuration.Seconds()))
			return
		}

		setRateLimitHeaders(w, limiter.config, limiter.Remaining(key))
		next.ServeHTTP(w, r)
	})
}

func setRateLimitHeaders(w http.ResponseWriter, config *RateLimitConfig, remaining int) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(config.RequestsPerWindow))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(config.WindowDuration).Unix(), 10))
}

func writeRateLimitExceeded(w http.ResponseWriter, config *RateLimitConfig, retryAfter int) {
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(config.RequestsPerWindow))
	w.Header().Set("X-RateLimit-Remaining", "0")
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Duration(retryAfter)*time.Second).Unix(), 10))
	w.WriteHeader(http.StatusTooManyRequests)
	fmt.Fprintf(w, `{"error":"rate limit exceeded","retry_after":%d}`, retryAfter)
}

// getClientIP extracts the client address, trusting proxy headers when
// present.
func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
