package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"

	"github.com/taskhive/taskhive/pkg/orgs"
	"github.com/taskhive/taskhive/pkg/rbac"
	"github.com/taskhive/taskhive/pkg/storage"
	"github.com/taskhive/taskhive/pkg/storage/postgres"
)

// lockKey serializes janitor runs across replicas. Whoever grabs the lock
// does the sweep; the others skip the tick.
const lockKey = "taskhive:janitor:lock"

var (
	dbURL           = flag.String("db-url", getEnv("DATABASE_URL", "postgres://localhost/taskhive?sslmode=disable"), "PostgreSQL connection URL")
	redisURL        = flag.String("redis-url", getEnv("REDIS_URL", ""), "Redis URL for the run lock and cache invalidation broadcast (optional)")
	tokenSchedule   = flag.String("token-schedule", "20 0 * * *", "Cron schedule for expired token purges (default: 00:20 UTC)")
	pendingSchedule = flag.String("pending-schedule", "40 0 * * *", "Cron schedule for pending membership sweeps (default: 00:40 UTC)")
	flushSchedule   = flag.String("flush-schedule", "0 1 * * *", "Cron schedule for the permission cache flush (default: 01:00 UTC)")
	tokenRetention  = flag.Duration("token-retention", 30*24*time.Hour, "How long expired or revoked tokens are kept before deletion")
	pendingMaxAge   = flag.Duration("pending-max-age", 14*24*time.Hour, "How long a pending membership may sit unaccepted")
	runOnce         = flag.Bool("run-once", false, "Run all jobs once and exit (for testing)")
)

func main() {
	flag.Parse()

	db, err := sql.Open("postgres", *dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	var redisClient *redis.Client
	if *redisURL != "" {
		rc, err := postgres.NewRedisClient(storage.Config{RedisURL: *redisURL})
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer rc.Close()
		redisClient = rc.GetClient()
	}

	janitor := &janitor{
		service: orgs.NewPostgresService(db),
		redis:   redisClient,
	}
	if redisClient != nil {
		janitor.bus = rbac.NewInvalidationBus(redisClient, nil)
	}

	if *runOnce {
		ctx := context.Background()
		janitor.purgeTokens(ctx)
		janitor.sweepPending(ctx)
		janitor.flushCache(ctx)
		log.Println("Janitor run completed")
		return
	}

	c := cron.New()

	_, err = c.AddFunc(*tokenSchedule, func() {
		janitor.withLock(context.Background(), "token purge", janitor.purgeTokens)
	})
	if err != nil {
		log.Fatalf("Failed to schedule token purge: %v", err)
	}

	_, err = c.AddFunc(*pendingSchedule, func() {
		janitor.withLock(context.Background(), "pending sweep", janitor.sweepPending)
	})
	if err != nil {
		log.Fatalf("Failed to schedule pending membership sweep: %v", err)
	}

	_, err = c.AddFunc(*flushSchedule, func() {
		janitor.withLock(context.Background(), "cache flush", janitor.flushCache)
	})
	if err != nil {
		log.Fatalf("Failed to schedule cache flush: %v", err)
	}

	c.Start()
	log.Println("TaskHive janitor started")
	log.Printf("Token purge schedule: %s (retention %s)", *tokenSchedule, *tokenRetention)
	log.Printf("Pending membership sweep schedule: %s (max age %s)", *pendingSchedule, *pendingMaxAge)
	log.Printf("Cache flush schedule: %s", *flushSchedule)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutting down gracefully...")

	ctx := c.Stop()
	<-ctx.Done()

	log.Println("Janitor stopped")
}

type janitor struct {
	service *orgs.PostgresService
	redis   *redis.Client
	bus     *rbac.InvalidationBus
}

// withLock runs job under the shared redis lock so concurrent janitor
// replicas do not double-run a tick. Without redis the job just runs.
func (j *janitor) withLock(ctx context.Context, name string, job func(context.Context)) {
	if j.redis != nil {
		ok, err := j.redis.SetNX(ctx, lockKey, name, 10*time.Minute).Result()
		if err != nil {
			log.Printf("Lock acquisition for %s failed, running anyway: %v", name, err)
		} else if !ok {
			log.Printf("Skipping %s: another janitor holds the lock", name)
			return
		} else {
			defer j.redis.Del(ctx, lockKey)
		}
	}

	job(ctx)
}

func (j *janitor) purgeTokens(ctx context.Context) {
	purged, err := j.service.PurgeExpiredTokens(ctx, *tokenRetention)
	if err != nil {
		log.Printf("Token purge failed: %v", err)
		return
	}
	log.Printf("Purged %d expired or revoked tokens", purged)
}

func (j *janitor) sweepPending(ctx context.Context) {
	swept, err := j.service.SweepPendingMemberships(ctx, *pendingMaxAge)
	if err != nil {
		log.Printf("Pending membership sweep failed: %v", err)
		return
	}
	log.Printf("Swept %d stale pending memberships", swept)
}

// flushCache broadcasts a full permission cache invalidation. Grant edits
// invalidate precisely as they happen; the nightly flush clears anything a
// missed message could have left behind.
func (j *janitor) flushCache(ctx context.Context) {
	if j.bus == nil {
		log.Println("Cache flush skipped: no redis configured")
		return
	}
	if err := j.bus.PublishAll(ctx); err != nil {
		log.Printf("Cache flush broadcast failed: %v", err)
		return
	}
	log.Println("Broadcast full permission cache invalidation")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
