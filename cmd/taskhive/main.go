package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/taskhive/taskhive/pkg/api"
	"github.com/taskhive/taskhive/pkg/auth"
	"github.com/taskhive/taskhive/pkg/config"
	"github.com/taskhive/taskhive/pkg/middleware"
	"github.com/taskhive/taskhive/pkg/observability"
	"github.com/taskhive/taskhive/pkg/orgs"
	"github.com/taskhive/taskhive/pkg/rbac"
	"github.com/taskhive/taskhive/pkg/storage"
	"github.com/taskhive/taskhive/pkg/storage/postgres"
	"github.com/taskhive/taskhive/pkg/tasks"
)

func main() {
	attachmentsDir := flag.String("attachments-dir",
		filepath.Join(os.TempDir(), "taskhive-attachments"),
		"Directory for task attachments when S3 is not configured")
	skipMigrations := flag.Bool("skip-migrations", false,
		"Skip schema migrations on boot (set when migrations run out of band)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logrusLog := newLogrusLogger(cfg.Observability.LogLevel)

	// Background context for watchers and subscriptions; cancelled during
	// shutdown so they drain before the process exits.
	appCtx, cancelApp := context.WithCancel(context.Background())
	defer cancelApp()

	var providers *observability.OTelProviders
	if cfg.Observability.OTelEnabled {
		providers, err = observability.InitOTel(appCtx, observability.OTelConfig{
			Enabled:        true,
			Endpoint:       cfg.Observability.OTelEndpoint,
			ServiceName:    cfg.Observability.OTelServiceName,
			ServiceVersion: cfg.Observability.OTelServiceVersion,
			Insecure:       cfg.Observability.OTelInsecure,
		}, logger)
		if err != nil {
			log.Fatalf("Failed to initialize OpenTelemetry: %v", err)
		}
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	// Database: primary plus optional read replicas.
	connections, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
		PrimaryURL:  cfg.Storage.PostgresURL,
		ReplicaURLs: postgres.ParseReplicaURLs(cfg.Storage.PostgresReplicaURLs),
		MaxConns:    cfg.Storage.PostgresMaxConns,
		MinConns:    cfg.Storage.PostgresMinConns,
		Timeout:     cfg.Storage.PostgresTimeout,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	db := connections.Primary()
	connections.StartHealthCheckRoutine(appCtx, 30*time.Second)

	if !*skipMigrations {
		if err := postgres.RunCoreMigrations(appCtx, db, logrusLog); err != nil {
			log.Fatalf("Failed to run core migrations: %v", err)
		}
	}

	// Redis is optional: with it the permission cache can be shared and
	// invalidations broadcast across instances; without it each instance
	// keeps a local cache.
	var redisClient *postgres.RedisClient
	if cfg.Storage.RedisURL != "" {
		redisClient, err = postgres.NewRedisClient(cfg.Storage)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
	}

	rbacConfig := rbac.Config{
		CacheTTL:        cfg.Authz.CacheTTL,
		CacheMaxEntries: cfg.Authz.CacheMaxEntries,
		CacheBackend:    rbac.CacheBackend(cfg.Authz.CacheBackend),
	}
	if redisClient != nil {
		rbacConfig.Redis = redisClient.GetClient()
	}
	manager := rbac.NewManager(db, rbacConfig, logrusLog, metrics)
	if !*skipMigrations {
		if err := manager.Initialize(appCtx); err != nil {
			log.Fatalf("Failed to initialize authorization data: %v", err)
		}
	}
	if manager.Bus() != nil {
		go func() {
			defer observability.RecoverPanic(logger, "invalidation subscriber")
			if err := manager.SubscribeInvalidations(appCtx); err != nil && appCtx.Err() == nil {
				logger.WithError(err).Error("invalidation subscription ended")
			}
		}()
	}

	orgService := orgs.NewPostgresService(db)

	verifiers := auth.NewVerifierMux(metrics)
	if cfg.Auth.APITokensEnabled {
		verifiers.RegisterPrefix("api_token", auth.TokenPrefix, auth.NewAPITokenVerifier(orgService))
	}
	verifiers.Register("jwt", auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer))
	if cfg.Auth.OIDCIssuer != "" {
		oidc, err := auth.NewOIDCVerifier(appCtx, cfg.Auth.OIDCIssuer, cfg.Auth.OIDCAudience, orgService)
		if err != nil {
			log.Fatalf("Failed to initialize OIDC verifier: %v", err)
		}
		verifiers.Register("oidc", oidc)
	}

	resolver := auth.NewResolver(verifiers, orgService, orgService, logger)
	pipeline := middleware.NewPipeline(resolver, manager.Authorizer(), metrics, logger)
	policies := middleware.NewPolicyStore(logger)
	guard := middleware.NewGuard(pipeline, policies, logger)

	var rateLimit func(http.Handler) http.Handler
	if redisClient != nil {
		rateLimit = middleware.NewDistributedRateLimitMiddleware(redisClient.GetClient(), true, logger).Handler
	} else {
		limiter := middleware.NewRateLimitMiddleware()
		limiter.StartCleanup(appCtx)
		rateLimit = limiter.Handler
	}

	var blobs storage.BlobStorage
	if cfg.Storage.S3Bucket != "" {
		blobs, err = postgres.NewS3Storage(cfg.Storage)
		if err != nil {
			log.Fatalf("Failed to initialize S3 storage: %v", err)
		}
	} else {
		blobs, err = storage.NewFilesystemStorage(*attachmentsDir)
		if err != nil {
			log.Fatalf("Failed to initialize attachment storage: %v", err)
		}
		logger.Infof("attachments stored on local disk at %s", *attachmentsDir)
	}

	var rawRedis *redis.Client
	if redisClient != nil {
		rawRedis = redisClient.GetClient()
	}
	health := observability.NewHealthChecker(db, rawRedis)

	server := api.NewServer(cfg.Server, api.Deps{
		Guard:      guard,
		Policies:   policies,
		OrgContext: middleware.NewOrganizationContext(orgService, logger),
		Quota:      middleware.NewQuotaMiddleware(orgService, logger),
		RateLimit:  rateLimit,
		Orgs:       orgService,
		RBAC:       manager,
		Tasks:      tasks.NewHandlers(tasks.NewStore(db), blobs, logrusLog),
		Metrics:    metrics,
		Health:     health,
		Registry:   registry,
		Log:        logger,
	})

	// The route table is seeded by NewServer; a policy file loaded after
	// that overrides individual routes without touching the code.
	if cfg.Authz.PolicyFile != "" {
		if err := policies.LoadFile(cfg.Authz.PolicyFile); err != nil {
			log.Fatalf("Failed to load policy file: %v", err)
		}
		if cfg.Authz.PolicyReload {
			go func() {
				defer observability.RecoverPanic(logger, "policy watcher")
				if err := policies.Watch(appCtx, cfg.Authz.PolicyFile); err != nil && appCtx.Err() == nil {
					logger.WithError(err).Error("policy watcher stopped")
				}
			}()
		}
	}

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	shutdown := observability.NewShutdownManager(logger, nil, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(server.Shutdown)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		cancelApp()
		return nil
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return connections.Close()
	})
	if redisClient != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return redisClient.Close()
		})
	}
	if providers != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, providers, logger)
		})
	}

	if err := shutdown.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("shutdown finished with errors")
		os.Exit(1)
	}
}

func newLogrusLogger(level observability.LogLevel) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.JSONFormatter{})
	switch level {
	case observability.DebugLevel:
		l.SetLevel(logrus.DebugLevel)
	case observability.WarnLevel:
		l.SetLevel(logrus.WarnLevel)
	case observability.ErrorLevel:
		l.SetLevel(logrus.ErrorLevel)
	default:
		l.SetLevel(logrus.InfoLevel)
	}
	return l
}
