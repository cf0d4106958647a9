// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	TASKHIVE_HOST="0.0.0.0"
//	TASKHIVE_PORT="8080"
//	TASKHIVE_HEALTH_PORT="9090"
//	TASKHIVE_READ_TIMEOUT="15s"
//	TASKHIVE_WRITE_TIMEOUT="15s"
//
// Storage settings:
//
//	TASKHIVE_POSTGRES_URL="postgres://localhost/taskhive"
//	TASKHIVE_POSTGRES_REPLICA_URLS="postgres://replica1/taskhive,postgres://replica2/taskhive"
//	TASKHIVE_POSTGRES_MAX_CONNS="20"
//	TASKHIVE_REDIS_URL="localhost:6379"
//	TASKHIVE_S3_BUCKET="taskhive-attachments"
//	TASKHIVE_S3_REGION="us-east-1"
//
// Authentication settings:
//
//	TASKHIVE_JWT_SECRET="..."
//	TASKHIVE_JWT_ISSUER="taskhive"
//	TASKHIVE_OIDC_ISSUER="https://accounts.example.com"
//	TASKHIVE_OIDC_AUDIENCE="taskhive"
//	TASKHIVE_API_TOKENS_ENABLED="true"
//
// Authorization settings:
//
//	TASKHIVE_AUTHZ_CACHE_TTL="5m"
//	TASKHIVE_AUTHZ_CACHE_MAX_ENTRIES="4096"
//	TASKHIVE_AUTHZ_CACHE_BACKEND="memory"  # memory, redis
//	TASKHIVE_AUTHZ_POLICY_FILE="/etc/taskhive/policy.yaml"
//
// Observability settings:
//
//	TASKHIVE_LOG_LEVEL="info"  # debug, info, warn, error
//	TASKHIVE_METRICS_ENABLED="true"
//	TASKHIVE_OTEL_ENABLED="true"
//	TASKHIVE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Cache TTL: %s\n", cfg.Authz.CacheTTL)
//	fmt.Printf("Log level: %s\n", cfg.Observability.LogLevel)
//
// # Related Packages
//
//   - pkg/storage: Uses storage configuration
//   - pkg/observability: Uses observability configuration
package config
