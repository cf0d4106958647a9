package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/taskhive/taskhive/pkg/observability"
	"github.com/taskhive/taskhive/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Authentication configuration
	Auth AuthConfig

	// Authorization configuration
	Authz AuthzConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// AuthConfig holds token verification settings
type AuthConfig struct {
	// HS256 signing secret for first-party session tokens
	JWTSecret string
	JWTIssuer string

	// OIDC settings for federated identity tokens. Empty issuer disables
	// the OIDC verifier.
	OIDCIssuer   string
	OIDCAudience string

	// Opaque API tokens for programmatic access
	APITokensEnabled bool
	APITokenTTL      time.Duration
}

// AuthzConfig holds permission cache and policy settings
type AuthzConfig struct {
	// CacheTTL bounds how stale a role's permission set may be after an
	// out-of-band grant change. Writers invalidate explicitly; the TTL
	// is the backstop.
	CacheTTL        time.Duration
	CacheMaxEntries int

	// CacheBackend selects "memory" or "redis"
	CacheBackend string

	// PolicyFile optionally overrides route requirements from YAML
	PolicyFile   string
	PolicyReload bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Auth:          loadAuthConfig(),
		Authz:         loadAuthzConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("TASKHIVE_HOST", "0.0.0.0"),
		Port:            getEnv("TASKHIVE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("TASKHIVE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("TASKHIVE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("TASKHIVE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("TASKHIVE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("TASKHIVE_HEALTH_PORT", "9090"),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	// PostgreSQL config
	if pgURL := getEnv("TASKHIVE_POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if replicaURLs := getEnv("TASKHIVE_POSTGRES_REPLICA_URLS", ""); replicaURLs != "" {
		cfg.PostgresReplicaURLs = replicaURLs
	}
	if maxConns := getEnvInt("TASKHIVE_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("TASKHIVE_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("TASKHIVE_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	// Redis config
	if redisURL := getEnv("TASKHIVE_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("TASKHIVE_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("TASKHIVE_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("TASKHIVE_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("TASKHIVE_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	// S3 config
	if s3Endpoint := getEnv("TASKHIVE_S3_ENDPOINT", ""); s3Endpoint != "" {
		cfg.S3Endpoint = s3Endpoint
	}
	if s3Region := getEnv("TASKHIVE_S3_REGION", ""); s3Region != "" {
		cfg.S3Region = s3Region
	}
	if s3Bucket := getEnv("TASKHIVE_S3_BUCKET", ""); s3Bucket != "" {
		cfg.S3Bucket = s3Bucket
	}
	if s3AccessKey := getEnv("TASKHIVE_S3_ACCESS_KEY", ""); s3AccessKey != "" {
		cfg.S3AccessKey = s3AccessKey
	}
	if s3SecretKey := getEnv("TASKHIVE_S3_SECRET_KEY", ""); s3SecretKey != "" {
		cfg.S3SecretKey = s3SecretKey
	}
	if s3UsePathStyle := getEnv("TASKHIVE_S3_USE_PATH_STYLE", ""); s3UsePathStyle != "" {
		cfg.S3UsePathStyle = strings.ToLower(s3UsePathStyle) == "true"
	}
	if s3ForcePathStyle := getEnv("TASKHIVE_S3_FORCE_PATH_STYLE", ""); s3ForcePathStyle != "" {
		cfg.S3ForcePathStyle = strings.ToLower(s3ForcePathStyle) == "true"
	}

	return cfg
}

// loadAuthConfig loads authentication configuration from environment
func loadAuthConfig() AuthConfig {
	return AuthConfig{
		JWTSecret:        getEnv("TASKHIVE_JWT_SECRET", ""),
		JWTIssuer:        getEnv("TASKHIVE_JWT_ISSUER", "taskhive"),
		OIDCIssuer:       getEnv("TASKHIVE_OIDC_ISSUER", ""),
		OIDCAudience:     getEnv("TASKHIVE_OIDC_AUDIENCE", "taskhive"),
		APITokensEnabled: getEnvBool("TASKHIVE_API_TOKENS_ENABLED", true),
		APITokenTTL:      getEnvDuration("TASKHIVE_API_TOKEN_TTL", 90*24*time.Hour),
	}
}

// loadAuthzConfig loads authorization configuration from environment
func loadAuthzConfig() AuthzConfig {
	return AuthzConfig{
		CacheTTL:        getEnvDuration("TASKHIVE_AUTHZ_CACHE_TTL", 5*time.Minute),
		CacheMaxEntries: getEnvInt("TASKHIVE_AUTHZ_CACHE_MAX_ENTRIES", 4096),
		CacheBackend:    getEnv("TASKHIVE_AUTHZ_CACHE_BACKEND", "memory"),
		PolicyFile:      getEnv("TASKHIVE_AUTHZ_POLICY_FILE", ""),
		PolicyReload:    getEnvBool("TASKHIVE_AUTHZ_POLICY_RELOAD", true),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	cfg := ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("TASKHIVE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("TASKHIVE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("TASKHIVE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("TASKHIVE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("TASKHIVE_OTEL_SERVICE_NAME", "taskhive"),
		OTelServiceVersion: getEnv("TASKHIVE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("TASKHIVE_OTEL_INSECURE", true),
	}

	return cfg
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	// Validate storage config
	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	// Validate auth config: at least one way to verify a presented token
	if c.Auth.JWTSecret == "" && c.Auth.OIDCIssuer == "" && !c.Auth.APITokensEnabled {
		return fmt.Errorf("no token verifier configured: set a JWT secret, an OIDC issuer, or enable API tokens")
	}

	// Validate authz config
	if c.Authz.CacheTTL <= 0 {
		return fmt.Errorf("authz cache TTL must be positive")
	}
	if c.Authz.CacheMaxEntries <= 0 {
		return fmt.Errorf("authz cache max entries must be positive")
	}
	switch c.Authz.CacheBackend {
	case "memory":
	case "redis":
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("redis URL is required for redis cache backend")
		}
	default:
		return fmt.Errorf("invalid authz cache backend: %s (must be memory or redis)", c.Authz.CacheBackend)
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
