package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/platinummonkey/loanadmin/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Cache         CacheConfig
	RateLimit     RateLimitConfig
	Audit         AuditConfig
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
	MaxBodyBytes    int64
	CORSOrigins     []string

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
	AutoMigrate     bool
}

// RedisConfig holds Redis settings; an empty URL disables Redis
type RedisConfig struct {
	URL        string
	MaxRetries int
	PoolSize   int
}

// CacheConfig controls the permission cache. It is off by default so every
// request re-reads role permissions from the database.
type CacheConfig struct {
	Enabled  bool
	L1Size   int
	L1TTL    time.Duration
	RedisTTL time.Duration
}

// RateLimitConfig bounds requests per caller. Limits are shared through
// Redis when it is configured.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerWindow int
	Window            time.Duration
	Burst             int
}

// AuditConfig controls audit sinks and retention
type AuditConfig struct {
	DBEnabled         bool
	StreamEnabled     bool
	RetentionDays     int
	RetentionSchedule string

	ArchiveEnabled bool
	S3Bucket       string
	S3Prefix       string
	S3Region       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables. Any env files
// given (or ./.env when none are) are loaded first without overriding
// variables already set in the process environment.
func LoadConfig(envFiles ...string) (*Config, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}

	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Cache:         loadCacheConfig(),
		RateLimit:     loadRateLimitConfig(),
		Audit:         loadAuditConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("failed to load env files: %w", err)
	}
	return nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("LOANADMIN_HOST", "0.0.0.0"),
		Port:            getEnv("LOANADMIN_PORT", "8080"),
		ReadTimeout:     getEnvDuration("LOANADMIN_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("LOANADMIN_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("LOANADMIN_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("LOANADMIN_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("LOANADMIN_MAX_BODY_BYTES", 1<<20),
		CORSOrigins:     getEnvList("LOANADMIN_CORS_ORIGINS"),
		HealthPort:      getEnv("LOANADMIN_HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("LOANADMIN_DATABASE_URL", ""),
		MaxOpenConns:    getEnvInt("LOANADMIN_DATABASE_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvInt("LOANADMIN_DATABASE_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("LOANADMIN_DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		ConnMaxIdleTime: getEnvDuration("LOANADMIN_DATABASE_CONN_MAX_IDLE_TIME", time.Minute),
		ConnectTimeout:  getEnvDuration("LOANADMIN_DATABASE_CONNECT_TIMEOUT", 10*time.Second),
		AutoMigrate:     getEnvBool("LOANADMIN_DATABASE_AUTO_MIGRATE", true),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:        getEnv("LOANADMIN_REDIS_URL", ""),
		MaxRetries: getEnvInt("LOANADMIN_REDIS_MAX_RETRIES", 3),
		PoolSize:   getEnvInt("LOANADMIN_REDIS_POOL_SIZE", 10),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:  getEnvBool("LOANADMIN_CACHE_ENABLED", false),
		L1Size:   getEnvInt("LOANADMIN_CACHE_L1_SIZE", 1024),
		L1TTL:    getEnvDuration("LOANADMIN_CACHE_L1_TTL", 30*time.Second),
		RedisTTL: getEnvDuration("LOANADMIN_CACHE_REDIS_TTL", 5*time.Minute),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           getEnvBool("LOANADMIN_RATE_LIMIT_ENABLED", false),
		RequestsPerWindow: getEnvInt("LOANADMIN_RATE_LIMIT_REQUESTS", 600),
		Window:            getEnvDuration("LOANADMIN_RATE_LIMIT_WINDOW", time.Minute),
		Burst:             getEnvInt("LOANADMIN_RATE_LIMIT_BURST", 50),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		DBEnabled:         getEnvBool("LOANADMIN_AUDIT_DB_ENABLED", true),
		StreamEnabled:     getEnvBool("LOANADMIN_AUDIT_STREAM_ENABLED", true),
		RetentionDays:     getEnvInt("LOANADMIN_AUDIT_RETENTION_DAYS", 0),
		RetentionSchedule: getEnv("LOANADMIN_AUDIT_RETENTION_SCHEDULE", "0 3 * * *"),
		ArchiveEnabled:    getEnvBool("LOANADMIN_AUDIT_ARCHIVE_ENABLED", false),
		S3Bucket:          getEnv("LOANADMIN_AUDIT_S3_BUCKET", ""),
		S3Prefix:          getEnv("LOANADMIN_AUDIT_S3_PREFIX", "audit/"),
		S3Region:          getEnv("LOANADMIN_AUDIT_S3_REGION", "us-east-1"),
		S3Endpoint:        getEnv("LOANADMIN_AUDIT_S3_ENDPOINT", ""),
		S3AccessKey:       getEnv("LOANADMIN_AUDIT_S3_ACCESS_KEY", ""),
		S3SecretKey:       getEnv("LOANADMIN_AUDIT_S3_SECRET_KEY", ""),
		S3UsePathStyle:    getEnvBool("LOANADMIN_AUDIT_S3_USE_PATH_STYLE", false),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("LOANADMIN_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("LOANADMIN_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("LOANADMIN_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("LOANADMIN_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("LOANADMIN_OTEL_SERVICE_NAME", "loanadmin"),
		OTelServiceVersion: getEnv("LOANADMIN_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("LOANADMIN_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}
	if c.Database.MaxOpenConns < c.Database.MaxIdleConns {
		return fmt.Errorf("database max open conns (%d) must be >= max idle conns (%d)",
			c.Database.MaxOpenConns, c.Database.MaxIdleConns)
	}

	if c.Cache.Enabled && c.Cache.L1Size <= 0 {
		return fmt.Errorf("cache L1 size must be positive when the cache is enabled")
	}

	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.Window <= 0) {
		return fmt.Errorf("rate limit requests and window must be positive when rate limiting is enabled")
	}

	if c.Audit.RetentionDays < 0 {
		return fmt.Errorf("audit retention days cannot be negative")
	}
	if c.Audit.ArchiveEnabled {
		if c.Audit.RetentionDays == 0 {
			return fmt.Errorf("audit archive requires a retention period")
		}
		if c.Audit.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required when the audit archive is enabled")
		}
	}

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

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
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

// getEnvList splits a comma separated variable, dropping blanks
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
