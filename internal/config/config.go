package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	MongoDB   MongoDBConfig
	Redis     RedisConfig
	Radius    RadiusConfig
	IPaymu    IPaymuConfig
	JWT       JWTConfig
	Scheduler SchedulerConfig
	Usage     UsageConfig
	OTEL      OTELConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port      string
	NasSecret string // shared secret the NAS signs accounting posts with
}

// MongoDBConfig holds MongoDB connection configuration
type MongoDBConfig struct {
	URI      string
	Database string
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string
	Password string
}

// RadiusConfig holds the AAA provisioning store configuration. When BaseURL
// is empty the in-memory mock store is used.
type RadiusConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// IPaymuConfig holds payment gateway configuration. When APIKey is empty
// the mock gateway is used.
type IPaymuConfig struct {
	VA        string
	APIKey    string
	BaseURL   string
	NotifyURL string
}

// JWTConfig holds operator API auth configuration
type JWTConfig struct {
	Secret string
}

// SchedulerConfig holds lifecycle scheduler configuration
type SchedulerConfig struct {
	Interval          time.Duration
	LockTTL           time.Duration
	AutoRenewWindow   time.Duration // how far before expiry renewal charges are attempted
	ExpiryWarnWindow  time.Duration // how far before expiry the warning notification fires
	RefundRecheckAge  time.Duration // how old a processing refund must be before re-checking
	ReconcileBatchMax int64
}

// UsageConfig holds usage threshold configuration
type UsageConfig struct {
	ApproachingPercent float64 // snapshot flags "approaching" at this percentage
	SnapshotTTL        time.Duration
}

// OTELConfig holds OpenTelemetry configuration
type OTELConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string
	Endpoint       string
	InstanceID     string
	Token          string
}

// Load reads configuration from environment variables
// It attempts to load from .env file first, then falls back to system env vars
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:      getEnv("PORT", "8080"),
			NasSecret: getEnv("NAS_SHARED_SECRET", ""),
		},
		MongoDB: MongoDBConfig{
			URI:      getEnv("MONGODB_URI", "mongodb://localhost:27017"),
			Database: getEnv("MONGODB_DATABASE", "prepaidnet"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
		},
		Radius: RadiusConfig{
			BaseURL: getEnv("RADIUS_API_URL", ""),
			Token:   getEnv("RADIUS_API_TOKEN", ""),
			Timeout: getEnvAsDuration("RADIUS_TIMEOUT", 10*time.Second),
		},
		IPaymu: IPaymuConfig{
			VA:        getEnv("IPAYMU_VA", ""),
			APIKey:    getEnv("IPAYMU_API_KEY", ""),
			BaseURL:   getEnv("IPAYMU_BASE_URL", "https://sandbox.ipaymu.com"),
			NotifyURL: getEnv("PAYMENT_NOTIFY_URL", ""),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
		},
		Scheduler: SchedulerConfig{
			Interval:          getEnvAsDuration("SCHEDULER_INTERVAL", time.Minute),
			LockTTL:           getEnvAsDuration("SCHEDULER_LOCK_TTL", 5*time.Minute),
			AutoRenewWindow:   getEnvAsDuration("AUTO_RENEW_WINDOW", 15*time.Minute),
			ExpiryWarnWindow:  getEnvAsDuration("EXPIRY_WARN_WINDOW", 24*time.Hour),
			RefundRecheckAge:  getEnvAsDuration("REFUND_RECHECK_AGE", 10*time.Minute),
			ReconcileBatchMax: getEnvAsInt64("RECONCILE_BATCH_MAX", 200),
		},
		Usage: UsageConfig{
			ApproachingPercent: getEnvAsFloat("USAGE_APPROACHING_PERCENT", 90),
			SnapshotTTL:        getEnvAsDuration("USAGE_SNAPSHOT_TTL", 30*time.Second),
		},
		OTEL: OTELConfig{
			Enabled:        getEnvAsBool("OTEL_ENABLED", false),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "prepaidnet"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
			Environment:    getEnv("OTEL_ENVIRONMENT", "development"),
			Endpoint:       getEnv("OTEL_ENDPOINT", ""),
			InstanceID:     getEnv("OTEL_INSTANCE_ID", ""),
			Token:          getEnv("OTEL_TOKEN", ""),
		},
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Server.NasSecret == "" {
		return fmt.Errorf("NAS_SHARED_SECRET is required")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("SCHEDULER_INTERVAL must be positive")
	}
	if c.Usage.ApproachingPercent <= 0 || c.Usage.ApproachingPercent > 100 {
		return fmt.Errorf("USAGE_APPROACHING_PERCENT must be in (0, 100]")
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt64 retrieves an environment variable as int64 or returns a default value
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat retrieves an environment variable as float64 or returns a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool retrieves an environment variable as bool or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration retrieves an environment variable as a duration string
// (e.g. "90s", "5m") or returns a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
