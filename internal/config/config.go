// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Tenant state persistence
	StoreBackend string
	StoreDir     string
	DatabaseURL  string
	RedisURL     string
	RedisPrefix  string

	// Events
	NATSURL string

	// Identity
	JWTSecret   string
	JWTIssuer   string
	JWTTTL      time.Duration
	DevHeaders  bool // accept X-Role / X-Tenant-ID without a token
	CORSOrigins []string

	// Subscription behaviour
	StrictPlans     bool
	RenewalSchedule string

	// Payments
	StripeSecretKey string

	// Observability
	OTLPEndpoint string
	Version      string

	RateLimitRPM   int
	RateLimitBurst int
}

// Defaults
const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultStoreDir        = "./data"
	DefaultJWTIssuer       = "hms"
	DefaultJWTTTL          = 12 * time.Hour
	DefaultRenewalSchedule = "@hourly"
	DefaultRateLimitRPM    = 600
	DefaultRateLimitBurst  = 50
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	env := getEnv("ENV", DefaultEnv)
	cfg := &Config{
		Port:            getEnv("PORT", DefaultPort),
		Env:             env,
		LogLevel:        getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:       getEnv("LOG_FORMAT", DefaultLogFormat),
		StoreBackend:    strings.ToLower(getEnv("STORE_BACKEND", BackendMemory)),
		StoreDir:        getEnv("STORE_DIR", DefaultStoreDir),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		RedisPrefix:     getEnv("REDIS_PREFIX", "hms:"),
		NATSURL:         os.Getenv("NATS_URL"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		JWTIssuer:       getEnv("JWT_ISSUER", DefaultJWTIssuer),
		JWTTTL:          getEnvDuration("JWT_TTL", DefaultJWTTTL),
		CORSOrigins:     splitList(os.Getenv("CORS_ORIGINS")),
		StrictPlans:     getEnvBool("STRICT_PLANS", false),
		RenewalSchedule: getEnv("RENEWAL_SCHEDULE", DefaultRenewalSchedule),
		StripeSecretKey: os.Getenv("STRIPE_SECRET_KEY"),
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Version:         getEnv("VERSION", "dev"),
		RateLimitRPM:    int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		RateLimitBurst:  int(getEnvInt64("RATE_LIMIT_BURST", DefaultRateLimitBurst)),
	}
	// Header identities are a development convenience only.
	cfg.DevHeaders = getEnvBool("DEV_HEADERS", env == "development" && cfg.JWTSecret == "")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is coherent
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory:
	case BackendFile, BackendSQLite:
		if c.StoreDir == "" {
			return fmt.Errorf("STORE_DIR is required for STORE_BACKEND=%s", c.StoreBackend)
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for STORE_BACKEND=postgres")
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for STORE_BACKEND=redis")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be one of memory, file, sqlite, postgres, redis (got %q)", c.StoreBackend)
	}

	if c.IsProduction() {
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
		if len(c.JWTSecret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
		}
		if c.DevHeaders {
			return fmt.Errorf("DEV_HEADERS cannot be enabled in production")
		}
	}

	if c.RenewalSchedule == "" {
		return fmt.Errorf("RENEWAL_SCHEDULE cannot be empty")
	}
	if c.RateLimitRPM <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPM and RATE_LIMIT_BURST must be positive")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
