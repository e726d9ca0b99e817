package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "ENV", "LOG_LEVEL", "LOG_FORMAT", "STORE_BACKEND", "STORE_DIR",
		"DATABASE_URL", "REDIS_URL", "NATS_URL", "JWT_SECRET", "JWT_TTL", "DEV_HEADERS",
		"CORS_ORIGINS", "STRICT_PLANS", "RENEWAL_SCHEDULE", "RATE_LIMIT_RPM", "RATE_LIMIT_BURST",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, DefaultRenewalSchedule, cfg.RenewalSchedule)
	assert.Equal(t, DefaultJWTTTL, cfg.JWTTTL)
	assert.False(t, cfg.StrictPlans)
	assert.True(t, cfg.DevHeaders, "development without a secret accepts header identities")
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_BACKEND", "SQLite")
	t.Setenv("STORE_DIR", "/tmp/hms")
	t.Setenv("STRICT_PLANS", "true")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("JWT_TTL", "30m")
	t.Setenv("CORS_ORIGINS", "https://a.example, ,https://b.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, BackendSQLite, cfg.StoreBackend)
	assert.True(t, cfg.StrictPlans)
	assert.False(t, cfg.DevHeaders)
	assert.Equal(t, 30*time.Minute, cfg.JWTTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestLoad_InvalidBackend(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_BACKEND", "mongo")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORE_BACKEND")
}

func TestConfig_Validate(t *testing.T) {
	base := func() Config {
		return Config{
			Env:             "development",
			StoreBackend:    BackendMemory,
			RenewalSchedule: "@hourly",
			RateLimitRPM:    60,
			RateLimitBurst:  10,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid memory", func(*Config) {}, ""},
		{"postgres without url", func(c *Config) { c.StoreBackend = BackendPostgres }, "DATABASE_URL"},
		{"redis without url", func(c *Config) { c.StoreBackend = BackendRedis }, "REDIS_URL"},
		{"file without dir", func(c *Config) { c.StoreBackend = BackendFile }, "STORE_DIR"},
		{"production without secret", func(c *Config) { c.Env = "production" }, "JWT_SECRET is required"},
		{"production short secret", func(c *Config) {
			c.Env = "production"
			c.JWTSecret = "short"
		}, "at least 32"},
		{"production dev headers", func(c *Config) {
			c.Env = "production"
			c.JWTSecret = "0123456789abcdef0123456789abcdef"
			c.DevHeaders = true
		}, "DEV_HEADERS"},
		{"empty schedule", func(c *Config) { c.RenewalSchedule = "" }, "RENEWAL_SCHEDULE"},
		{"zero rate", func(c *Config) { c.RateLimitRPM = 0 }, "RATE_LIMIT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
