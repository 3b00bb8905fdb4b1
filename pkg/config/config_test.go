package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("PORT", "8080")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , https://b.example ")
	t.Setenv("CATALOG_CACHE_TTL", "30s")
	t.Setenv("STRIPE_CURRENCY", " EUR ")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 30*time.Second, cfg.CatalogCacheTTL)
	assert.Equal(t, "eur", cfg.StripeCurrency)
	assert.Equal(t, 20.0, cfg.PlatformFeePercent)
	assert.True(t, cfg.UseLocalDB)
	assert.True(t, cfg.IsDevelopment())
	assert.NoError(t, cfg.Validate())
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("PORT", "8080")

	fs := FlagSet()
	require.NoError(t, fs.Parse([]string{"-p", "9000", "--log-level", "trace"}))

	cfg, err := Load(fs)
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "trace", cfg.LogLevel)
}

func TestPostgresDisablesLocalStore(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("POSTGRES_DSN", " postgres://localhost/kaboom ")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.False(t, cfg.UseLocalDB)
	assert.Equal(t, "postgres://localhost/kaboom", cfg.PostgresDSN)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Environment:        "production",
			Port:               "3000",
			JWTSecret:          "real-secret",
			PostgresDSN:        "postgres://db",
			PlatformFeePercent: 20,
			NotifyQueueSize:    10,
			NotifyWorkers:      2,
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no port", func(c *Config) { c.Port = "" }},
		{"default secret in production", func(c *Config) { c.JWTSecret = defaultJWTSecret }},
		{"no database", func(c *Config) { c.PostgresDSN = "" }},
		{"stripe without webhook secret", func(c *Config) { c.StripeSecretKey = "sk_live_x" }},
		{"fee above 100", func(c *Config) { c.PlatformFeePercent = 150 }},
		{"no workers", func(c *Config) { c.NotifyWorkers = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
