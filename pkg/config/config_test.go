package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("POSTGRES_PASSWORD", "pw")
	t.Setenv("JWT_SECRET", testSecret)
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.Escort.DefaultBuffer)
	assert.Equal(t, 24*time.Hour, cfg.Escort.MaxDuration)
	assert.Equal(t, 8, cfg.Escort.Concurrency)
	assert.Equal(t, 10, cfg.RateLimit.DisarmAttempts)
	assert.Equal(t, "escort:operator:escalations", cfg.Notify.OperatorChannel)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, "host=localhost port=5432 user=escort password=pw dbname=escortdb sslmode=disable", cfg.Database.DSN())
	assert.Equal(t, "localhost:6379", cfg.Redis.Address())
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ESCORT_DEFAULT_BUFFER", "10m")
	t.Setenv("SCHEDULER_CONCURRENCY", "2")
	t.Setenv("ALLOWED_ORIGINS", "https://app.example.com, https://ops.example.com")
	t.Setenv("POSTGRES_SSLMODE", "require")
	t.Setenv("CACHE_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 10*time.Minute, cfg.Escort.DefaultBuffer)
	assert.Equal(t, 2, cfg.Escort.Concurrency)
	assert.Equal(t, []string{"https://app.example.com", "https://ops.example.com"}, cfg.CORS.AllowedOrigins)
	assert.Contains(t, cfg.Database.DSN(), "sslmode=require")
	assert.False(t, cfg.Cache.Enabled)
}

func TestLoadRequiresSecrets(t *testing.T) {
	t.Setenv("POSTGRES_PASSWORD", "")
	t.Setenv("JWT_SECRET", testSecret)

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:    ServerConfig{Port: "8080"},
			Database:  DatabaseConfig{Port: "5432", Password: "pw"},
			Redis:     RedisConfig{Port: "6379"},
			JWT:       JWTConfig{Secret: []byte(testSecret)},
			RateLimit: RateLimitConfig{RequestsPerMinute: 100, DisarmAttempts: 10},
			Escort: EscortConfig{
				DefaultBuffer:  5 * time.Minute,
				MaxDuration:    time.Hour,
				SweepInterval:  time.Second,
				SweepBatchSize: 10,
				Concurrency:    1,
			},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"non-numeric port", func(c *Config) { c.Server.Port = "http" }},
		{"short jwt secret", func(c *Config) { c.JWT.Secret = []byte("short") }},
		{"zero buffer", func(c *Config) { c.Escort.DefaultBuffer = 0 }},
		{"zero sweep interval", func(c *Config) { c.Escort.SweepInterval = 0 }},
		{"no workers", func(c *Config) { c.Escort.Concurrency = 0 }},
		{"zero disarm attempts", func(c *Config) { c.RateLimit.DisarmAttempts = 0 }},
		{"relative webhook url", func(c *Config) { c.Notify.WebhookURL = "relay/send" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
