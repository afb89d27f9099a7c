// Package config loads the service configuration from the environment. A
// .env file in the working directory is read first when present.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Escort    EscortConfig
	Notify    NotifyConfig
	Responder ResponderConfig
}

type ServerConfig struct {
	Port            string
	Environment     string
	ShutdownTimeout time.Duration // Time allowed to drain requests and background side effects
}

// DatabaseConfig is the Postgres session store connection.
type DatabaseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
	SSLMode  string // lib/pq sslmode: disable, require, verify-full, ...
	MaxConns int    // Maximum number of connections in the pool
}

// RedisConfig is the Redis connection used for deadlines, rate limits,
// the token blacklist and the responder cache.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	PoolSize int // Connection pool size
}

// JWTConfig holds the shared secret used to verify bearer tokens issued by
// the identity service, and the lifetime of tokens minted locally for
// operators and tests.
type JWTConfig struct {
	Secret       []byte
	AccessExpiry time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

// RateLimitConfig limits requests per caller. DisarmAttempts applies to
// the disarm endpoint on top of the general limit.
type RateLimitConfig struct {
	RequestsPerMinute int
	WindowDuration    time.Duration // Time window for rate limiting (default: 1 minute)
	DisarmAttempts    int           // Code submissions allowed per window on the disarm endpoint
}

// CacheConfig holds cache configuration for responder lookups.
type CacheConfig struct {
	ResponderTTL time.Duration
	Enabled      bool // Master switch to enable/disable caching
}

// EscortConfig holds the session timing rules and scheduler tuning.
type EscortConfig struct {
	DefaultBuffer  time.Duration // Grace period after the scheduled end (default: 5 minutes)
	MaxDuration    time.Duration // Longest monitoring window an owner may request
	SweepInterval  time.Duration // How often the scheduler polls for due deadlines
	SweepBatchSize int           // Maximum deadlines claimed per sweep
	Concurrency    int           // Sessions processed in parallel per sweep
}

// NotifyConfig holds guardian and operator notification settings.
type NotifyConfig struct {
	WebhookURL      string        // Gateway that relays sms/email/push messages; empty logs only
	Timeout         time.Duration // Per-delivery HTTP timeout
	OperatorChannel string        // Redis pub/sub channel for escalations
}

// ResponderConfig holds nearest-responder lookup settings.
type ResponderConfig struct {
	LookupURL string // Empty disables the lookup
	Timeout   time.Duration
}

// Load reads the environment and validates the result. POSTGRES_PASSWORD
// and JWT_SECRET are required; everything else has a default (see
// .env.example).
func Load() (*Config, error) {
	_ = godotenv.Load()

	postgresPassword, err := getEnvRequired("POSTGRES_PASSWORD")
	if err != nil {
		return nil, err
	}

	jwtSecret, err := getEnvRequired("JWT_SECRET")
	if err != nil {
		return nil, err
	}

	config := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			Environment:     getEnv("ENV", "development"),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnv("POSTGRES_PORT", "5432"),
			Database: getEnv("POSTGRES_DB", "escortdb"),
			User:     getEnv("POSTGRES_USER", "escort"),
			Password: postgresPassword,
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
			MaxConns: getEnvAsInt("POSTGRES_MAX_CONNS", 25),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			PoolSize: getEnvAsInt("REDIS_POOL_SIZE", 100),
		},
		JWT: JWTConfig{
			Secret:       []byte(jwtSecret),
			AccessExpiry: getEnvAsDuration("JWT_ACCESS_EXPIRY", 15*time.Minute),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvAsInt("RATE_LIMIT_REQUESTS", 100),
			WindowDuration:    getEnvAsDuration("RATE_LIMIT_WINDOW", 1*time.Minute),
			DisarmAttempts:    getEnvAsInt("DISARM_RATE_LIMIT", 10),
		},
		Cache: CacheConfig{
			ResponderTTL: getEnvAsDuration("RESPONDER_CACHE_TTL", time.Hour),
			Enabled:      getEnv("CACHE_ENABLED", "true") == "true",
		},
		Escort: EscortConfig{
			DefaultBuffer:  getEnvAsDuration("ESCORT_DEFAULT_BUFFER", 5*time.Minute),
			MaxDuration:    getEnvAsDuration("ESCORT_MAX_DURATION", 24*time.Hour),
			SweepInterval:  getEnvAsDuration("SCHEDULER_SWEEP_INTERVAL", 5*time.Second),
			SweepBatchSize: getEnvAsInt("SCHEDULER_BATCH_SIZE", 100),
			Concurrency:    getEnvAsInt("SCHEDULER_CONCURRENCY", 8),
		},
		Notify: NotifyConfig{
			WebhookURL:      getEnv("NOTIFY_WEBHOOK_URL", ""),
			Timeout:         getEnvAsDuration("NOTIFY_TIMEOUT", 10*time.Second),
			OperatorChannel: getEnv("NOTIFY_OPERATOR_CHANNEL", "escort:operator:escalations"),
		},
		Responder: ResponderConfig{
			LookupURL: getEnv("RESPONDER_LOOKUP_URL", ""),
			Timeout:   getEnvAsDuration("RESPONDER_TIMEOUT", 5*time.Second),
		},
	}

	// Validate required fields
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate returns the first problem found, or nil. Load calls it.
func (c *Config) Validate() error {
	// Validate server port
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("server port must be a valid integer: %w", err)
	}

	// Validate database port
	if _, err := strconv.Atoi(c.Database.Port); err != nil {
		return fmt.Errorf("database port must be a valid integer: %w", err)
	}

	// Validate Redis port
	if _, err := strconv.Atoi(c.Redis.Port); err != nil {
		return fmt.Errorf("redis port must be a valid integer: %w", err)
	}

	// Validate JWT secret
	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 bytes")
	}

	// Validate database password
	if c.Database.Password == "" {
		return fmt.Errorf("database password is required")
	}

	// Validate escort timing
	if c.Escort.DefaultBuffer <= 0 {
		return fmt.Errorf("escort default buffer must be positive")
	}
	if c.Escort.MaxDuration <= 0 {
		return fmt.Errorf("escort max duration must be positive")
	}
	if c.Escort.SweepInterval <= 0 {
		return fmt.Errorf("scheduler sweep interval must be positive")
	}
	if c.Escort.SweepBatchSize < 1 || c.Escort.Concurrency < 1 {
		return fmt.Errorf("scheduler batch size and concurrency must be at least 1")
	}

	if c.RateLimit.RequestsPerMinute < 1 || c.RateLimit.DisarmAttempts < 1 {
		return fmt.Errorf("rate limits must be at least 1")
	}

	// Optional outbound URLs
	if c.Notify.WebhookURL != "" {
		if _, err := url.ParseRequestURI(c.Notify.WebhookURL); err != nil {
			return fmt.Errorf("invalid notify webhook URL: %w", err)
		}
	}
	if c.Responder.LookupURL != "" {
		if _, err := url.ParseRequestURI(c.Responder.LookupURL); err != nil {
			return fmt.Errorf("invalid responder lookup URL: %w", err)
		}
	}

	return nil
}

// DSN returns the lib/pq connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Address returns the Redis server address in "host:port" format.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{
//	    Addr: cfg.Redis.Address(),
//	})
func (c *RedisConfig) Address() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvRequired(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("required environment variable %s is not set", key)
	}
	return value, nil
}

// getEnvAsInt falls back to defaultValue when the variable is unset or not
// an integer.
func getEnvAsInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts time.ParseDuration syntax ("90s", "1h30m").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSlice splits a comma-separated list, trimming blanks.
//
//	ALLOWED_ORIGINS=http://localhost:3000, https://app.example.com
func getEnvAsSlice(key string, defaultValue []string) []string {
	var result []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
