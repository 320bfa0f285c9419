// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Supported backends.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
	BackendAMQP   = "amqp"

	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

// Config holds application configuration
type Config struct {
	LogLevel   string
	LogPretty  bool
	Port       int
	InstanceID string
	DataDir    string // Base directory for embedded databases (always absolute)

	DatabaseDriver string
	DatabaseURL    string

	CacheBackend string
	CacheCodec   string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	BusBackend   string
	AMQPURL      string
	AMQPExchange string

	UpstreamFixturesURL string
	UpstreamTimeout     time.Duration
	UpstreamRetryDelay  time.Duration

	FixturesRefreshInterval time.Duration
	FixturesCacheTTL        time.Duration
	ReconcileInterval       time.Duration
	ReconcileSweepEvery     int
	CacheCleanupInterval    time.Duration
	PlaceholderPrefixes     []string
	StatusLiveWindow        time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir, err := filepath.Abs(getEnv("DATA_DIR", "./data"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	hostname, _ := os.Hostname()

	cfg := &Config{
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		LogPretty:  getEnvAsBool("LOG_PRETTY", true),
		Port:       getEnvAsInt("PORT", 8080),
		InstanceID: getEnv("INSTANCE_ID", hostname),
		DataDir:    dataDir,

		DatabaseDriver: getEnv("DATABASE_DRIVER", DriverSQLite),
		DatabaseURL:    getEnv("DATABASE_URL", filepath.Join(dataDir, "matchsync.db")),

		CacheBackend: getEnv("CACHE_BACKEND", BackendMemory),
		CacheCodec:   getEnv("CACHE_CODEC", CodecJSON),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		BusBackend:   getEnv("BUS_BACKEND", BackendMemory),
		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "matchsync.events"),

		UpstreamFixturesURL: getEnv("UPSTREAM_FIXTURES_URL", ""),
		UpstreamTimeout:     getEnvAsDuration("UPSTREAM_TIMEOUT", 10*time.Second),
		UpstreamRetryDelay:  getEnvAsDuration("UPSTREAM_RETRY_DELAY", time.Second),

		FixturesRefreshInterval: getEnvAsDuration("FIXTURES_REFRESH_INTERVAL", 30*time.Second),
		FixturesCacheTTL:        getEnvAsDuration("FIXTURES_CACHE_TTL", 5*time.Minute),
		ReconcileInterval:       getEnvAsDuration("RECONCILE_INTERVAL", 5*time.Second),
		ReconcileSweepEvery:     getEnvAsInt("RECONCILE_SWEEP_EVERY", 5),
		CacheCleanupInterval:    getEnvAsDuration("CACHE_CLEANUP_INTERVAL", 10*time.Minute),
		PlaceholderPrefixes:     getEnvAsList("PLACEHOLDER_PREFIXES", []string{"prov-"}),
		StatusLiveWindow:        getEnvAsDuration("STATUS_LIVE_WINDOW", 4*time.Hour),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}

	switch c.CacheBackend {
	case BackendMemory, BackendRedis, BackendSQLite:
	default:
		return fmt.Errorf("unsupported CACHE_BACKEND %q", c.CacheBackend)
	}

	switch c.CacheCodec {
	case CodecJSON, CodecMsgpack:
	default:
		return fmt.Errorf("unsupported CACHE_CODEC %q", c.CacheCodec)
	}

	switch c.BusBackend {
	case BackendMemory, BackendRedis:
	case BackendAMQP:
		if c.AMQPURL == "" {
			return fmt.Errorf("AMQP_URL is required when BUS_BACKEND=amqp")
		}
	default:
		return fmt.Errorf("unsupported BUS_BACKEND %q", c.BusBackend)
	}

	if c.UpstreamFixturesURL == "" {
		return fmt.Errorf("UPSTREAM_FIXTURES_URL is required")
	}

	durations := map[string]time.Duration{
		"UPSTREAM_TIMEOUT":          c.UpstreamTimeout,
		"FIXTURES_REFRESH_INTERVAL": c.FixturesRefreshInterval,
		"FIXTURES_CACHE_TTL":        c.FixturesCacheTTL,
		"RECONCILE_INTERVAL":        c.ReconcileInterval,
		"CACHE_CLEANUP_INTERVAL":    c.CacheCleanupInterval,
		"STATUS_LIVE_WINDOW":        c.StatusLiveWindow,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	if c.ReconcileSweepEvery <= 0 {
		return fmt.Errorf("RECONCILE_SWEEP_EVERY must be positive, got %d", c.ReconcileSweepEvery)
	}
	if len(c.PlaceholderPrefixes) == 0 {
		return fmt.Errorf("PLACEHOLDER_PREFIXES must name at least one prefix")
	}

	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go duration strings ("30s") or bare seconds ("30").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
