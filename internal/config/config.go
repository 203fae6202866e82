package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

func init() {
	// Load .env file - ignore error if file doesn't exist
	if err := godotenv.Load(); err != nil {
		fmt.Printf("Note: .env file not found or could not be loaded: %v\n", err)
	}
}

type Config struct {
	Primary       PrimaryConfig
	Database      DatabaseConfig
	Server        ServerConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Observability *ObservabilityConfig
	Backend       BackendConfig
	Checkout      CheckoutConfig
}

type PrimaryConfig struct {
	Env string
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int
	ConnMaxIdleTime int
}

type ServerConfig struct {
	Port            string
	ReadTimeout     int
	WriteTimeout    int
	IdleTimeout     int
	RateLimit       int64
	RateLimitWindow time.Duration
}

type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	LockTTL      time.Duration
	KeyPrefix    string
}

type KafkaConfig struct {
	Brokers        []string
	OutboxInterval time.Duration
}

type ObservabilityConfig struct {
	ServiceName  string
	Environment  string
	Logging      LoggingConfig
	NewRelic     NewRelicConfig
	HealthChecks HealthChecksConfig
}

type LoggingConfig struct {
	Level              string
	Format             string
	SlowQueryThreshold time.Duration
}

type NewRelicConfig struct {
	LicenseKey                string
	AppLogForwardingEnabled   bool
	DistributedTracingEnabled bool
	DebugLogging              bool
}

type HealthChecksConfig struct {
	Enabled  bool
	Interval time.Duration
	Timeout  time.Duration
	Checks   []string
}

// BackendConfig points at the payment backend (payment links, verification,
// transaction status) and holds the admin credentials the proxy injects.
type BackendConfig struct {
	BaseURL       string
	Admin         string
	AdminPassword string
	WebhookSecret string
	Timeout       time.Duration
}

// CheckoutConfig carries the timings of the checkout flow.
type CheckoutConfig struct {
	LinkCacheTTL       time.Duration
	CacheSweepInterval time.Duration
	SessionTTL         time.Duration
	FetchAttempts      int
	VerifyAttempts     int
	InitRetries        int
	PollInterval       time.Duration
	PollCeiling        time.Duration
	NotifyTimeout      time.Duration
	IdempotencyTTL     time.Duration
	DefaultCountryCode string
}

// Helper functions for parsing env vars
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return fallback
}

func (c *ObservabilityConfig) GetLogLevel() string {
	if c.Logging.Level == "" {
		switch c.Environment {
		case "production":
			return "info"
		case "development":
			return "debug"
		default:
			return "info"
		}
	}
	return c.Logging.Level
}

func (c *ObservabilityConfig) IsProduction() bool {
	return c.Environment == "production"
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		Primary: PrimaryConfig{
			Env: getEnv("CHAINPAYE_ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("CHAINPAYE_DB_HOST", "localhost"),
			Port:            getEnvInt("CHAINPAYE_DB_PORT", 5432),
			User:            getEnv("CHAINPAYE_DB_USER", "chainpaye"),
			Password:        getEnv("CHAINPAYE_DB_PASSWORD", ""),
			Name:            getEnv("CHAINPAYE_DB_NAME", "chainpaye"),
			SSLMode:         getEnv("CHAINPAYE_DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvInt("CHAINPAYE_DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("CHAINPAYE_DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvInt("CHAINPAYE_DB_CONN_MAX_LIFETIME", 300),
			ConnMaxIdleTime: getEnvInt("CHAINPAYE_DB_CONN_MAX_IDLE_TIME", 60),
		},
		Server: ServerConfig{
			Port:            getEnv("CHAINPAYE_SERVER_PORT", "8080"),
			ReadTimeout:     getEnvInt("CHAINPAYE_SERVER_READ_TIMEOUT", 30),
			WriteTimeout:    getEnvInt("CHAINPAYE_SERVER_WRITE_TIMEOUT", 30),
			IdleTimeout:     getEnvInt("CHAINPAYE_SERVER_IDLE_TIMEOUT", 60),
			RateLimit:       getEnvInt64("CHAINPAYE_SERVER_RATE_LIMIT", 60),
			RateLimitWindow: getEnvDuration("CHAINPAYE_SERVER_RATE_LIMIT_WINDOW", time.Minute),
		},
		Redis: RedisConfig{
			Address:      getEnv("CHAINPAYE_REDIS_ADDRESS", "localhost:6379"),
			Password:     getEnv("CHAINPAYE_REDIS_PASSWORD", ""),
			DB:           getEnvInt("CHAINPAYE_REDIS_DB", 0),
			PoolSize:     getEnvInt("CHAINPAYE_REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("CHAINPAYE_REDIS_MIN_IDLE_CONNS", 5),
			DialTimeout:  getEnvDuration("CHAINPAYE_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("CHAINPAYE_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("CHAINPAYE_REDIS_WRITE_TIMEOUT", 3*time.Second),
			LockTTL:      getEnvDuration("CHAINPAYE_REDIS_LOCK_TTL", 30*time.Second),
			KeyPrefix:    getEnv("CHAINPAYE_REDIS_KEY_PREFIX", "chainpaye:"),
		},
		Kafka: KafkaConfig{
			Brokers:        getEnvSlice("CHAINPAYE_KAFKA_BROKERS", []string{"localhost:9092"}),
			OutboxInterval: getEnvDuration("CHAINPAYE_OUTBOX_INTERVAL", 2*time.Second),
		},
		Observability: &ObservabilityConfig{
			ServiceName: "Chainpaye",
			Environment: getEnv("CHAINPAYE_ENV", "development"),
			Logging: LoggingConfig{
				Level:              getEnv("CHAINPAYE_LOG_LEVEL", "debug"),
				Format:             getEnv("CHAINPAYE_LOG_FORMAT", "console"),
				SlowQueryThreshold: getEnvDuration("CHAINPAYE_LOG_SLOW_QUERY_THRESHOLD", 100*time.Millisecond),
			},
			NewRelic: NewRelicConfig{
				LicenseKey:                getEnv("CHAINPAYE_NEWRELIC_LICENSE_KEY", ""),
				AppLogForwardingEnabled:   getEnvBool("CHAINPAYE_NEWRELIC_LOG_FORWARDING", true),
				DistributedTracingEnabled: getEnvBool("CHAINPAYE_NEWRELIC_DISTRIBUTED_TRACING", true),
				DebugLogging:              getEnvBool("CHAINPAYE_NEWRELIC_DEBUG", false),
			},
			HealthChecks: HealthChecksConfig{
				Enabled:  getEnvBool("CHAINPAYE_HEALTHCHECK_ENABLED", true),
				Interval: getEnvDuration("CHAINPAYE_HEALTHCHECK_INTERVAL", 30*time.Second),
				Timeout:  getEnvDuration("CHAINPAYE_HEALTHCHECK_TIMEOUT", 5*time.Second),
				Checks:   getEnvSlice("CHAINPAYE_HEALTHCHECK_CHECKS", []string{"database", "redis"}),
			},
		},
		Backend: BackendConfig{
			BaseURL:       strings.TrimRight(getEnv("CHAINPAYE_API_BASE_URL", "https://chainpaye-backend.onrender.com"), "/"),
			Admin:         getEnv("TORONET_ADMIN", ""),
			AdminPassword: getEnv("TORONET_ADMIN_PWD", ""),
			WebhookSecret: getEnv("CHAINPAYE_WEBHOOK_SECRET", ""),
			Timeout:       getEnvDuration("CHAINPAYE_API_TIMEOUT", 15*time.Second),
		},
		Checkout: CheckoutConfig{
			LinkCacheTTL:       getEnvDuration("CHAINPAYE_LINK_CACHE_TTL", 5*time.Minute),
			CacheSweepInterval: getEnvDuration("CHAINPAYE_CACHE_SWEEP_INTERVAL", 5*time.Minute),
			SessionTTL:         getEnvDuration("CHAINPAYE_SESSION_TTL", 30*time.Minute),
			FetchAttempts:      getEnvInt("CHAINPAYE_FETCH_ATTEMPTS", 3),
			VerifyAttempts:     getEnvInt("CHAINPAYE_VERIFY_ATTEMPTS", 2),
			InitRetries:        getEnvInt("CHAINPAYE_INIT_RETRIES", 2),
			PollInterval:       getEnvDuration("CHAINPAYE_POLL_INTERVAL", 5*time.Second),
			PollCeiling:        getEnvDuration("CHAINPAYE_POLL_CEILING", 20*time.Minute),
			NotifyTimeout:      getEnvDuration("CHAINPAYE_NOTIFY_TIMEOUT", 8*time.Second),
			IdempotencyTTL:     getEnvDuration("CHAINPAYE_IDEMPOTENCY_TTL", 24*time.Hour),
			DefaultCountryCode: getEnv("CHAINPAYE_DEFAULT_COUNTRY_CODE", "+234"),
		},
	}

	// Validate required fields
	if cfg.Database.Host == "" {
		return nil, fmt.Errorf("CHAINPAYE_DB_HOST is required")
	}
	if cfg.Database.Name == "" {
		return nil, fmt.Errorf("CHAINPAYE_DB_NAME is required")
	}
	if cfg.Backend.BaseURL == "" {
		return nil, fmt.Errorf("CHAINPAYE_API_BASE_URL is required")
	}
	if cfg.Checkout.FetchAttempts < 1 || cfg.Checkout.VerifyAttempts < 1 {
		return nil, fmt.Errorf("fetch and verify attempts must be at least 1")
	}

	return cfg, nil
}
