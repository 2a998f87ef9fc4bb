package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Feed     FeedConfig     `yaml:"feed"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Admin    AdminConfig    `yaml:"admin"`
}

type ServerConfig struct {
	Host                    string        `yaml:"host"`
	Port                    int           `yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout             time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout            time.Duration `yaml:"write_timeout" validate:"gt=0"`
	IdleTimeout             time.Duration `yaml:"idle_timeout"`
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
	RateLimitRPM            int           `yaml:"rate_limit_rpm" validate:"min=0"`
	CORSAllowedOrigins      []string      `yaml:"cors_allowed_origins"`
}

type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxConns        int           `yaml:"max_conns" validate:"min=1"`
	MinConns        int           `yaml:"min_conns" validate:"min=0"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

// FeedConfig describes where and how the fuel-price feed is downloaded
type FeedConfig struct {
	BaseURL   string        `yaml:"base_url" validate:"required,url"`
	Timeout   time.Duration `yaml:"timeout" validate:"gt=0"`
	RateLimit float64       `yaml:"rate_limit" validate:"gt=0"`
	Timezone  string        `yaml:"timezone" validate:"required"`
	UserAgent string        `yaml:"user_agent"`
}

// IngestConfig controls ingestion runs
type IngestConfig struct {
	OnStartup         bool          `yaml:"on_startup"`
	Schedule          string        `yaml:"schedule"`
	StationBatchSize  int           `yaml:"station_batch_size" validate:"min=1"`
	PriceBatchSize    int           `yaml:"price_batch_size" validate:"min=1"`
	ArchiveBatchSize  int           `yaml:"archive_batch_size" validate:"min=1"`
	FailurePolicy     string        `yaml:"failure_policy" validate:"oneof=skip abort"`
	RetryAttempts     int           `yaml:"retry_attempts" validate:"min=0,max=10"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	LockTTL           time.Duration `yaml:"lock_ttl" validate:"gt=0"`
	RunTimeout        time.Duration `yaml:"run_timeout" validate:"gt=0"`
	BackfillYearsBack int           `yaml:"backfill_years_back" validate:"min=0"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"oneof=json text"` // json or text
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port" validate:"min=1,max=65535"`
	Path    string `yaml:"path"`
}

type AdminConfig struct {
	AdminSecret string `yaml:"admin_secret"`
}

// Load loads configuration from an optional .env file, an optional YAML file
// named by CONFIG_FILE, and environment variables, in increasing precedence.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                    "0.0.0.0",
			Port:                    8080,
			ReadTimeout:             30 * time.Second,
			WriteTimeout:            30 * time.Second,
			IdleTimeout:             120 * time.Second,
			GracefulShutdownTimeout: 30 * time.Second,
			RateLimitRPM:            120,
		},
		Database: DatabaseConfig{
			MaxConns:        25,
			MinConns:        5,
			MaxConnLifetime: 1 * time.Hour,
			MaxConnIdleTime: 30 * time.Minute,
		},
		Feed: FeedConfig{
			BaseURL:   "https://donnees.roulez-eco.fr/opendata",
			Timeout:   60 * time.Second,
			RateLimit: 0.5,
			Timezone:  "Europe/Paris",
			UserAgent: "FuelWatch/1.0",
		},
		Ingest: IngestConfig{
			OnStartup:         true,
			Schedule:          "@every 1h",
			StationBatchSize:  500,
			PriceBatchSize:    500,
			ArchiveBatchSize:  5000,
			FailurePolicy:     "skip",
			RetryAttempts:     0,
			RetryDelay:        30 * time.Second,
			LockTTL:           2 * time.Hour,
			RunTimeout:        90 * time.Minute,
			BackfillYearsBack: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}

func applyEnv(cfg *Config) {
	cfg.Server.Host = getEnv("SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("SERVER_PORT", cfg.Server.Port)
	cfg.Server.ReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.IdleTimeout = getEnvDuration("SERVER_IDLE_TIMEOUT", cfg.Server.IdleTimeout)
	cfg.Server.GracefulShutdownTimeout = getEnvDuration("SERVER_GRACEFUL_SHUTDOWN_TIMEOUT", cfg.Server.GracefulShutdownTimeout)
	cfg.Server.RateLimitRPM = getEnvInt("SERVER_RATE_LIMIT_RPM", cfg.Server.RateLimitRPM)
	cfg.Server.CORSAllowedOrigins = getEnvList("CORS_ALLOWED_ORIGINS", cfg.Server.CORSAllowedOrigins)

	cfg.Database.URL = getEnv("DATABASE_URL", cfg.Database.URL)
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", cfg.Database.MaxConns)
	cfg.Database.MinConns = getEnvInt("DB_MIN_CONNS", cfg.Database.MinConns)
	cfg.Database.MaxConnLifetime = getEnvDuration("DB_MAX_CONN_LIFETIME", cfg.Database.MaxConnLifetime)
	cfg.Database.MaxConnIdleTime = getEnvDuration("DB_MAX_CONN_IDLE_TIME", cfg.Database.MaxConnIdleTime)

	cfg.Redis.URL = getEnv("REDIS_URL", cfg.Redis.URL)

	cfg.Feed.BaseURL = getEnv("FEED_BASE_URL", cfg.Feed.BaseURL)
	cfg.Feed.Timeout = getEnvDuration("FEED_TIMEOUT", cfg.Feed.Timeout)
	cfg.Feed.RateLimit = getEnvFloat("FEED_RATE_LIMIT", cfg.Feed.RateLimit)
	cfg.Feed.Timezone = getEnv("FEED_TIMEZONE", cfg.Feed.Timezone)
	cfg.Feed.UserAgent = getEnv("FEED_USER_AGENT", cfg.Feed.UserAgent)

	cfg.Ingest.OnStartup = getEnvBool("INGEST_ON_STARTUP", cfg.Ingest.OnStartup)
	cfg.Ingest.Schedule = getEnv("INGEST_SCHEDULE", cfg.Ingest.Schedule)
	cfg.Ingest.StationBatchSize = getEnvInt("INGEST_STATION_BATCH_SIZE", cfg.Ingest.StationBatchSize)
	cfg.Ingest.PriceBatchSize = getEnvInt("INGEST_PRICE_BATCH_SIZE", cfg.Ingest.PriceBatchSize)
	cfg.Ingest.ArchiveBatchSize = getEnvInt("INGEST_ARCHIVE_BATCH_SIZE", cfg.Ingest.ArchiveBatchSize)
	cfg.Ingest.FailurePolicy = getEnv("INGEST_FAILURE_POLICY", cfg.Ingest.FailurePolicy)
	cfg.Ingest.RetryAttempts = getEnvInt("INGEST_RETRY_ATTEMPTS", cfg.Ingest.RetryAttempts)
	cfg.Ingest.RetryDelay = getEnvDuration("INGEST_RETRY_DELAY", cfg.Ingest.RetryDelay)
	cfg.Ingest.LockTTL = getEnvDuration("INGEST_LOCK_TTL", cfg.Ingest.LockTTL)
	cfg.Ingest.RunTimeout = getEnvDuration("INGEST_RUN_TIMEOUT", cfg.Ingest.RunTimeout)
	cfg.Ingest.BackfillYearsBack = getEnvInt("INGEST_BACKFILL_YEARS_BACK", cfg.Ingest.BackfillYearsBack)

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)

	cfg.Metrics.Enabled = getEnvBool("METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.Metrics.Port = getEnvInt("METRICS_PORT", cfg.Metrics.Port)
	cfg.Metrics.Path = getEnv("METRICS_PATH", cfg.Metrics.Path)

	cfg.Admin.AdminSecret = getEnv("ADMIN_SECRET", cfg.Admin.AdminSecret)
}

var validate = validator.New()

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("database min connections (%d) exceeds max connections (%d)", c.Database.MinConns, c.Database.MaxConns)
	}
	if _, err := time.LoadLocation(c.Feed.Timezone); err != nil {
		return fmt.Errorf("invalid feed timezone %q: %w", c.Feed.Timezone, err)
	}
	return nil
}

// Location returns the time zone feed timestamps are expressed in
func (f FeedConfig) Location() *time.Location {
	loc, err := time.LoadLocation(f.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
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
	return out
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
