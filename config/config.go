// Package config loads and validates the relay configuration. Configuration
// is read once from the environment at startup, validated, and passed by
// value into component constructors; core logic never reads the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment represents the application environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Rate-limit storage backends.
const (
	BackendFile     = "file"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config holds all application configuration.
type Config struct {
	// Application
	App AppConfig

	// HTTP server
	Server ServerConfig

	// Telegram delivery
	Telegram TelegramConfig

	// Webhook dispatch
	Webhook WebhookConfig

	// Rate limiting
	RateLimit RateLimitConfig

	// Logging
	Log LogConfig
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string
	Environment Environment
	Debug       bool
	Version     string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	MaxBodyBytes int64
}

// TelegramConfig holds Telegram Bot API settings.
type TelegramConfig struct {
	// Token is the bot token from @BotFather.
	Token string

	// ChatID is the chat all alarms are delivered to. Accepts a numeric id
	// or an @channel name.
	ChatID string

	// BaseURL overrides the Bot API endpoint; useful for tests and proxies.
	BaseURL string

	// SendTimeout bounds one delivery, retries included.
	SendTimeout time.Duration

	// RetryAttempts is the number of retries after a failed send.
	RetryAttempts int

	// RetryDelay is the initial backoff between retries.
	RetryDelay time.Duration
}

// WebhookConfig holds dispatch settings.
type WebhookConfig struct {
	// Signature is the optional shared secret compared against the
	// "signature" query parameter. Empty disables the check: the endpoint
	// then runs unauthenticated.
	Signature string

	// MessagePrefix is prepended to every outgoing message.
	MessagePrefix string
}

// RateLimitConfig holds rate limiter settings.
type RateLimitConfig struct {
	// MaxRequests per identifier per window.
	MaxRequests int

	// TimeWindow is the sliding window length.
	TimeWindow time.Duration

	// Backend selects the store: file, memory, redis or postgres.
	Backend string

	// StoragePath is the file backend's storage root.
	StoragePath string

	// RedisAddr, RedisPassword, RedisDB configure the redis backend.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// PostgresURL configures the postgres backend.
	PostgresURL string
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the minimum level: debug, info, warn, error.
	Level string

	// File, when set, routes log output through a rotating file writer
	// instead of stdout.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Load loads configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name:        getEnv("APP_NAME", "cloudmon-telegram-relay"),
			Environment: Environment(getEnv("APP_ENV", "development")),
			Debug:       getEnvBool("APP_DEBUG", false),
			Version:     getEnv("APP_VERSION", "0.1.0"),
		},
		Server: ServerConfig{
			Host:         getEnv("HTTP_HOST", "0.0.0.0"),
			Port:         getEnvInt("HTTP_PORT", 8080),
			ReadTimeout:  getEnvDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("HTTP_WRITE_TIMEOUT", 45*time.Second),
			IdleTimeout:  getEnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
			MaxBodyBytes: int64(getEnvInt("HTTP_MAX_BODY_BYTES", 1<<20)),
		},
		Telegram: TelegramConfig{
			Token:         getEnv("TELEGRAM_BOT_TOKEN", ""),
			ChatID:        getEnv("TELEGRAM_CHAT_ID", ""),
			BaseURL:       getEnv("TELEGRAM_API_URL", "https://api.telegram.org"),
			SendTimeout:   getEnvDuration("TELEGRAM_SEND_TIMEOUT", 30*time.Second),
			RetryAttempts: getEnvInt("TELEGRAM_RETRY_ATTEMPTS", 2),
			RetryDelay:    getEnvDuration("TELEGRAM_RETRY_DELAY", 500*time.Millisecond),
		},
		Webhook: WebhookConfig{
			Signature:     getEnv("WEBHOOK_SIGNATURE", ""),
			MessagePrefix: getEnv("MESSAGE_PREFIX", "[CM] "),
		},
		RateLimit: RateLimitConfig{
			MaxRequests:   getEnvInt("RATE_LIMIT_MAX_REQUESTS", 10),
			TimeWindow:    getEnvDuration("RATE_LIMIT_TIME_WINDOW", time.Minute),
			Backend:       getEnv("RATE_LIMIT_BACKEND", BackendFile),
			StoragePath:   getEnv("RATE_LIMIT_STORAGE_PATH", "/tmp/cloudmon-relay/ratelimit"),
			RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("REDIS_DB", 0),
			PostgresURL:   getEnv("DATABASE_URL", ""),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			File:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 50),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 28),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks required keys and value ranges.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if c.Telegram.ChatID == "" {
		return fmt.Errorf("TELEGRAM_CHAT_ID is required")
	}
	if c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX_REQUESTS must be positive, got %d", c.RateLimit.MaxRequests)
	}
	if c.RateLimit.TimeWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_TIME_WINDOW must be positive, got %s", c.RateLimit.TimeWindow)
	}
	switch c.RateLimit.Backend {
	case BackendFile:
		if c.RateLimit.StoragePath == "" {
			return fmt.Errorf("RATE_LIMIT_STORAGE_PATH is required for the file backend")
		}
	case BackendMemory, BackendRedis:
	case BackendPostgres:
		if c.RateLimit.PostgresURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown rate limit backend %q", c.RateLimit.Backend)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT out of range: %d", c.Server.Port)
	}
	return nil
}

// IsProduction reports whether the app runs in production.
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// ══════════════════════════════════════════════════════════════════════════════
// ENV HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback
	}
	switch strings.ToLower(value) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback
	}
	// Accept both Go duration strings ("30s") and bare seconds ("30").
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return fallback
}
