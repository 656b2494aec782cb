// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Risk score oracle
	OracleURL     string
	OracleAPIKey  string
	OracleTimeout time.Duration

	// Authentication-history collaborator
	AuthHistoryURL     string
	AuthHistoryTimeout time.Duration

	// 3-D Secure gateway
	ThreeDSURL     string
	ThreeDSAPIKey  string
	ThreeDSTimeout time.Duration

	// Review notification webhook (Slack-compatible JSON POST)
	ReviewWebhookURL string

	// Background jobs
	DetectorInterval  time.Duration
	EscalatorInterval time.Duration

	// Security
	AdminSecret  string // Admin API secret
	RateLimitRPM int    // requests per minute per client IP

	// Tracing
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
	DefaultOracleTimeout     = 3 * time.Second
	DefaultAuthTimeout       = 3 * time.Second
	DefaultThreeDSTimeout    = 5 * time.Second
	DefaultDetectorInterval  = 5 * time.Minute
	DefaultEscalatorInterval = 10 * time.Minute
	DefaultRateLimit         = 300
)

// Load reads configuration from environment variables.
// It loads a .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:          getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:        os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		OracleURL:          os.Getenv("ORACLE_URL"),
		OracleAPIKey:       os.Getenv("ORACLE_API_KEY"),
		OracleTimeout:      getEnvDuration("ORACLE_TIMEOUT", DefaultOracleTimeout),
		AuthHistoryURL:     os.Getenv("AUTH_HISTORY_URL"),
		AuthHistoryTimeout: getEnvDuration("AUTH_HISTORY_TIMEOUT", DefaultAuthTimeout),
		ThreeDSURL:         os.Getenv("THREEDS_URL"),
		ThreeDSAPIKey:      os.Getenv("THREEDS_API_KEY"),
		ThreeDSTimeout:     getEnvDuration("THREEDS_TIMEOUT", DefaultThreeDSTimeout),
		ReviewWebhookURL:   os.Getenv("REVIEW_WEBHOOK_URL"),
		DetectorInterval:   getEnvDuration("DETECTOR_INTERVAL", DefaultDetectorInterval),
		EscalatorInterval:  getEnvDuration("ESCALATOR_INTERVAL", DefaultEscalatorInterval),
		AdminSecret:        os.Getenv("ADMIN_SECRET"),
		RateLimitRPM:       int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
// The oracle and collaborators are optional: when unset the engine uses
// its neutral fallbacks, so only hard misconfigurations fail here.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT must not be empty")
	}
	if c.OracleTimeout <= 0 {
		return fmt.Errorf("ORACLE_TIMEOUT must be positive")
	}
	if c.DetectorInterval < time.Minute {
		return fmt.Errorf("DETECTOR_INTERVAL must be at least 1m")
	}
	if c.EscalatorInterval < time.Minute {
		return fmt.Errorf("ESCALATOR_INTERVAL must be at least 1m")
	}
	if c.IsProduction() && c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required in production")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
