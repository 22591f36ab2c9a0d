// Package config provides configuration management for the IAP reconciler.
// It handles loading configuration from environment variables with sensible
// defaults and validates the configuration so the service starts safely.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - MAX_BODY_BYTES: Maximum accepted webhook body size (default: 102400)
//   - TLS_CERT / TLS_KEY: certificate pair; when both are set the server
//     serves HTTPS directly instead of relying on an upstream terminator
//
// Database Configuration:
//   - POSTGRES_HOST: PostgreSQL host (required)
//   - POSTGRES_PORT: PostgreSQL port (default: 5432)
//   - POSTGRES_DB: PostgreSQL database name (required)
//   - POSTGRES_USER: PostgreSQL username (required)
//   - POSTGRES_PASSWORD: PostgreSQL password
//   - POSTGRES_SSL_MODE: PostgreSQL SSL mode (default: prefer)
//
// Redis Configuration (optional; enables cross-instance deduplication):
//   - REDIS_ADDRESS: Redis server address
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number (default: 0)
//
// Platform trust parameters:
//   - APPLE_ROOT_CA_PATH: PEM file with the App Store root certificate (required)
//
// Pub/Sub pull ingestion (optional; replaces the push endpoint for Platform B):
//   - PUBSUB_PROJECT: GCP project ID
//   - PUBSUB_SUBSCRIPTION: RTDN subscription ID
//
// Expiry sweep:
//   - SWEEP_SCHEDULE: cron expression (default: "0 */6 * * *")
//   - SWEEP_GRACE: how far past expiry before the sweep deactivates (default: 24h)
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the reconciler service.
type Config struct {
	// Application settings
	Port         string
	LogLevel     string
	MaxBodyBytes int64
	TLSCert      string
	TLSKey       string

	// PostgreSQL
	PostgresHost     string
	PostgresPort     int
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string

	// Redis (optional)
	RedisAddress  string
	RedisPassword string
	RedisDB       int

	// Platform trust
	AppleRootCAPath string

	// Freshness windows
	AppleMaxAge  time.Duration
	GoogleMaxAge time.Duration

	// Pub/Sub pull ingestion (optional)
	PubSubProject      string
	PubSubSubscription string

	// Expiry sweep
	SweepSchedule string
	SweepGrace    time.Duration
}

// Load reads configuration from environment variables, applying defaults.
func Load() *Config {
	return &Config{
		Port:         getEnv("PORT", "8080"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		MaxBodyBytes: getEnvInt64("MAX_BODY_BYTES", 100*1024),
		TLSCert:      os.Getenv("TLS_CERT"),
		TLSKey:       os.Getenv("TLS_KEY"),

		PostgresHost:     os.Getenv("POSTGRES_HOST"),
		PostgresPort:     getEnvInt("POSTGRES_PORT", 5432),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "prefer"),

		RedisAddress:  os.Getenv("REDIS_ADDRESS"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		AppleRootCAPath: os.Getenv("APPLE_ROOT_CA_PATH"),

		AppleMaxAge:  getEnvDuration("APPLE_MAX_AGE", 5*time.Minute),
		GoogleMaxAge: getEnvDuration("GOOGLE_MAX_AGE", 60*time.Minute),

		PubSubProject:      os.Getenv("PUBSUB_PROJECT"),
		PubSubSubscription: os.Getenv("PUBSUB_SUBSCRIPTION"),

		SweepSchedule: getEnv("SWEEP_SCHEDULE", "0 */6 * * *"),
		SweepGrace:    getEnvDuration("SWEEP_GRACE", 24*time.Hour),
	}
}

// Validate checks that the configuration is complete enough to start.
func (c *Config) Validate() error {
	if c.PostgresHost == "" {
		return fmt.Errorf("POSTGRES_HOST is required")
	}
	if c.PostgresDB == "" {
		return fmt.Errorf("POSTGRES_DB is required")
	}
	if c.PostgresUser == "" {
		return fmt.Errorf("POSTGRES_USER is required")
	}
	if c.AppleRootCAPath == "" {
		return fmt.Errorf("APPLE_ROOT_CA_PATH is required")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("MAX_BODY_BYTES must be positive")
	}
	if c.AppleMaxAge <= 0 || c.GoogleMaxAge <= 0 {
		return fmt.Errorf("freshness windows must be positive")
	}
	if c.PubSubSubscription != "" && c.PubSubProject == "" {
		return fmt.Errorf("PUBSUB_PROJECT is required when PUBSUB_SUBSCRIPTION is set")
	}
	return nil
}

// PostgresConnString builds the pgx connection string from the parts.
func (c *Config) PostgresConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.PostgresUser),
		url.QueryEscape(c.PostgresPassword),
		c.PostgresHost,
		c.PostgresPort,
		c.PostgresDB,
		c.PostgresSSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
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
