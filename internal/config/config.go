// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Trace store. A postgres:// URL selects the Postgres backend,
	// anything else is treated as a SQLite file path.
	DatabaseURL string

	// Document intake settings.
	UploadDir      string // Where accepted uploads are persisted.
	MaxUploadBytes int64  // Maximum size of a single uploaded file.
	BatchLimit     int    // Maximum concurrent runs within one batch request.

	// Outbound action settings.
	ActionBaseURL     string // Base URL the dispatcher posts alerts to.
	ActionMaxAttempts int
	ActionBaseDelay   time.Duration
	ActionTimeout     time.Duration // Per-attempt timeout.

	// JWT settings.
	JWTPrivateKeyPath string // Path to Ed25519 private key PEM file.
	JWTPublicKeyPath  string // Path to Ed25519 public key PEM file.
	JWTExpiration     time.Duration

	// Admin bootstrap.
	AdminAPIKey string // API key for the initial admin client.

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string

	// Rate limiting. Zero RPS disables the limiter.
	RateLimitRPS        int           // Sustained requests per second per client.
	RateLimitBurst      int           // Token bucket capacity.
	RateLimitStaleAfter time.Duration // Idle time before a client's bucket is reclaimed.

	// Operational settings.
	LogLevel            string
	MaxRequestBodyBytes int64 // Maximum request body size in bytes.
	MountDevSinks       bool  // Mount loopback action sink endpoints for local runs.
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                envInt("KIROKU_PORT", 8080),
		ReadTimeout:         envDuration("KIROKU_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        envDuration("KIROKU_WRITE_TIMEOUT", 30*time.Second),
		DatabaseURL:         envStr("KIROKU_DATABASE_URL", "kiroku.db"),
		UploadDir:           envStr("KIROKU_UPLOAD_DIR", "uploads"),
		MaxUploadBytes:      int64(envInt("KIROKU_MAX_UPLOAD_BYTES", 16*1024*1024)), // 16 MB default
		BatchLimit:          envInt("KIROKU_BATCH_LIMIT", 8),
		ActionBaseURL:       envStr("KIROKU_ACTION_BASE_URL", "http://localhost:8080/v1/sinks"),
		ActionMaxAttempts:   envInt("KIROKU_ACTION_MAX_ATTEMPTS", 3),
		ActionBaseDelay:     envDuration("KIROKU_ACTION_BASE_DELAY", 1*time.Second),
		ActionTimeout:       envDuration("KIROKU_ACTION_TIMEOUT", 4*time.Second),
		JWTPrivateKeyPath:   envStr("KIROKU_JWT_PRIVATE_KEY", ""),
		JWTPublicKeyPath:    envStr("KIROKU_JWT_PUBLIC_KEY", ""),
		JWTExpiration:       envDuration("KIROKU_JWT_EXPIRATION", 24*time.Hour),
		AdminAPIKey:         envStr("KIROKU_ADMIN_API_KEY", ""),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "kiroku"),
		RateLimitRPS:        envInt("KIROKU_RATE_LIMIT_RPS", 0),
		RateLimitBurst:      envInt("KIROKU_RATE_LIMIT_BURST", 20),
		RateLimitStaleAfter: envDuration("KIROKU_RATE_LIMIT_STALE_AFTER", 10*time.Minute),
		LogLevel:            envStr("KIROKU_LOG_LEVEL", "info"),
		MaxRequestBodyBytes: int64(envInt("KIROKU_MAX_REQUEST_BODY_BYTES", 1*1024*1024)), // 1 MB default
		MountDevSinks:       envBool("KIROKU_MOUNT_DEV_SINKS", false),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: KIROKU_DATABASE_URL is required")
	}
	if c.ActionBaseURL == "" {
		return fmt.Errorf("config: KIROKU_ACTION_BASE_URL is required")
	}
	if c.ActionMaxAttempts <= 0 {
		return fmt.Errorf("config: KIROKU_ACTION_MAX_ATTEMPTS must be positive")
	}
	if c.BatchLimit <= 0 {
		return fmt.Errorf("config: KIROKU_BATCH_LIMIT must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("config: KIROKU_MAX_UPLOAD_BYTES must be positive")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: KIROKU_MAX_REQUEST_BODY_BYTES must be positive")
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("config: KIROKU_RATE_LIMIT_RPS must not be negative")
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst <= 0 {
		return fmt.Errorf("config: KIROKU_RATE_LIMIT_BURST must be positive when rate limiting is enabled")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
