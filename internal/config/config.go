// Package config handles application configuration loading and validation
// from environment variables, providing a type-safe configuration structure.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration values loaded from environment
// variables. It provides a centralized, type-safe way to access configuration
// throughout the application.
type Config struct {
	// Server configuration
	ListenAddr     string        // Address for the dashboard API to listen on (e.g., ":8080")
	RequestTimeout time.Duration // Read/write timeout for the HTTP server

	// Environment
	APIEnv string // 'production', 'development', 'test'

	// Encryption
	EncryptionSecret string // 64-hex-character AES-256 key for API key encryption

	// Authentication
	ManagementToken string // Bearer token required by the dashboard API

	// Database configuration
	DatabaseDriver  string // sqlite, postgres, or mysql
	DatabasePath    string // Path to the SQLite database file
	DatabaseURL     string // Connection string for postgres/mysql
	DatabasePool    int    // Number of connections in the database pool
	DatabaseMigrate bool   // Run pending migrations on startup

	// Pricing
	PricingConfigPath string // Optional YAML file overriding the built-in pricing table

	// Logging
	LogLevel  string // Log level (debug, info, warn, error)
	LogFormat string // Log format (json, console)
	LogFile   string // Path to log file (empty for stdout)

	// Audit logging
	AuditEnabled   bool   // Enable audit logging for security events
	AuditLogFile   string // Path to audit log file
	AuditCreateDir bool   // Create parent directories for the audit log file

	// Usage event bus
	EventBusBackend string // "redis", "in-memory", or "none"
	EventBusBuffer  int    // Buffer size for the in-memory event bus
	RedisAddr       string // Redis server address (e.g., "localhost:6379")
	RedisDB         int    // Redis database number
	RedisStream     string // Redis stream name for usage events
}

// New creates a new configuration with values from environment variables.
// It applies default values where environment variables are not set and
// validates required settings. The encryption secret is validated here so a
// misconfigured process fails before serving any request.
func New() (*Config, error) {
	cfg := &Config{
		ListenAddr:     getEnvString("LISTEN_ADDR", ":8080"),
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),

		APIEnv: getEnvString("API_ENV", "development"),

		EncryptionSecret: getEnvString("API_KEY_ENCRYPTION_SECRET", ""),

		ManagementToken: getEnvString("MANAGEMENT_TOKEN", ""),

		DatabaseDriver:  getEnvString("DB_DRIVER", "sqlite"),
		DatabasePath:    getEnvString("DATABASE_PATH", "./data/backoffice.db"),
		DatabaseURL:     getEnvString("DATABASE_URL", ""),
		DatabasePool:    getEnvInt("DATABASE_POOL_SIZE", 10),
		DatabaseMigrate: getEnvBool("DATABASE_AUTO_MIGRATE", true),

		PricingConfigPath: getEnvString("PRICING_CONFIG_PATH", ""),

		LogLevel:  getEnvString("LOG_LEVEL", "info"),
		LogFormat: getEnvString("LOG_FORMAT", "json"),
		LogFile:   getEnvString("LOG_FILE", ""),

		AuditEnabled:   getEnvBool("AUDIT_ENABLED", true),
		AuditLogFile:   getEnvString("AUDIT_LOG_FILE", "./data/audit.log"),
		AuditCreateDir: getEnvBool("AUDIT_CREATE_DIR", true),

		EventBusBackend: getEnvString("EVENT_BUS_BACKEND", "in-memory"),
		EventBusBuffer:  getEnvInt("EVENT_BUS_BUFFER_SIZE", 1000),
		RedisAddr:       getEnvString("REDIS_ADDR", "localhost:6379"),
		RedisDB:         getEnvInt("REDIS_DB", 0),
		RedisStream:     getEnvString("REDIS_USAGE_STREAM", "backoffice:usage-events"),
	}

	if err := ValidateEncryptionSecret(cfg.EncryptionSecret); err != nil {
		return nil, err
	}

	if cfg.ManagementToken == "" {
		return nil, fmt.Errorf("MANAGEMENT_TOKEN environment variable is required")
	}

	return cfg, nil
}

// ValidateEncryptionSecret checks that the secret is present and is exactly
// 64 hexadecimal characters (a 32-byte AES-256 key).
func ValidateEncryptionSecret(secret string) error {
	if secret == "" {
		return fmt.Errorf("API_KEY_ENCRYPTION_SECRET environment variable is required")
	}
	if len(secret) != 64 {
		return fmt.Errorf("API_KEY_ENCRYPTION_SECRET must be 64 hex characters (32 bytes), got %d characters", len(secret))
	}
	if _, err := hex.DecodeString(secret); err != nil {
		return fmt.Errorf("API_KEY_ENCRYPTION_SECRET must be valid hexadecimal: %w", err)
	}
	return nil
}

// getEnvString retrieves a string value from an environment variable,
// falling back to the provided default value if the variable is not set.
func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvBool retrieves a boolean value from an environment variable,
// falling back to the provided default value if the variable is not set
// or cannot be parsed as a boolean.
func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		parsedValue, err := strconv.ParseBool(value)
		if err == nil {
			return parsedValue
		}
	}
	return defaultValue
}

// getEnvInt retrieves an integer value from an environment variable,
// falling back to the provided default value if the variable is not set
// or cannot be parsed as an integer.
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		parsedValue, err := strconv.Atoi(value)
		if err == nil {
			return parsedValue
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration value from an environment variable,
// falling back to the provided default value if the variable is not set
// or cannot be parsed as a duration.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		parsedValue, err := time.ParseDuration(value)
		if err == nil {
			return parsedValue
		}
	}
	return defaultValue
}
