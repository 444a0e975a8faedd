// Package config provides configuration management for the trigger engine.
// It loads configuration from environment variables with sensible defaults
// and validates it so the application starts safely.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Health endpoint port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - LOG_FILE: Log file path, stdout when empty
//
// Database Configuration:
//   - DATABASE_TYPE: "sqlite", "postgres" or "memory" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./flow_triggers.db)
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_DB, POSTGRES_USER,
//     POSTGRES_PASSWORD, POSTGRES_SSL_MODE
//
// Redis Configuration:
//   - REDIS_ADDRESS: Redis server address, empty disables Redis
//   - REDIS_PASSWORD, REDIS_DB (0-15), REDIS_POOL_SIZE
//
// Trigger Engine:
//   - ORG_LOCK_TTL: Per-organization lock lifetime (default: 30s)
//   - FIRE_DEDUP_TTL: How long a fired event is remembered (default: 24h)
//   - FIRE_DEDUP_CACHE_SIZE: Local dedup cache entries (default: 10000)
//   - MIN_IMPORT_VERSION: Lowest accepted import document version (default: 3)
//   - SITE_ORIGIN: This deployment's origin, used to match ids on import
//
// Messaging:
//   - BROKER_TYPE: "redis", "rabbitmq" or "none" for an in-process broker (default: redis)
//   - RABBITMQ_URL: RabbitMQ connection URL
//   - INBOUND_TOPIC: Topic inbound events are consumed from (default: inbound-events)
//   - WORKFLOW_TOPIC: Topic workflow start requests are published to (default: workflow-starts)
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the trigger engine.
type Config struct {
	// Application settings
	Port     string
	LogLevel string
	LogFile  string

	// Database configuration
	DatabaseType     string // "sqlite", "postgres" or "memory"
	DatabasePath     string
	PostgresHost     string
	PostgresPort     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string

	// Redis configuration for distributed coordination
	RedisAddress  string
	RedisPassword string
	RedisDB       string
	RedisPoolSize string

	// Trigger engine settings
	OrgLockTTL         time.Duration
	FireDedupTTL       time.Duration
	FireDedupCacheSize int
	MinImportVersion   int
	SiteOrigin         string

	// Messaging
	BrokerType    string
	RabbitMQURL   string
	InboundTopic  string
	WorkflowTopic string
}

// Load creates a new Config with values loaded from environment variables.
// Call Validate on the result before use.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),

		DatabaseType:     getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath:     getEnv("DATABASE_PATH", "./flow_triggers.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "flow_triggers"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		RedisAddress:  getEnv("REDIS_ADDRESS", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnv("REDIS_DB", "0"),
		RedisPoolSize: getEnv("REDIS_POOL_SIZE", "10"),

		OrgLockTTL:         getDurationEnv("ORG_LOCK_TTL", 30*time.Second),
		FireDedupTTL:       getDurationEnv("FIRE_DEDUP_TTL", 24*time.Hour),
		FireDedupCacheSize: getIntEnv("FIRE_DEDUP_CACHE_SIZE", 10000),
		MinImportVersion:   getIntEnv("MIN_IMPORT_VERSION", 3),
		SiteOrigin:         getEnv("SITE_ORIGIN", ""),

		BrokerType:    getEnv("BROKER_TYPE", "redis"),
		RabbitMQURL:   getEnv("RABBITMQ_URL", ""),
		InboundTopic:  getEnv("INBOUND_TOPIC", "inbound-events"),
		WorkflowTopic: getEnv("WORKFLOW_TOPIC", "workflow-starts"),
	}
}

// getEnv retrieves an environment variable value or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv returns the integer value of key, or defaultValue when unset or malformed.
// Malformed values are caught by Validate through the raw variable.
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
		return -1
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
		return -1
	}
	return defaultValue
}

// RedisEnabled reports whether a Redis address is configured
func (c *Config) RedisEnabled() bool {
	return c.RedisAddress != ""
}

// IsPostgres reports whether the PostgreSQL backend is selected
func (c *Config) IsPostgres() bool {
	return c.DatabaseType == "postgres" || c.DatabaseType == "postgresql"
}

// Validate checks required fields, formats and cross-field dependencies.
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	switch c.DatabaseType {
	case "sqlite", "postgres", "postgresql", "memory":
	default:
		return fmt.Errorf("DATABASE_TYPE must be 'sqlite', 'postgres' or 'memory'")
	}

	if c.DatabaseType == "sqlite" && c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required when using SQLite")
	}

	if c.IsPostgres() {
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required when using PostgreSQL")
		}
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required when using PostgreSQL")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required when using PostgreSQL")
		}
		if port, err := strconv.Atoi(c.PostgresPort); err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("POSTGRES_PORT must be a valid port number")
		}
	}

	if c.RedisEnabled() {
		if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
			return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
		}
		if poolSize, err := strconv.Atoi(c.RedisPoolSize); err != nil || poolSize < 1 {
			return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
		}
	}

	if c.OrgLockTTL <= 0 {
		return fmt.Errorf("ORG_LOCK_TTL must be a positive duration (e.g., '30s')")
	}
	if c.FireDedupTTL <= 0 {
		return fmt.Errorf("FIRE_DEDUP_TTL must be a positive duration (e.g., '24h')")
	}
	if c.FireDedupCacheSize < 1 {
		return fmt.Errorf("FIRE_DEDUP_CACHE_SIZE must be a positive number")
	}
	if c.MinImportVersion < 0 {
		return fmt.Errorf("MIN_IMPORT_VERSION must be a non-negative number")
	}

	switch c.BrokerType {
	case "redis":
		if !c.RedisEnabled() {
			return fmt.Errorf("REDIS_ADDRESS is required when BROKER_TYPE is redis")
		}
	case "rabbitmq":
		if c.RabbitMQURL == "" {
			return fmt.Errorf("RABBITMQ_URL is required when BROKER_TYPE is rabbitmq")
		}
	case "none":
	default:
		return fmt.Errorf("BROKER_TYPE must be 'redis', 'rabbitmq' or 'none'")
	}

	if c.InboundTopic == "" || c.WorkflowTopic == "" {
		return fmt.Errorf("INBOUND_TOPIC and WORKFLOW_TOPIC must not be empty")
	}

	return nil
}
