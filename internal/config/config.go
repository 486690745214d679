package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Store backends
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	NodeEnv         string
	Port            string
	LogLevel        string
	EncKey          string
	DeriveKey       bool
	ShutdownTimeout time.Duration
	Store           StoreConfig
	Database        DatabaseConfig
	Realtime        RealtimeConfig
}

// StoreConfig selects and locates the message log medium
type StoreConfig struct {
	Backend      string
	MessagesFile string
	SQLitePath   string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	Alter    bool
}

// RealtimeConfig holds live subscription settings
type RealtimeConfig struct {
	SubscriberBuffer int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	buffer, err := strconv.Atoi(getEnv("SUBSCRIBER_BUFFER", "64"))
	if err != nil || buffer <= 0 {
		return nil, fmt.Errorf("SUBSCRIBER_BUFFER must be a positive integer")
	}

	shutdown, err := time.ParseDuration(getEnv("SHUTDOWN_TIMEOUT", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}

	cfg := &Config{
		NodeEnv:         getEnv("NODE_ENV", "development"),
		Port:            getEnv("PORT", "3210"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		EncKey:          os.Getenv("MESSAGE_ENC_KEY"),
		DeriveKey:       getEnv("MESSAGE_KEY_DERIVE", "false") == "true",
		ShutdownTimeout: shutdown,
		Store: StoreConfig{
			Backend:      getEnv("STORE_BACKEND", BackendFile),
			MessagesFile: getEnv("MESSAGES_FILE", "./data/messages.json"),
			SQLitePath:   getEnv("SQLITE_PATH", "./data/messages.db"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("PG_HOST", "localhost"),
			Port:     getEnv("PG_PORT", "5432"),
			Username: getEnv("PG_USERNAME", "postgres"),
			Password: os.Getenv("PG_PASSWORD"),
			Database: getEnv("PG_DATABASE", "chatrelay"),
			Alter:    getEnv("DB_ALTER", "false") == "true",
		},
		Realtime: RealtimeConfig{
			SubscriberBuffer: buffer,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail late
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendFile, BackendPostgres, BackendSQLite, BackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q (want file, postgres, sqlite or memory)", c.Store.Backend)
	}
	if c.Port == "" {
		return fmt.Errorf("PORT must not be empty")
	}
	return nil
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
