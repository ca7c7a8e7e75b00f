// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for the corrections database and store snapshots (always absolute)
	Port     int
	LogLevel string
	DevMode  bool

	// Quote REST API
	QuoteAPIBaseURL string
	QuoteAPIKey     string

	// Streaming relay
	RelayURL             string
	StreamMaxSymbols     int
	StreamReconnectDelay time.Duration

	// Background jobs
	RefreshInterval  time.Duration
	EODRequestDelay  time.Duration
	ExchangeTimezone string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("QUOTESYNC_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("PORT", 8001),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		QuoteAPIBaseURL: getEnv("QUOTE_API_BASE_URL", "https://api.twelvedata.com"),
		QuoteAPIKey:     getEnv("QUOTE_API_KEY", ""),

		RelayURL:             getEnv("RELAY_WS_URL", ""),
		StreamMaxSymbols:     getEnvAsInt("STREAM_MAX_SYMBOLS", 200),
		StreamReconnectDelay: getEnvAsDuration("STREAM_RECONNECT_DELAY", 5*time.Second),

		RefreshInterval:  getEnvAsDuration("REFRESH_INTERVAL", time.Minute),
		EODRequestDelay:  getEnvAsDuration("EOD_REQUEST_DELAY", 300*time.Millisecond),
		ExchangeTimezone: getEnv("EXCHANGE_TIMEZONE", "America/New_York"),
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	// API key and relay URL are optional: without them the server still
	// serves cached and snapshot data, it just cannot refresh it.
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.StreamMaxSymbols <= 0 {
		return fmt.Errorf("invalid stream symbol limit: %d", c.StreamMaxSymbols)
	}
	return nil
}

// DatabasePath returns the corrections database location inside DataDir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "quotesync.db")
}

// SnapshotPath returns the quote store snapshot location inside DataDir.
func (c *Config) SnapshotPath() string {
	return filepath.Join(c.DataDir, "quotes.snapshot")
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

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
