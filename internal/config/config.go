// Package config provides configuration management for the REST API server.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vyrodovalexey/items-api/internal/store"
)

// Default configuration values.
const (
	DefaultServerPort      = 8080
	DefaultLogLevel        = "info"
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMetricsEnabled  = true
	DefaultDatabaseDriver  = store.DriverSQLite
	DefaultDatabaseURL     = "items.db"
	DefaultDatabaseTable   = store.DefaultTable
	DefaultMaxPageSize     = 100
)

// EnvPrefix is prepended to every configuration key when read from the
// environment, e.g. server_port -> APP_SERVER_PORT.
const EnvPrefix = "APP"

// DotEnvFile is read when present and no explicit config file is given.
const DotEnvFile = ".env"

// Configuration keys.
const (
	KeyServerPort      = "server_port"
	KeyLogLevel        = "log_level"
	KeyShutdownTimeout = "shutdown_timeout"
	KeyMetricsEnabled  = "metrics_enabled"
	KeyDatabaseDriver  = "database_driver"
	KeyDatabaseURL     = "database_url"
	KeyDatabaseTable   = "database_table"
	KeyAPIKey          = "api_key"
	KeyMaxPageSize     = "max_page_size"
)

// Config holds the application configuration.
type Config struct {
	// Server settings.
	ServerPort      int
	LogLevel        string
	ShutdownTimeout time.Duration
	MetricsEnabled  bool

	// Store settings.
	DatabaseDriver string
	DatabaseURL    string
	DatabaseTable  string

	// Shared secret expected in the X-API-Key header.
	APIKey string

	// Upper bound for page_size on listings (0 = unbounded).
	MaxPageSize int
}

// Validation errors.
var (
	ErrInvalidServerPort      = errors.New("server port must be between 1 and 65535")
	ErrInvalidLogLevel        = errors.New("log level must be one of: debug, info, warn, error")
	ErrInvalidShutdownTimeout = errors.New("shutdown timeout must be positive")
	ErrInvalidDatabaseDriver  = errors.New("database driver must be one of: memory, sqlite, postgres")
	ErrMissingDatabaseURL     = errors.New("database URL must be set for sql drivers")
	ErrMissingDatabaseTable   = errors.New("database table must be set for sql drivers")
	ErrMissingAPIKey          = errors.New("API key must be set")
	ErrInvalidMaxPageSize     = errors.New("max page size must not be negative")
)

// Load reads configuration from defaults, an optional config file and the
// environment. Environment variables have priority over the file, which has
// priority over defaults. When configFile is empty a .env file in the working
// directory is used if it exists.
func Load(configFile string) (*Config, error) {
	v := newViper()

	if err := readConfigFile(v, configFile); err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}

	cfg := &Config{
		ServerPort:      v.GetInt(KeyServerPort),
		LogLevel:        strings.ToLower(v.GetString(KeyLogLevel)),
		ShutdownTimeout: v.GetDuration(KeyShutdownTimeout),
		MetricsEnabled:  v.GetBool(KeyMetricsEnabled),
		DatabaseDriver:  strings.ToLower(v.GetString(KeyDatabaseDriver)),
		DatabaseURL:     v.GetString(KeyDatabaseURL),
		DatabaseTable:   v.GetString(KeyDatabaseTable),
		APIKey:          v.GetString(KeyAPIKey),
		MaxPageSize:     v.GetInt(KeyMaxPageSize),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// newViper creates a viper instance with defaults and environment bindings.
func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault(KeyServerPort, DefaultServerPort)
	v.SetDefault(KeyLogLevel, DefaultLogLevel)
	v.SetDefault(KeyShutdownTimeout, DefaultShutdownTimeout)
	v.SetDefault(KeyMetricsEnabled, DefaultMetricsEnabled)
	v.SetDefault(KeyDatabaseDriver, DefaultDatabaseDriver)
	v.SetDefault(KeyDatabaseURL, DefaultDatabaseURL)
	v.SetDefault(KeyDatabaseTable, DefaultDatabaseTable)
	v.SetDefault(KeyAPIKey, "")
	v.SetDefault(KeyMaxPageSize, DefaultMaxPageSize)

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	// Unprefixed names are accepted for the two required settings.
	_ = v.BindEnv(KeyDatabaseURL, "APP_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv(KeyAPIKey, "APP_API_KEY", "API_KEY")

	return v
}

// readConfigFile loads configFile, or the .env file if present.
func readConfigFile(v *viper.Viper, configFile string) error {
	if configFile == "" {
		if _, err := os.Stat(DotEnvFile); err != nil {
			return nil
		}
		v.SetConfigFile(DotEnvFile)
		v.SetConfigType("env")
	} else {
		v.SetConfigFile(configFile)
	}

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading %s: %w", v.ConfigFileUsed(), err)
	}

	return nil
}

// Validate checks if the configuration values are valid.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}

	if err := c.validateStore(); err != nil {
		return err
	}

	if strings.TrimSpace(c.APIKey) == "" {
		return ErrMissingAPIKey
	}

	return nil
}

// validateServer validates server-related configuration.
func (c *Config) validateServer() error {
	if c.ServerPort < 1 || c.ServerPort > 65535 {
		return ErrInvalidServerPort
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return ErrInvalidLogLevel
	}

	if c.ShutdownTimeout <= 0 {
		return ErrInvalidShutdownTimeout
	}

	if c.MaxPageSize < 0 {
		return ErrInvalidMaxPageSize
	}

	return nil
}

// validateStore validates persistence configuration.
func (c *Config) validateStore() error {
	switch c.DatabaseDriver {
	case store.DriverMemory:
		return nil
	case store.DriverSQLite, store.DriverPostgres:
		if c.DatabaseURL == "" {
			return ErrMissingDatabaseURL
		}
		if c.DatabaseTable == "" {
			return ErrMissingDatabaseTable
		}
		return nil
	default:
		return ErrInvalidDatabaseDriver
	}
}

// Address returns the server address in host:port format.
func (c *Config) Address() string {
	return fmt.Sprintf(":%d", c.ServerPort)
}
