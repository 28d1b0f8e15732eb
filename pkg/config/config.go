package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/lmorandi/taskline/pkg/adapter/ws"
)

// Config represents the complete taskline configuration.
//
// It captures all configurable aspects of the server:
//   - Logging configuration
//   - Server-wide settings
//   - Store selection and store-specific configuration
//   - Credential verifier selection
//   - Protocol adapter configurations
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (TASKLINE_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
//
// Store configuration pattern:
// Each store implementation defines its own configuration type and factory.
// The Config struct contains type-specific sections (store.memory,
// store.badger) and only the section matching the selected type is used.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains server-wide settings
	Server ServerConfig `mapstructure:"server"`

	// Store specifies the store type and type-specific configuration
	Store StoreConfig `mapstructure:"store"`

	// Auth selects how account credentials are stored and checked
	Auth AuthConfig `mapstructure:"auth"`

	// Adapters contains protocol adapter configurations
	Adapters AdaptersConfig `mapstructure:"adapters"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains server-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`
}

// StoreConfig specifies the backing store configuration.
//
// The Type field determines which store implementation is used. Only the
// corresponding type-specific section is read.
type StoreConfig struct {
	// Type specifies which store implementation to use
	// Valid values: memory, badger
	Type string `mapstructure:"type" validate:"required,oneof=memory badger"`

	// Memory contains memory-specific configuration
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger"`
}

// AuthConfig selects the credential verifier.
type AuthConfig struct {
	// Verifier specifies how passwords are stored
	// Valid values: plaintext, bcrypt
	Verifier string `mapstructure:"verifier" validate:"required,oneof=plaintext bcrypt"`

	// BcryptCost is the bcrypt work factor; 0 selects the library default.
	// Only used when Verifier = "bcrypt"
	BcryptCost int `mapstructure:"bcrypt_cost" validate:"min=0,max=31"`
}

// AdaptersConfig contains all protocol adapter configurations.
type AdaptersConfig struct {
	// WebSocket contains WebSocket transport configuration.
	// Uses the ws.WSConfig type directly to avoid duplication.
	WebSocket ws.WSConfig `mapstructure:"websocket"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: path to config file (empty string uses the default
//     location)
//
// Returns the loaded and validated configuration.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures environment variable and config file handling.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the TASKLINE_ prefix and underscores.
	// Example: TASKLINE_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("TASKLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The WebSocket adapter defaults to enabled. This has to be a viper
	// default rather than an ApplyDefaults fixup: after unmarshalling, an
	// absent key and an explicit "enabled: false" are indistinguishable,
	// and an explicit false must survive so validation can reject a
	// configuration with no active adapter.
	v.SetDefault("adapters.websocket.enabled", true)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists. A missing file
// is fine; the defaults carry a runnable configuration.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		// An explicitly named file that does not exist also falls back to
		// defaults; viper reports that as a plain path error.
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path. Uses
// XDG_CONFIG_HOME if set, otherwise ~/.config, falling back to the current
// directory when no home directory can be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "taskline")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "taskline")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
