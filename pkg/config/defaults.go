package config

import (
	"strings"
	"time"
)

// ApplyDefaults sets default values for any unspecified configuration
// fields.
//
// Called after loading configuration from file and environment so missing
// values end up with a runnable configuration: an enabled WebSocket adapter
// on port 5050 over an in-memory store.
//
// Zero values (0, "", false, nil) are replaced with defaults; explicit
// values are preserved. Store-specific defaults beyond the type selection
// are handled by the store implementations.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyStoreDefaults(&cfg.Store)
	applyAuthDefaults(&cfg.Auth)
	applyAdaptersDefaults(&cfg.Adapters)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyServerDefaults sets server-wide defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyStoreDefaults sets store defaults.
func applyStoreDefaults(cfg *StoreConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}

	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}

	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = "/var/lib/taskline/badger"
	}
}

// applyAuthDefaults sets credential verifier defaults.
func applyAuthDefaults(cfg *AuthConfig) {
	if cfg.Verifier == "" {
		cfg.Verifier = "bcrypt"
	}
}

// applyAdaptersDefaults sets adapter defaults. Whether the WebSocket
// adapter is enabled is decided at the viper layer (see setupViper), where
// an absent key can still be told apart from an explicit false.
func applyAdaptersDefaults(cfg *AdaptersConfig) {
	if cfg.WebSocket.Port == 0 {
		cfg.WebSocket.Port = 5050
	}
	if cfg.WebSocket.HandshakeTimeout == 0 {
		cfg.WebSocket.HandshakeTimeout = time.Second
	}
	if cfg.WebSocket.ShutdownTimeout == 0 {
		cfg.WebSocket.ShutdownTimeout = 30 * time.Second
	}
}
