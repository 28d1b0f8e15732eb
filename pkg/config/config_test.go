package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/lmorandi/taskline/pkg/auth"
	"github.com/lmorandi/taskline/pkg/store/badger"
	"github.com/lmorandi/taskline/pkg/store/memory"
)

// writeConfigFile renders a fixture to YAML in a temp dir and returns its
// path.
func writeConfigFile(t *testing.T, fixture map[string]any) string {
	t.Helper()

	raw, err := yaml.Marshal(fixture)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "stdout", cfg.Logging.Output)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, "bcrypt", cfg.Auth.Verifier)
	assert.True(t, cfg.Adapters.WebSocket.Enabled)
	assert.Equal(t, 5050, cfg.Adapters.WebSocket.Port)
	assert.Equal(t, time.Second, cfg.Adapters.WebSocket.HandshakeTimeout)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, map[string]any{
		"logging": map[string]any{"level": "debug"},
		"store": map[string]any{
			"type":   "badger",
			"badger": map[string]any{"db_path": "/tmp/taskline-test"},
		},
		"auth": map[string]any{"verifier": "plaintext"},
		"adapters": map[string]any{
			"websocket": map[string]any{
				"port":              6060,
				"handshake_timeout": "250ms",
			},
		},
	})

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level, "level is normalized to uppercase")
	assert.Equal(t, "badger", cfg.Store.Type)
	assert.Equal(t, "/tmp/taskline-test", cfg.Store.Badger["db_path"])
	assert.Equal(t, "plaintext", cfg.Auth.Verifier)
	assert.Equal(t, 6060, cfg.Adapters.WebSocket.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.Adapters.WebSocket.HandshakeTimeout)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, map[string]any{
		"logging": map[string]any{"level": "info"},
	})

	t.Setenv("TASKLINE_LOGGING_LEVEL", "error")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ERROR", cfg.Logging.Level)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	t.Run("BadStoreType", func(t *testing.T) {
		path := writeConfigFile(t, map[string]any{
			"store": map[string]any{"type": "redis"},
		})

		_, err := Load(path)
		require.Error(t, err)
	})

	t.Run("BadLogLevel", func(t *testing.T) {
		path := writeConfigFile(t, map[string]any{
			"logging": map[string]any{"level": "verbose"},
		})

		_, err := Load(path)
		require.Error(t, err)
	})

	t.Run("BadVerifier", func(t *testing.T) {
		path := writeConfigFile(t, map[string]any{
			"auth": map[string]any{"verifier": "md5"},
		})

		_, err := Load(path)
		require.Error(t, err)
	})

	t.Run("AdapterDisabled", func(t *testing.T) {
		// An explicit "enabled: false" must survive loading (only an
		// absent key gets the enabled default) and be rejected, since the
		// server has no other transport to serve.
		path := writeConfigFile(t, map[string]any{
			"adapters": map[string]any{
				"websocket": map[string]any{"enabled": false},
			},
		})

		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least one adapter")
	})
}

func TestValidateCustomRules(t *testing.T) {
	t.Run("BadgerNeedsPathOrInMemory", func(t *testing.T) {
		cfg := &Config{}
		ApplyDefaults(cfg)
		cfg.Adapters.WebSocket.Enabled = true
		cfg.Store.Type = "badger"
		cfg.Store.Badger = map[string]any{"db_path": ""}

		require.Error(t, Validate(cfg))
	})

	t.Run("BadgerInMemoryAllowed", func(t *testing.T) {
		cfg := &Config{}
		ApplyDefaults(cfg)
		cfg.Adapters.WebSocket.Enabled = true
		cfg.Store.Type = "badger"
		cfg.Store.Badger = map[string]any{"db_path": "", "in_memory": true}

		require.NoError(t, Validate(cfg))
	})

	t.Run("NoEnabledAdapterRejected", func(t *testing.T) {
		cfg := &Config{}
		ApplyDefaults(cfg)
		cfg.Adapters.WebSocket.Enabled = false

		err := Validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least one adapter")
	})
}

func TestCreateStore(t *testing.T) {
	t.Run("Memory", func(t *testing.T) {
		s, err := CreateStore(context.Background(), &StoreConfig{Type: "memory"})
		require.NoError(t, err)
		defer func() { _ = s.Close() }()
		assert.IsType(t, &memory.MemoryStore{}, s)
	})

	t.Run("BadgerInMemory", func(t *testing.T) {
		s, err := CreateStore(context.Background(), &StoreConfig{
			Type:   "badger",
			Badger: map[string]any{"in_memory": true},
		})
		require.NoError(t, err)
		defer func() { _ = s.Close() }()
		assert.IsType(t, &badger.BadgerStore{}, s)
	})

	t.Run("BadgerOnDisk", func(t *testing.T) {
		s, err := CreateStore(context.Background(), &StoreConfig{
			Type:   "badger",
			Badger: map[string]any{"db_path": t.TempDir()},
		})
		require.NoError(t, err)
		require.NoError(t, s.Close())
	})

	t.Run("BadgerMissingPath", func(t *testing.T) {
		_, err := CreateStore(context.Background(), &StoreConfig{
			Type:   "badger",
			Badger: map[string]any{},
		})
		require.Error(t, err)
	})

	t.Run("UnknownType", func(t *testing.T) {
		_, err := CreateStore(context.Background(), &StoreConfig{Type: "redis"})
		require.Error(t, err)
	})
}

func TestCreateVerifier(t *testing.T) {
	t.Run("Plaintext", func(t *testing.T) {
		v, err := CreateVerifier(&AuthConfig{Verifier: "plaintext"})
		require.NoError(t, err)
		assert.IsType(t, &auth.PlaintextVerifier{}, v)
	})

	t.Run("Bcrypt", func(t *testing.T) {
		v, err := CreateVerifier(&AuthConfig{Verifier: "bcrypt"})
		require.NoError(t, err)
		assert.IsType(t, &auth.BcryptVerifier{}, v)
	})

	t.Run("Unknown", func(t *testing.T) {
		_, err := CreateVerifier(&AuthConfig{Verifier: "md5"})
		require.Error(t, err)
	})
}
