package config

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/lmorandi/taskline/pkg/auth"
	"github.com/lmorandi/taskline/pkg/store"
	"github.com/lmorandi/taskline/pkg/store/badger"
	"github.com/lmorandi/taskline/pkg/store/memory"
)

// CreateStore creates a store based on configuration.
//
// The Type field selects the implementation; the matching type-specific map
// is decoded into the implementation's own config struct and passed to its
// constructor.
//
// Supported types:
//   - "memory": in-process store, nothing survives a restart
//   - "badger": BadgerDB-backed store with on-disk persistence
func CreateStore(ctx context.Context, cfg *StoreConfig) (store.Store, error) {
	switch cfg.Type {
	case "memory":
		return memory.NewMemoryStore(), nil
	case "badger":
		return createBadgerStore(ctx, cfg.Badger)
	default:
		return nil, fmt.Errorf("unknown store type: %q", cfg.Type)
	}
}

// createBadgerStore creates a BadgerDB-backed store.
func createBadgerStore(ctx context.Context, options map[string]any) (store.Store, error) {
	var storeCfg badger.BadgerStoreConfig
	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode badger store config: %w", err)
	}

	if storeCfg.DBPath == "" && !storeCfg.InMemory {
		return nil, fmt.Errorf("badger store: db_path is required unless in_memory is set")
	}

	s, err := badger.NewBadgerStore(ctx, &storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create badger store: %w", err)
	}

	return s, nil
}

// CreateVerifier creates the credential verifier selected by configuration.
func CreateVerifier(cfg *AuthConfig) (auth.Verifier, error) {
	switch cfg.Verifier {
	case "plaintext":
		return auth.NewPlaintextVerifier(), nil
	case "bcrypt":
		return auth.NewBcryptVerifier(cfg.BcryptCost), nil
	default:
		return nil, fmt.Errorf("unknown credential verifier: %q", cfg.Verifier)
	}
}
