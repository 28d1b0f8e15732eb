package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/lmorandi/taskline/pkg/store"
)

// maxTxnRetries bounds the retry loop for optimistic transaction conflicts.
// Conflicts only arise under concurrent writers to the same key; a handful
// of retries is always enough because each retry re-reads current state.
const maxTxnRetries = 16

// BadgerStore implements store.Store using BadgerDB for persistence.
//
// This implementation is suitable for production deployments that must keep
// credential records and task lists across restarts. It maps the logical
// layout onto namespaced physical keys (see keys.go) and uses badger's own
// primitives for the two correctness-critical pieces:
//
//   - SetIfAbsent runs as a single read-check-write transaction. Badger's
//     optimistic concurrency control detects conflicting concurrent writes
//     and the losing transaction retries, at which point it observes the
//     winner's key and reports "already present". Exactly one concurrent
//     caller ever observes "created".
//
//   - Publish/Subscribe ride on badger's prefix Subscribe: a publish is a
//     Set on the channel's physical key, and every subscription watches that
//     key's prefix. Payloads are fanned out to subscribers in flight; the
//     stored value itself is never read back.
//
// Thread Safety:
// All operations are safe for concurrent use. Badger transactions provide
// per-key serialization; no additional locking is needed.
type BadgerStore struct {
	// db is the BadgerDB database handle (thread-safe, internal MVCC)
	db *badger.DB
}

// BadgerStoreConfig contains configuration for creating a Badger-backed store.
type BadgerStoreConfig struct {
	// DBPath is the directory where BadgerDB will store its files.
	DBPath string `mapstructure:"db_path"`

	// InMemory runs badger without any files on disk. Intended for tests;
	// DBPath is ignored when set.
	InMemory bool `mapstructure:"in_memory"`
}

// NewBadgerStore opens (or creates) a BadgerDB database at the configured
// path and returns a store ready for use.
//
// Badger options follow the values the workload wants: warning-level logging
// to keep noise down, and no compression since every value here is small.
func NewBadgerStore(ctx context.Context, config *BadgerStoreConfig) (*BadgerStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(config.DBPath)
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", config.DBPath, err)
	}

	return &BadgerStore{db: db}, nil
}

// SetIfAbsent writes value under key only if the key does not exist.
//
// The existence check and the write run in one transaction, which is the
// property that makes this the arbiter for concurrent account creation.
func (s *BadgerStore) SetIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var created bool

	err := s.update(func(txn *badger.Txn) error {
		created = false

		_, err := txn.Get(keyValue(key))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := txn.Set(keyValue(key), value); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("conditional set of %s failed: %w", key, err)
	}

	return created, nil
}

// Get returns the value stored under key.
func (s *BadgerStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var value []byte

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyValue(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return &store.StoreError{Code: store.ErrNotFound, Message: "key " + key + " not found"}
		}
		if err != nil {
			return err
		}

		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	return value, nil
}

// Healthcheck verifies the database can serve a read transaction.
func (s *BadgerStore) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.db.IsClosed() {
		return &store.StoreError{Code: store.ErrClosed, Message: "store is closed"}
	}

	return s.db.View(func(txn *badger.Txn) error {
		return nil
	})
}

// Close closes the BadgerDB database and releases all resources. Open
// subscriptions are terminated by badger as part of the close.
func (s *BadgerStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close BadgerDB: %w", err)
	}
	return nil
}

// update runs fn in a read-write transaction, retrying on optimistic
// conflict. Each retry re-executes fn against fresh state.
func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxTxnRetries; i++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

// encodeSeq and decodeSeq (de)serialize the list sequence counter.

func encodeSeq(seq uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return buf
}

func decodeSeq(buf []byte) (uint64, error) {
	if len(buf) != 8 {
		return 0, fmt.Errorf("malformed list sequence counter: %d bytes", len(buf))
	}
	return binary.BigEndian.Uint64(buf), nil
}
