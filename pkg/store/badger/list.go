package badger

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// Append appends items to the ordered list stored under key.
//
// Each item becomes its own physical key carrying a monotonically increasing
// sequence number; the counter read, the item writes, and the counter update
// all happen in one transaction, so concurrent appends serialize per key and
// never interleave the items of a single call.
func (s *BadgerStore) Append(ctx context.Context, key string, items ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	err := s.update(func(txn *badger.Txn) error {
		seq := uint64(0)

		item, err := txn.Get(keyListSeq(key))
		if err == nil {
			buf, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			seq, err = decodeSeq(buf)
			if err != nil {
				return err
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		for _, it := range items {
			if err := txn.Set(keyListItem(key, seq), []byte(it)); err != nil {
				return err
			}
			seq++
		}

		return txn.Set(keyListSeq(key), encodeSeq(seq))
	})
	if err != nil {
		return fmt.Errorf("append to list %s failed: %w", key, err)
	}

	return nil
}

// ReadList returns the full ordered list stored under key.
//
// Items are read with a single prefix scan; the zero-padded sequence keys
// guarantee iteration order equals append order. A key that was never
// appended to yields an empty slice.
func (s *BadgerStore) ReadList(ctx context.Context, key string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	items := []string{}

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyListItemPrefix(key)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			value, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			items = append(items, string(value))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read of list %s failed: %w", key, err)
	}

	return items, nil
}
