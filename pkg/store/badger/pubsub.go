package badger

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/pb"

	"github.com/lmorandi/taskline/pkg/store"
)

// subscriberBuffer is the per-subscription delivery buffer. A subscriber
// that falls this far behind loses payloads rather than stalling the badger
// subscription callback.
const subscriberBuffer = 16

// Publish broadcasts payload on the named channel.
//
// A publish is a plain Set on the channel's physical key; badger's watch
// machinery delivers it to every open subscription on that prefix. The key
// also ends up holding the last published payload, but nothing reads it.
func (s *BadgerStore) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.update(func(txn *badger.Txn) error {
		return txn.Set(keyChannel(channel), payload)
	})
	if err != nil {
		return fmt.Errorf("publish to channel %s failed: %w", channel, err)
	}

	return nil
}

// Subscribe opens a subscription to the named channel, backed by badger's
// prefix Subscribe. The watch goroutine runs until Close is called or ctx
// is cancelled, then closes the delivery channel.
func (s *BadgerStore) Subscribe(ctx context.Context, channel string) (store.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.db.IsClosed() {
		return nil, &store.StoreError{Code: store.ErrClosed, Message: "store is closed"}
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		cancel: cancel,
		ch:     make(chan []byte, subscriberBuffer),
		done:   make(chan struct{}),
	}

	channelKey := keyChannel(channel)
	matches := []pb.Match{{Prefix: channelKey}}

	go func() {
		defer close(sub.done)
		defer close(sub.ch)

		// Blocks until subCtx is cancelled or the database closes. Badger
		// matches on prefix, so "ch:channel:alice" would also observe
		// publishes to "ch:channel:alice2"; the callback keeps only exact
		// key matches so channels stay isolated.
		_ = s.db.Subscribe(subCtx, func(kvs *badger.KVList) error {
			for _, kv := range kvs.Kv {
				if !bytes.Equal(kv.Key, channelKey) {
					continue
				}
				if len(kv.Value) == 0 {
					continue
				}

				payload := make([]byte, len(kv.Value))
				copy(payload, kv.Value)

				select {
				case sub.ch <- payload:
				default:
					// Subscriber buffer full. Best-effort delivery: drop.
				}
			}
			return nil
		}, matches)
	}()

	return sub, nil
}

// subscription is the badger store's store.Subscription implementation.
type subscription struct {
	cancel context.CancelFunc
	ch     chan []byte
	done   chan struct{}
	once   sync.Once
}

func (sub *subscription) C() <-chan []byte {
	return sub.ch
}

// Close cancels the underlying badger watch and waits for the watch
// goroutine to exit, so the delivery channel is closed by the time Close
// returns.
func (sub *subscription) Close() error {
	sub.once.Do(sub.cancel)
	<-sub.done
	return nil
}
