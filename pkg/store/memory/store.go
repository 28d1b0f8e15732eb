package memory

import (
	"context"
	"sync"

	"github.com/lmorandi/taskline/pkg/store"
)

// subscriberBuffer is the per-subscription delivery buffer. Fan-out is
// best-effort: a subscriber that falls this far behind loses payloads rather
// than blocking the publisher.
const subscriberBuffer = 16

// MemoryStore implements store.Store using in-memory data structures.
//
// This implementation is suitable for:
//   - Testing and development environments
//   - Ephemeral deployments where persistence is not required
//
// Thread Safety:
// All operations are protected by a single read-write mutex (mu), making the
// store safe for concurrent access from multiple goroutines. SetIfAbsent's
// check-and-write runs entirely under the write lock, which is what makes it
// a valid arbiter for concurrent account creation.
//
// Storage Model:
//   - values: point keys (credential records)
//   - lists: append-only ordered lists (task lists)
//   - subscribers: channel name → set of live subscriptions
type MemoryStore struct {
	// mu protects all fields in this struct for concurrent access.
	mu sync.RWMutex

	values map[string][]byte
	lists  map[string][]string

	// subscribers maps a channel name to its live subscriptions.
	subscribers map[string]map[*subscription]struct{}

	closed bool
}

// NewMemoryStore creates an empty in-memory store ready for use.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:      make(map[string][]byte),
		lists:       make(map[string][]string),
		subscribers: make(map[string]map[*subscription]struct{}),
	}
}

// SetIfAbsent writes value under key only if the key does not exist.
func (s *MemoryStore) SetIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, &store.StoreError{Code: store.ErrClosed, Message: "store is closed"}
	}

	if _, exists := s.values[key]; exists {
		return false, nil
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	s.values[key] = stored

	return true, nil
}

// Get returns the value stored under key.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, &store.StoreError{Code: store.ErrClosed, Message: "store is closed"}
	}

	value, exists := s.values[key]
	if !exists {
		return nil, &store.StoreError{Code: store.ErrNotFound, Message: "key " + key + " not found"}
	}

	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Append appends items to the ordered list stored under key.
func (s *MemoryStore) Append(ctx context.Context, key string, items ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &store.StoreError{Code: store.ErrClosed, Message: "store is closed"}
	}

	s.lists[key] = append(s.lists[key], items...)
	return nil
}

// ReadList returns the full ordered list stored under key.
func (s *MemoryStore) ReadList(ctx context.Context, key string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, &store.StoreError{Code: store.ErrClosed, Message: "store is closed"}
	}

	list := s.lists[key]
	out := make([]string, len(list))
	copy(out, list)
	return out, nil
}

// Publish broadcasts payload to every live subscription on the channel.
// Subscribers that cannot keep up are skipped, never blocked on.
func (s *MemoryStore) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return &store.StoreError{Code: store.ErrClosed, Message: "store is closed"}
	}

	for sub := range s.subscribers[channel] {
		delivered := make([]byte, len(payload))
		copy(delivered, payload)

		select {
		case sub.ch <- delivered:
		default:
			// Subscriber buffer full. Best-effort delivery: drop.
		}
	}

	return nil
}

// Subscribe opens a subscription to the named channel. The subscription is
// torn down when Close is called or when ctx is cancelled.
func (s *MemoryStore) Subscribe(ctx context.Context, channel string) (store.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, &store.StoreError{Code: store.ErrClosed, Message: "store is closed"}
	}

	sub := &subscription{
		store:   s,
		channel: channel,
		ch:      make(chan []byte, subscriberBuffer),
		closed:  make(chan struct{}),
	}

	subs, ok := s.subscribers[channel]
	if !ok {
		subs = make(map[*subscription]struct{})
		s.subscribers[channel] = subs
	}
	subs[sub] = struct{}{}

	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.closed:
		}
	}()

	return sub, nil
}

// Healthcheck always succeeds for the in-memory store unless it was closed.
func (s *MemoryStore) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return &store.StoreError{Code: store.ErrClosed, Message: "store is closed"}
	}
	return nil
}

// Close tears down all subscriptions and marks the store unusable.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	for _, subs := range s.subscribers {
		for sub := range subs {
			sub.closeLocked()
		}
	}
	s.subscribers = make(map[string]map[*subscription]struct{})

	return nil
}

// removeSubscription unregisters a subscription. Called from Close on the
// subscription itself.
func (s *MemoryStore) removeSubscription(sub *subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs, ok := s.subscribers[sub.channel]
	if !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(s.subscribers, sub.channel)
	}
}

// subscription is the memory store's store.Subscription implementation.
type subscription struct {
	store   *MemoryStore
	channel string
	ch      chan []byte

	once   sync.Once
	closed chan struct{}
}

func (sub *subscription) C() <-chan []byte {
	return sub.ch
}

// Close unregisters the subscription and closes its delivery channel. After
// Close returns no further payloads are delivered.
func (sub *subscription) Close() error {
	sub.once.Do(func() {
		sub.store.removeSubscription(sub)
		sub.markClosed()
		close(sub.ch)
	})
	return nil
}

// closeLocked closes the subscription while the store's write lock is already
// held (store shutdown path).
func (sub *subscription) closeLocked() {
	sub.once.Do(func() {
		sub.markClosed()
		close(sub.ch)
	})
}

func (sub *subscription) markClosed() {
	close(sub.closed)
}
