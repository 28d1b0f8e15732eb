package store

import (
	"context"
	"errors"
	"fmt"
)

// ============================================================================
// Store Interface
// ============================================================================

// Store is the key-value capability backing the task list service.
//
// The interface is deliberately narrow: it exposes exactly the operations the
// protocol needs. A conditional write for race-free account creation, point
// reads for credential lookup, an append-only ordered list per key, and a
// named broadcast channel with publish/subscribe fan-out. Implementations
// are free to map these onto any backend that can provide them atomically.
//
// Atomicity requirements:
//   - SetIfAbsent must be atomic with respect to concurrent SetIfAbsent calls
//     for the same key. It is the sole arbiter of "who registered first";
//     callers never pair it with a separate existence check.
//   - Append must preserve the order of items within a single call and the
//     order of concurrent calls relative to each other (some serialization
//     point must exist per key).
//
// Fan-out semantics:
// Publish delivers the payload to every subscription open on the channel at
// the time of the publish, including subscriptions held by the publisher
// itself. Delivery is best-effort: a slow subscriber may miss payloads, and
// publishes to a channel with no subscribers are not an error.
//
// Thread Safety:
// Implementations must be safe for concurrent use by multiple goroutines.
type Store interface {
	// SetIfAbsent writes value under key only if the key does not exist.
	//
	// Returns:
	//   - bool: true if this call created the key, false if it already existed
	//     (in which case the stored value is untouched)
	//   - error: backend failure or context cancellation
	SetIfAbsent(ctx context.Context, key string, value []byte) (bool, error)

	// Get returns the value stored under key.
	//
	// Returns:
	//   - []byte: the stored value (a copy the caller may retain)
	//   - error: a StoreError with ErrNotFound if the key does not exist,
	//     backend failure, or context cancellation
	Get(ctx context.Context, key string) ([]byte, error)

	// Append appends items to the ordered list stored under key, creating
	// the list if it does not exist. Items are appended in argument order.
	Append(ctx context.Context, key string, items ...string) error

	// ReadList returns the full ordered list stored under key. A key with no
	// list yields an empty slice, not an error.
	ReadList(ctx context.Context, key string) ([]string, error)

	// Publish broadcasts payload on the named channel to all current
	// subscribers. It does not wait for delivery.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe opens a subscription to the named channel. Payloads published
	// after this call returns are delivered on the subscription's channel.
	// The caller must Close the subscription when done; Close is synchronous
	// and after it returns no further payloads are delivered.
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	// Healthcheck verifies the backend is operational. Fast, read-only.
	Healthcheck(ctx context.Context) error

	// Close releases backend resources. The store must not be used afterward.
	Close() error
}

// Subscription is a live feed of payloads published on one channel.
type Subscription interface {
	// C returns the delivery channel. It is closed after Close is called
	// (or the subscription's context is cancelled).
	C() <-chan []byte

	// Close tears the subscription down. Safe to call more than once.
	Close() error
}

// ============================================================================
// Errors
// ============================================================================

// ErrorCode classifies store failures for callers that need to distinguish
// "not there" from "backend broken".
type ErrorCode int

const (
	// ErrNotFound indicates the requested key does not exist.
	ErrNotFound ErrorCode = iota

	// ErrUnavailable indicates the backend could not serve the request.
	ErrUnavailable

	// ErrClosed indicates the store has been closed.
	ErrClosed
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNotFound:
		return "not found"
	case ErrUnavailable:
		return "unavailable"
	case ErrClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StoreError is the error type returned for business-logic store failures.
type StoreError struct {
	Code    ErrorCode
	Message string
}

func (e *StoreError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("store: %s", e.Code)
	}
	return fmt.Sprintf("store: %s: %s", e.Code, e.Message)
}

// IsNotFound reports whether err is a StoreError with ErrNotFound.
func IsNotFound(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Code == ErrNotFound
}
