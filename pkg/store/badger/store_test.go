package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmorandi/taskline/pkg/store"
	storetest "github.com/lmorandi/taskline/pkg/store/testing"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := NewBadgerStore(context.Background(), &BadgerStoreConfig{InMemory: true})
	require.NoError(t, err)
	return s
}

func TestBadgerStoreConformance(t *testing.T) {
	suite := &storetest.StoreTestSuite{
		NewStore: newTestStore,
	}
	suite.Run(t)
}

func TestBadgerStorePersistence(t *testing.T) {
	dir := t.TempDir()

	s, err := NewBadgerStore(context.Background(), &BadgerStoreConfig{DBPath: dir})
	require.NoError(t, err)

	created, err := s.SetIfAbsent(context.Background(), "passwords:alice", []byte("secret"))
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, s.Append(context.Background(), "tasks:alice", "buy milk", "walk dog"))
	require.NoError(t, s.Close())

	// Reopen the same directory and verify everything survived.
	s, err = NewBadgerStore(context.Background(), &BadgerStoreConfig{DBPath: dir})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	value, err := s.Get(context.Background(), "passwords:alice")
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), value)

	list, err := s.ReadList(context.Background(), "tasks:alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"buy milk", "walk dog"}, list)
}

func TestBadgerStoreHealthcheckAfterClose(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Close())

	err := s.Healthcheck(context.Background())
	require.Error(t, err)

	var storeErr *store.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, store.ErrClosed, storeErr.Code)
}

func TestBadgerStoreSubscriptionCloseIsSynchronous(t *testing.T) {
	s := newTestStore(t)
	defer func() { _ = s.Close() }()

	sub, err := s.Subscribe(context.Background(), "channel:alice")
	require.NoError(t, err)

	require.NoError(t, sub.Close())

	// By the time Close returns the watch goroutine has exited, so the
	// delivery channel must already be closed.
	select {
	case _, ok := <-sub.C():
		assert.False(t, ok)
	default:
		t.Fatal("delivery channel still open after Close returned")
	}
}

func TestBadgerStoreKeyEncoding(t *testing.T) {
	t.Run("ListItemKeysSortBySequence", func(t *testing.T) {
		// Fixed-width hex sequence numbers keep lexicographic iteration
		// order equal to append order, even past single digits.
		s := newTestStore(t)
		defer func() { _ = s.Close() }()

		items := make([]string, 0, 20)
		for i := 0; i < 20; i++ {
			items = append(items, string(rune('a'+i)))
		}
		require.NoError(t, s.Append(context.Background(), "tasks:alice", items...))

		list, err := s.ReadList(context.Background(), "tasks:alice")
		require.NoError(t, err)
		assert.Equal(t, items, list)
	})

	t.Run("ScanPrefixesArePrefixFree", func(t *testing.T) {
		// The length-prefixed item encoding must keep one list's scan range
		// disjoint from every other list's, including logical keys that
		// extend each other.
		prefix := keyListItemPrefix("tasks:alice")

		for _, other := range []string{"tasks:alice:x", "tasks:alicex"} {
			item := keyListItem(other, 0)
			assert.False(t, len(item) >= len(prefix) && string(item[:len(prefix)]) == string(prefix),
				"scan prefix %q matches %q's item key %q", prefix, other, item)
		}

		own := keyListItem("tasks:alice", 0)
		assert.Equal(t, string(prefix), string(own[:len(prefix)]))
	})

	t.Run("ValueAndListNamespacesDoNotCollide", func(t *testing.T) {
		s := newTestStore(t)
		defer func() { _ = s.Close() }()

		created, err := s.SetIfAbsent(context.Background(), "tasks:alice", []byte("not a list"))
		require.NoError(t, err)
		require.True(t, created)

		require.NoError(t, s.Append(context.Background(), "tasks:alice", "item"))

		value, err := s.Get(context.Background(), "tasks:alice")
		require.NoError(t, err)
		assert.Equal(t, []byte("not a list"), value)

		list, err := s.ReadList(context.Background(), "tasks:alice")
		require.NoError(t, err)
		assert.Equal(t, []string{"item"}, list)
	})
}
