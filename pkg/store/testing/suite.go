package testing

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmorandi/taskline/pkg/store"
)

// subscribeSettle is how long the suite waits after opening a subscription
// before publishing. Backends whose watch machinery registers asynchronously
// (badger) need a moment before a publish is guaranteed to be observed.
const subscribeSettle = 50 * time.Millisecond

// StoreTestSuite is a conformance test suite for store.Store implementations.
// It tests the interface contract, not implementation details, making it
// reusable across backends (memory, badger).
//
// Usage:
//
//	func TestMemoryStore(t *testing.T) {
//	    suite := &storetest.StoreTestSuite{
//	        NewStore: func(t *testing.T) store.Store {
//	            return memory.NewMemoryStore()
//	        },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore is a factory function that creates a fresh Store instance for
	// each test. This ensures test isolation. The store is closed by the
	// suite when the test finishes.
	NewStore func(t *testing.T) store.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("ConditionalSet", suite.RunConditionalSetTests)
	t.Run("Lists", suite.RunListTests)
	t.Run("PubSub", suite.RunPubSubTests)
	t.Run("Healthcheck", suite.testHealthcheck)
}

// newStore creates a store and registers its cleanup.
func (suite *StoreTestSuite) newStore(t *testing.T) store.Store {
	s := suite.NewStore(t)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// testContext returns a standard test context.
func testContext() context.Context {
	return context.Background()
}

// ============================================================================
// Conditional Set Tests
// ============================================================================

// RunConditionalSetTests executes all SetIfAbsent/Get contract tests.
func (suite *StoreTestSuite) RunConditionalSetTests(t *testing.T) {
	t.Run("CreatesWhenAbsent", suite.testSetIfAbsentCreates)
	t.Run("ReportsExistingAndPreservesValue", suite.testSetIfAbsentPreserves)
	t.Run("ConcurrentSingleWinner", suite.testSetIfAbsentConcurrent)
	t.Run("GetNotFound", suite.testGetNotFound)
}

func (suite *StoreTestSuite) testSetIfAbsentCreates(t *testing.T) {
	s := suite.newStore(t)

	created, err := s.SetIfAbsent(testContext(), "passwords:alice", []byte("secret"))
	require.NoError(t, err)
	assert.True(t, created)

	value, err := s.Get(testContext(), "passwords:alice")
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), value)
}

func (suite *StoreTestSuite) testSetIfAbsentPreserves(t *testing.T) {
	s := suite.newStore(t)

	created, err := s.SetIfAbsent(testContext(), "passwords:bob", []byte("first"))
	require.NoError(t, err)
	require.True(t, created)

	created, err = s.SetIfAbsent(testContext(), "passwords:bob", []byte("second"))
	require.NoError(t, err)
	assert.False(t, created)

	// First writer wins; the second value must never overwrite the first.
	value, err := s.Get(testContext(), "passwords:bob")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), value)
}

func (suite *StoreTestSuite) testSetIfAbsentConcurrent(t *testing.T) {
	s := suite.newStore(t)

	const attempts = 32

	var wg sync.WaitGroup
	results := make([]bool, attempts)
	errs := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			value := []byte(fmt.Sprintf("candidate-%d", i))
			results[i], errs[i] = s.SetIfAbsent(testContext(), "passwords:carol", value)
		}()
	}
	wg.Wait()

	winners := 0
	for i := 0; i < attempts; i++ {
		require.NoError(t, errs[i])
		if results[i] {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one concurrent conditional set must create the key")
}

func (suite *StoreTestSuite) testGetNotFound(t *testing.T) {
	s := suite.newStore(t)

	_, err := s.Get(testContext(), "passwords:nobody")
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err), "expected a not-found StoreError, got %v", err)
}

// ============================================================================
// List Tests
// ============================================================================

// RunListTests executes all Append/ReadList contract tests.
func (suite *StoreTestSuite) RunListTests(t *testing.T) {
	t.Run("EmptyListReadsEmpty", suite.testReadListEmpty)
	t.Run("AppendPreservesOrder", suite.testAppendOrder)
	t.Run("AppendAccumulatesAcrossCalls", suite.testAppendAccumulates)
	t.Run("ListsAreIsolatedByKey", suite.testListIsolation)
	t.Run("PrefixRelatedKeysAreIsolated", suite.testListPrefixIsolation)
}

func (suite *StoreTestSuite) testReadListEmpty(t *testing.T) {
	s := suite.newStore(t)

	list, err := s.ReadList(testContext(), "tasks:alice")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func (suite *StoreTestSuite) testAppendOrder(t *testing.T) {
	s := suite.newStore(t)

	require.NoError(t, s.Append(testContext(), "tasks:alice", "buy milk", "walk dog", "file taxes"))

	list, err := s.ReadList(testContext(), "tasks:alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"buy milk", "walk dog", "file taxes"}, list)
}

func (suite *StoreTestSuite) testAppendAccumulates(t *testing.T) {
	s := suite.newStore(t)

	require.NoError(t, s.Append(testContext(), "tasks:bob", "a"))
	require.NoError(t, s.Append(testContext(), "tasks:bob", "b", "c"))
	require.NoError(t, s.Append(testContext(), "tasks:bob", "d"))

	list, err := s.ReadList(testContext(), "tasks:bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, list)
}

func (suite *StoreTestSuite) testListIsolation(t *testing.T) {
	s := suite.newStore(t)

	require.NoError(t, s.Append(testContext(), "tasks:alice", "alice-task"))
	require.NoError(t, s.Append(testContext(), "tasks:bob", "bob-task"))

	aliceList, err := s.ReadList(testContext(), "tasks:alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice-task"}, aliceList)

	bobList, err := s.ReadList(testContext(), "tasks:bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob-task"}, bobList)
}

// One list key being a textual prefix of another (account ids may contain
// any characters, including ":") must not leak items between lists.
func (suite *StoreTestSuite) testListPrefixIsolation(t *testing.T) {
	s := suite.newStore(t)

	require.NoError(t, s.Append(testContext(), "tasks:alice", "alice-task"))
	require.NoError(t, s.Append(testContext(), "tasks:alice:x", "colon-task"))
	require.NoError(t, s.Append(testContext(), "tasks:alicex", "alicex-task"))

	aliceList, err := s.ReadList(testContext(), "tasks:alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice-task"}, aliceList)

	colonList, err := s.ReadList(testContext(), "tasks:alice:x")
	require.NoError(t, err)
	assert.Equal(t, []string{"colon-task"}, colonList)

	longerList, err := s.ReadList(testContext(), "tasks:alicex")
	require.NoError(t, err)
	assert.Equal(t, []string{"alicex-task"}, longerList)
}

// ============================================================================
// Pub/Sub Tests
// ============================================================================

// RunPubSubTests executes all Publish/Subscribe contract tests.
func (suite *StoreTestSuite) RunPubSubTests(t *testing.T) {
	t.Run("DeliversToAllSubscribers", suite.testPubSubFanout)
	t.Run("PublishWithoutSubscribersSucceeds", suite.testPublishNoSubscribers)
	t.Run("CloseStopsDelivery", suite.testSubscriptionClose)
	t.Run("ChannelsAreIsolated", suite.testChannelIsolation)
	t.Run("PrefixRelatedChannelsAreIsolated", suite.testChannelPrefixIsolation)
}

// receivePayload waits for one payload with a timeout so a broken fan-out
// fails the test instead of hanging it.
func receivePayload(t *testing.T, sub store.Subscription) []byte {
	t.Helper()
	select {
	case payload, ok := <-sub.C():
		require.True(t, ok, "subscription channel closed before a payload arrived")
		return payload
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published payload")
		return nil
	}
}

func (suite *StoreTestSuite) testPubSubFanout(t *testing.T) {
	s := suite.newStore(t)

	first, err := s.Subscribe(testContext(), "channel:alice")
	require.NoError(t, err)
	defer func() { _ = first.Close() }()

	second, err := s.Subscribe(testContext(), "channel:alice")
	require.NoError(t, err)
	defer func() { _ = second.Close() }()

	time.Sleep(subscribeSettle)

	require.NoError(t, s.Publish(testContext(), "channel:alice", []byte(`["a","b"]`)))

	assert.Equal(t, []byte(`["a","b"]`), receivePayload(t, first))
	assert.Equal(t, []byte(`["a","b"]`), receivePayload(t, second))
}

func (suite *StoreTestSuite) testPublishNoSubscribers(t *testing.T) {
	s := suite.newStore(t)

	require.NoError(t, s.Publish(testContext(), "channel:ghost", []byte("into the void")))
}

func (suite *StoreTestSuite) testSubscriptionClose(t *testing.T) {
	s := suite.newStore(t)

	sub, err := s.Subscribe(testContext(), "channel:bob")
	require.NoError(t, err)

	time.Sleep(subscribeSettle)
	require.NoError(t, sub.Close())

	// The delivery channel must drain and close after Close.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.C():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription channel not closed after Close")
		}
	}
}

func (suite *StoreTestSuite) testChannelIsolation(t *testing.T) {
	s := suite.newStore(t)

	aliceSub, err := s.Subscribe(testContext(), "channel:alice")
	require.NoError(t, err)
	defer func() { _ = aliceSub.Close() }()

	bobSub, err := s.Subscribe(testContext(), "channel:bob")
	require.NoError(t, err)
	defer func() { _ = bobSub.Close() }()

	time.Sleep(subscribeSettle)

	require.NoError(t, s.Publish(testContext(), "channel:alice", []byte("for alice")))

	assert.Equal(t, []byte("for alice"), receivePayload(t, aliceSub))

	select {
	case payload := <-bobSub.C():
		t.Fatalf("bob's subscription received alice's payload: %q", payload)
	case <-time.After(200 * time.Millisecond):
	}
}

// A channel name that is a textual prefix of another must never observe the
// longer channel's publishes; otherwise one account's updates would be
// pushed to a different account's sessions.
func (suite *StoreTestSuite) testChannelPrefixIsolation(t *testing.T) {
	s := suite.newStore(t)

	aliceSub, err := s.Subscribe(testContext(), "channel:alice")
	require.NoError(t, err)
	defer func() { _ = aliceSub.Close() }()

	time.Sleep(subscribeSettle)

	require.NoError(t, s.Publish(testContext(), "channel:alice2", []byte(`["not for alice"]`)))

	select {
	case payload := <-aliceSub.C():
		t.Fatalf("channel:alice subscription received channel:alice2's payload: %q", payload)
	case <-time.After(200 * time.Millisecond):
	}

	// The subscription still sees its own channel.
	require.NoError(t, s.Publish(testContext(), "channel:alice", []byte(`["for alice"]`)))
	assert.Equal(t, []byte(`["for alice"]`), receivePayload(t, aliceSub))
}

// ============================================================================
// Healthcheck Tests
// ============================================================================

func (suite *StoreTestSuite) testHealthcheck(t *testing.T) {
	s := suite.newStore(t)
	require.NoError(t, s.Healthcheck(testContext()))
}
