package tasks

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmorandi/taskline/pkg/store/memory"
)

func TestServiceListEmpty(t *testing.T) {
	s := memory.NewMemoryStore()
	defer func() { _ = s.Close() }()
	svc := NewService(s)

	list, err := svc.List(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestServiceAddThenList(t *testing.T) {
	s := memory.NewMemoryStore()
	defer func() { _ = s.Close() }()
	svc := NewService(s)

	require.NoError(t, svc.Add(context.Background(), "alice", []string{"buy milk"}))
	require.NoError(t, svc.Add(context.Background(), "alice", []string{"walk dog", "file taxes"}))

	list, err := svc.List(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"buy milk", "walk dog", "file taxes"}, list)
}

func TestServiceAccountsAreIsolated(t *testing.T) {
	s := memory.NewMemoryStore()
	defer func() { _ = s.Close() }()
	svc := NewService(s)

	require.NoError(t, svc.Add(context.Background(), "alice", []string{"alice-task"}))
	require.NoError(t, svc.Add(context.Background(), "bob", []string{"bob-task"}))

	aliceList, err := svc.List(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice-task"}, aliceList)

	bobList, err := svc.List(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob-task"}, bobList)
}

func TestServiceWatchReceivesAddedBatch(t *testing.T) {
	s := memory.NewMemoryStore()
	defer func() { _ = s.Close() }()
	svc := NewService(s)

	sub, err := svc.Watch(context.Background(), "alice")
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	require.NoError(t, svc.Add(context.Background(), "alice", []string{"buy milk", "walk dog"}))

	select {
	case payload := <-sub.C():
		var items []string
		require.NoError(t, json.Unmarshal(payload, &items))
		assert.Equal(t, []string{"buy milk", "walk dog"}, items)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for task broadcast")
	}
}

func TestServiceWatchIgnoresOtherAccounts(t *testing.T) {
	s := memory.NewMemoryStore()
	defer func() { _ = s.Close() }()
	svc := NewService(s)

	sub, err := svc.Watch(context.Background(), "alice")
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	require.NoError(t, svc.Add(context.Background(), "bob", []string{"bob-task"}))

	select {
	case payload := <-sub.C():
		t.Fatalf("alice's watch received bob's broadcast: %s", payload)
	case <-time.After(200 * time.Millisecond):
	}
}
