package auth

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmorandi/taskline/pkg/store/memory"
)

func TestPlaintextVerifier(t *testing.T) {
	v := NewPlaintextVerifier()

	stored, err := v.Encode("hunter2")
	require.NoError(t, err)
	assert.Equal(t, []byte("hunter2"), stored)

	t.Run("Match", func(t *testing.T) {
		require.NoError(t, v.Verify(stored, "hunter2"))
	})

	t.Run("Mismatch", func(t *testing.T) {
		assert.ErrorIs(t, v.Verify(stored, "hunter3"), ErrBadCredentials)
	})

	t.Run("EmptyPresented", func(t *testing.T) {
		assert.ErrorIs(t, v.Verify(stored, ""), ErrBadCredentials)
	})
}

func TestBcryptVerifier(t *testing.T) {
	v := NewBcryptVerifier(4) // minimum cost keeps the test fast

	stored, err := v.Encode("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, []byte("hunter2"), stored, "bcrypt must not store the plaintext")

	t.Run("Match", func(t *testing.T) {
		require.NoError(t, v.Verify(stored, "hunter2"))
	})

	t.Run("Mismatch", func(t *testing.T) {
		assert.ErrorIs(t, v.Verify(stored, "hunter3"), ErrBadCredentials)
	})

	t.Run("MalformedHash", func(t *testing.T) {
		err := v.Verify([]byte("not a bcrypt hash"), "hunter2")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrBadCredentials)
	})
}

func newTestNegotiator(t *testing.T) *Negotiator {
	t.Helper()
	s := memory.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })
	return NewNegotiator(s, NewPlaintextVerifier())
}

func TestNegotiatorCreatesUnknownAccount(t *testing.T) {
	n := newTestNegotiator(t)

	created, err := n.CreateOrAuthenticate(context.Background(), "alice", "secret")
	require.NoError(t, err)
	assert.True(t, created)
}

func TestNegotiatorAuthenticatesExistingAccount(t *testing.T) {
	n := newTestNegotiator(t)

	_, err := n.CreateOrAuthenticate(context.Background(), "alice", "secret")
	require.NoError(t, err)

	created, err := n.CreateOrAuthenticate(context.Background(), "alice", "secret")
	require.NoError(t, err)
	assert.False(t, created)
}

func TestNegotiatorRejectsWrongPassword(t *testing.T) {
	n := newTestNegotiator(t)

	_, err := n.CreateOrAuthenticate(context.Background(), "alice", "secret")
	require.NoError(t, err)

	_, err = n.CreateOrAuthenticate(context.Background(), "alice", "wrong")
	assert.ErrorIs(t, err, ErrBadCredentials)
}

func TestNegotiatorConcurrentRegistrationSingleWinner(t *testing.T) {
	n := newTestNegotiator(t)

	const attempts = 16

	var wg sync.WaitGroup
	createdFlags := make([]bool, attempts)
	errs := make([]error, attempts)

	// Every goroutine presents the same password, so the losers of the
	// registration race must still authenticate successfully.
	for i := 0; i < attempts; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			createdFlags[i], errs[i] = n.CreateOrAuthenticate(context.Background(), "alice", "secret")
		}()
	}
	wg.Wait()

	winners := 0
	for i := 0; i < attempts; i++ {
		require.NoError(t, errs[i])
		if createdFlags[i] {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one concurrent login must register the account")
}
