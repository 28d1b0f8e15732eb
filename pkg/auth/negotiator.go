package auth

import (
	"context"
	"fmt"

	"github.com/lmorandi/taskline/internal/logger"
	"github.com/lmorandi/taskline/pkg/store"
)

// Negotiator performs create-or-authenticate logins against a store.
type Negotiator struct {
	store    store.Store
	verifier Verifier
}

// NewNegotiator creates a negotiator using the given store and verifier.
func NewNegotiator(s store.Store, v Verifier) *Negotiator {
	return &Negotiator{store: s, verifier: v}
}

// CreateOrAuthenticate logs an account in, registering it first if it does
// not exist yet.
//
// The store's conditional set is the atomicity arbiter: when several devices
// race to register the same new account, exactly one presented password
// becomes the account's credential and the losers are authenticated against
// it like any other login. The returned flag reports whether this call
// created the account.
//
// A mismatched password returns ErrBadCredentials; any other error is a
// store or encoding failure.
func (n *Negotiator) CreateOrAuthenticate(ctx context.Context, accountID, password string) (bool, error) {
	encoded, err := n.verifier.Encode(password)
	if err != nil {
		return false, fmt.Errorf("encoding credential: %w", err)
	}

	key := store.CredentialKey(accountID)

	created, err := n.store.SetIfAbsent(ctx, key, encoded)
	if err != nil {
		return false, fmt.Errorf("registering account: %w", err)
	}
	if created {
		logger.Info("auth: registered new account %s", accountID)
		return true, nil
	}

	stored, err := n.store.Get(ctx, key)
	if err != nil {
		// The key existed a moment ago. Treat a vanished credential as a
		// store failure rather than guessing.
		return false, fmt.Errorf("loading credential: %w", err)
	}

	if err := n.verifier.Verify(stored, password); err != nil {
		return false, err
	}
	return false, nil
}
