// Package auth implements account credential handling.
//
// Accounts are created implicitly: the first login for an unknown account
// identifier registers it with the presented password, and every later login
// must present the same password. How passwords are stored is pluggable
// through the Verifier interface.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrBadCredentials is returned when a presented password does not match the
// account's stored credential.
var ErrBadCredentials = errors.New("bad credentials")

// Verifier encodes passwords for storage and checks presented passwords
// against stored encodings. Implementations must be safe for concurrent use.
type Verifier interface {
	// Encode transforms a plaintext password into its stored form.
	Encode(password string) ([]byte, error)

	// Verify checks a presented plaintext password against a stored
	// encoding. It returns ErrBadCredentials on mismatch and other errors
	// only for malformed stored encodings.
	Verify(stored []byte, presented string) error
}

// ============================================================================
// Plaintext verifier
// ============================================================================

// PlaintextVerifier stores passwords as-is and compares them in constant
// time. It exists for compatibility with stores populated by earlier
// deployments and for tests; new deployments should prefer BcryptVerifier.
type PlaintextVerifier struct{}

// NewPlaintextVerifier creates a plaintext verifier.
func NewPlaintextVerifier() *PlaintextVerifier {
	return &PlaintextVerifier{}
}

// Encode returns the password unchanged.
func (v *PlaintextVerifier) Encode(password string) ([]byte, error) {
	return []byte(password), nil
}

// Verify compares the stored and presented passwords in constant time.
func (v *PlaintextVerifier) Verify(stored []byte, presented string) error {
	if subtle.ConstantTimeCompare(stored, []byte(presented)) != 1 {
		return ErrBadCredentials
	}
	return nil
}

// ============================================================================
// Bcrypt verifier
// ============================================================================

// BcryptVerifier stores bcrypt hashes of passwords.
type BcryptVerifier struct {
	cost int
}

// NewBcryptVerifier creates a bcrypt verifier with the given cost. A cost of
// zero selects bcrypt's default.
func NewBcryptVerifier(cost int) *BcryptVerifier {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &BcryptVerifier{cost: cost}
}

// Encode hashes the password with bcrypt.
func (v *BcryptVerifier) Encode(password string) ([]byte, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), v.cost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}
	return hash, nil
}

// Verify checks the presented password against the stored bcrypt hash.
func (v *BcryptVerifier) Verify(stored []byte, presented string) error {
	err := bcrypt.CompareHashAndPassword(stored, []byte(presented))
	if err == nil {
		return nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrBadCredentials
	}
	return fmt.Errorf("checking password hash: %w", err)
}
