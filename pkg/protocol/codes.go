// Package protocol defines the wire protocol spoken over a task connection:
// message shapes, response envelopes, status and close codes, and the
// validation pipeline that turns raw frames into typed messages.
//
// Every message is a JSON text frame. The first frame on a connection is the
// handshake (see AuthMessage); every later frame is a tagged request (see
// Request). Responses and unsolicited pushes travel in the envelopes defined
// in envelope.go.
package protocol

import "fmt"

// Status codes carried in the "status" field of direct response envelopes.
const (
	// StatusOK marks a successful handshake acknowledgment or request
	// response.
	StatusOK = 4200

	// StatusError marks a failed request response. The "error" field
	// carries a human-readable detail.
	StatusError = 4500
)

// Close codes used when the server terminates a connection. They live in the
// 4000-4999 range reserved for application use by the WebSocket protocol.
const (
	// CloseNoBinary: a binary frame arrived; the protocol is text-only.
	CloseNoBinary = 4000

	// CloseNotJSON: a frame could not be parsed as JSON.
	CloseNotJSON = 4001

	// CloseBadMessage: a frame parsed as JSON but failed shape validation.
	CloseBadMessage = 4002

	// CloseBadLogin: the handshake credential did not match the account.
	CloseBadLogin = 4003

	// CloseTooSlow: no handshake frame arrived within the deadline.
	CloseTooSlow = 4004

	// CloseStoreError: the backing store failed during the handshake.
	CloseStoreError = 4550
)

// CloseError describes a condition that terminates the connection with a
// WebSocket close code and reason.
type CloseError struct {
	Code   int
	Reason string
}

// Error implements the error interface.
func (e *CloseError) Error() string {
	return fmt.Sprintf("close %d: %s", e.Code, e.Reason)
}

// Canonical close errors. The reason strings are part of the wire contract
// and visible to clients.
var (
	ErrNoBinary   = &CloseError{Code: CloseNoBinary, Reason: "no binary allowed"}
	ErrNotJSON    = &CloseError{Code: CloseNotJSON, Reason: "not json"}
	ErrBadMessage = &CloseError{Code: CloseBadMessage, Reason: "bad message"}
	ErrBadLogin   = &CloseError{Code: CloseBadLogin, Reason: "bad login"}
	ErrTooSlow    = &CloseError{Code: CloseTooSlow, Reason: "too slow"}
	ErrStoreDown  = &CloseError{Code: CloseStoreError, Reason: "store error"}
)
