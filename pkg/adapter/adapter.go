package adapter

import (
	"context"

	"github.com/lmorandi/taskline/pkg/auth"
	"github.com/lmorandi/taskline/pkg/tasks"
)

// Adapter represents a protocol-specific server adapter managed by Server.
//
// Each adapter exposes the task service over one transport (currently
// WebSocket) and provides a unified interface for lifecycle management. All
// adapters share the same task service and authentication negotiator.
//
// Lifecycle:
//  1. Creation: adapter is created with transport-specific configuration
//  2. Service injection: SetServices() provides the shared backends
//  3. Startup: Serve() starts the listener and blocks until shutdown
//  4. Shutdown: Stop() initiates graceful shutdown with timeout
//
// Thread safety:
// Implementations must be safe for concurrent use. SetServices() is called
// once before Serve(), but Stop() may be called concurrently with Serve().
type Adapter interface {
	// Serve starts the transport and blocks until the context is cancelled
	// or an unrecoverable error occurs.
	//
	// When the context is cancelled, Serve must initiate graceful shutdown:
	// stop accepting new connections, drain active sessions with a timeout,
	// then force-close whatever remains. If Serve returns before context
	// cancellation, Server treats it as a fatal error.
	Serve(ctx context.Context) error

	// SetServices injects the shared task service and auth negotiator.
	//
	// Called exactly once by Server before Serve(); no synchronization
	// needed.
	SetServices(svc *tasks.Service, negotiator *auth.Negotiator)

	// Stop initiates graceful shutdown. It must be idempotent, safe to call
	// concurrently with Serve(), and respect the context deadline for how
	// long to wait on draining sessions.
	Stop(ctx context.Context) error

	// Protocol returns the human-readable transport name for logging.
	Protocol() string

	// Port returns the TCP port the adapter listens on.
	Port() int
}
