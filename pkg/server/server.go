// Package server orchestrates protocol adapters over a shared task service.
package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lmorandi/taskline/internal/logger"
	"github.com/lmorandi/taskline/pkg/adapter"
	"github.com/lmorandi/taskline/pkg/auth"
	"github.com/lmorandi/taskline/pkg/tasks"
)

// stopTimeout bounds how long shutdown waits on each adapter's Stop call.
const stopTimeout = 30 * time.Second

// Server manages the lifecycle of the protocol adapters that expose the
// task service.
//
// All adapters share the same task service and authentication negotiator,
// so every transport presents the same accounts and task lists.
//
// Lifecycle:
//  1. Creation: New() with the shared services
//  2. Registration: AddAdapter() for each transport
//  3. Startup: Serve() starts all adapters concurrently
//  4. Shutdown: context cancellation stops all adapters gracefully
//
// Thread safety:
// AddAdapter() may be called concurrently before Serve(). Serve() must only
// be called once per instance.
type Server struct {
	// tasks is the shared task service for all adapters
	tasks *tasks.Service

	// auth is the shared create-or-authenticate negotiator
	auth *auth.Negotiator

	// adapters contains all registered protocol adapters
	adapters []adapter.Adapter

	// mu protects the adapters slice and the served flag
	mu sync.Mutex

	// served reports whether Serve() has been called
	served bool
}

// New creates a Server with the provided services.
//
// Panics if either service is nil, which indicates a programmer error.
func New(svc *tasks.Service, negotiator *auth.Negotiator) *Server {
	if svc == nil {
		panic("task service cannot be nil")
	}
	if negotiator == nil {
		panic("auth negotiator cannot be nil")
	}

	return &Server{
		tasks: svc,
		auth:  negotiator,
	}
}

// AddAdapter registers a protocol adapter and injects the shared services
// into it. Duplicate protocols and port conflicts are rejected.
//
// Panics if the adapter is nil or if Serve() has already been called.
func (s *Server) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		panic("cannot add adapter after Serve() has been called")
	}

	protocol := a.Protocol()
	port := a.Port()

	for _, existing := range s.adapters {
		if existing.Protocol() == protocol {
			return fmt.Errorf("adapter for protocol %s already registered", protocol)
		}
		if existing.Port() == port {
			return fmt.Errorf("port %d already in use by %s adapter", port, existing.Protocol())
		}
	}

	a.SetServices(s.tasks, s.auth)
	s.adapters = append(s.adapters, a)

	logger.Info("Registered %s adapter on port %d", protocol, port)
	return nil
}

// Serve starts all registered adapters and blocks until the context is
// cancelled or an adapter fails.
//
// On shutdown, adapters are stopped in reverse registration order and Serve
// waits for all of them to finish before returning.
//
// Returns context.Canceled when shutdown was triggered by the context, or
// the failing adapter's error.
//
// Panics if called more than once or with no adapters registered.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.served {
		s.mu.Unlock()
		panic("Serve() has already been called on this server instance")
	}
	s.served = true
	if len(s.adapters) == 0 {
		s.mu.Unlock()
		return fmt.Errorf("no adapters registered; call AddAdapter() before Serve()")
	}
	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	s.mu.Unlock()

	logger.Info("Starting server with %d adapter(s)", len(adapters))

	// Buffered so simultaneous failures do not leak goroutines.
	errChan := make(chan adapterError, len(adapters))

	var wg sync.WaitGroup

	for _, adp := range adapters {
		wg.Add(1)
		go func(a adapter.Adapter) {
			defer wg.Done()

			protocol := a.Protocol()
			logger.Info("Starting %s adapter on port %d", protocol, a.Port())

			if err := a.Serve(ctx); err != nil {
				// context.Canceled is the expected outcome of shutdown.
				if err != context.Canceled && ctx.Err() == nil {
					logger.Error("%s adapter failed: %v", protocol, err)
					errChan <- adapterError{protocol: protocol, err: err}
				} else {
					logger.Debug("%s adapter stopped gracefully", protocol)
				}
			} else {
				logger.Info("%s adapter stopped", protocol)
			}
		}(adp)
	}

	var shutdownErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		s.stopAllAdapters(adapters)
		shutdownErr = ctx.Err()

	case adapterErr := <-errChan:
		logger.Error("Adapter %s failed: %v - stopping all adapters",
			adapterErr.protocol, adapterErr.err)
		s.stopAllAdapters(adapters)
		shutdownErr = fmt.Errorf("%s adapter error: %w", adapterErr.protocol, adapterErr.err)
	}

	logger.Debug("Waiting for all adapters to complete shutdown")
	wg.Wait()

	logger.Info("Server stopped")
	return shutdownErr
}

// adapterError pairs an adapter protocol with its failure.
type adapterError struct {
	protocol string
	err      error
}

// stopAllAdapters signals every adapter to shut down, in reverse
// registration order. Errors are logged but do not abort the remaining
// stops.
func (s *Server) stopAllAdapters(adapters []adapter.Adapter) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	logger.Info("Stopping %d adapter(s)", len(adapters))

	for i := len(adapters) - 1; i >= 0; i-- {
		adp := adapters[i]
		if err := adp.Stop(ctx); err != nil && err != context.Canceled {
			logger.Error("Error stopping %s adapter: %v", adp.Protocol(), err)
		}
	}
}

// Adapters returns a snapshot of the registered adapters.
func (s *Server) Adapters() []adapter.Adapter {
	s.mu.Lock()
	defer s.mu.Unlock()

	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	return adapters
}
