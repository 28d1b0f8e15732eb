// Package ws implements the WebSocket transport adapter.
//
// Each accepted connection is upgraded to a WebSocket and handed to a
// session (see ws_connection.go) that runs the handshake and then routes
// task requests until the socket closes.
package ws

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lmorandi/taskline/internal/logger"
	"github.com/lmorandi/taskline/pkg/auth"
	"github.com/lmorandi/taskline/pkg/tasks"
)

// WSAdapter implements the adapter.Adapter interface for the WebSocket
// protocol.
//
// The adapter owns the HTTP listener that upgrades connections and the
// lifecycle of every session spawned from it.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. HTTP server closed (no new upgrades)
//  3. shutdownCtx cancelled (signals in-flight store calls to abort)
//  4. Wait for active sessions to complete (up to ShutdownTimeout)
//  5. Force-close any remaining sockets after the timeout
//
// Thread safety:
// All methods are safe for concurrent use. The shutdown mechanism uses
// sync.Once so calling Stop() multiple times is harmless.
type WSAdapter struct {
	// config holds the transport configuration (port, timeouts, limits)
	config WSConfig

	// upgrader turns qualifying HTTP requests into WebSocket connections
	upgrader websocket.Upgrader

	// httpServer serves the upgrade endpoint; closed during shutdown
	httpServer *http.Server

	// tasks is the shared task service injected via SetServices
	tasks *tasks.Service

	// auth performs create-or-authenticate handshakes
	auth *auth.Negotiator

	// activeConns tracks live sessions for graceful shutdown
	activeConns sync.WaitGroup

	// connCount is the current number of live sessions
	connCount atomic.Int32

	// connSemaphore bounds concurrent sessions when MaxConnections > 0;
	// nil means unlimited
	connSemaphore chan struct{}

	// shutdownOnce makes shutdown initiation idempotent
	shutdownOnce sync.Once

	// shutdown is closed when shutdown is initiated
	shutdown chan struct{}

	// shutdownCtx is cancelled during shutdown so in-flight store calls
	// can abort
	shutdownCtx context.Context

	// cancelRequests cancels shutdownCtx
	cancelRequests context.CancelFunc

	// activeSessions maps session id to *session for forced closure
	activeSessions sync.Map
}

// WSConfig holds configuration for the WebSocket transport.
//
// Zero values are replaced with defaults by New:
//   - Port: 5050
//   - HandshakeTimeout: 1s
//   - MaxConnections: 0 (unlimited)
//   - ShutdownTimeout: 30s
type WSConfig struct {
	// Enabled controls whether the WebSocket adapter is active.
	Enabled bool `mapstructure:"enabled"`

	// Port is the TCP port to listen on.
	Port int `mapstructure:"port" validate:"min=0,max=65535"`

	// HandshakeTimeout is how long a new connection has to send its first
	// message before being closed as too slow.
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" validate:"min=0"`

	// MaxConnections limits concurrent sessions. When reached, new
	// upgrade requests are rejected until a session closes. 0 means
	// unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0"`

	// ShutdownTimeout is how long graceful shutdown waits for live
	// sessions before force-closing their sockets.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`
}

// applyDefaults fills in zero values with defaults.
func (c *WSConfig) applyDefaults() {
	if c.Port <= 0 {
		c.Port = 5050
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

// validate checks that the configuration is usable.
func (c *WSConfig) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid MaxConnections %d: must be >= 0", c.MaxConnections)
	}
	if c.HandshakeTimeout < 0 {
		return fmt.Errorf("invalid HandshakeTimeout %v: must be >= 0", c.HandshakeTimeout)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid ShutdownTimeout %v: must be > 0", c.ShutdownTimeout)
	}
	return nil
}

// New creates a WSAdapter with the given configuration.
//
// The adapter is created in a stopped state. Call SetServices() to inject
// the backends, then Serve() to start accepting connections.
//
// Panics if config validation fails, which indicates a programmer error.
func New(config WSConfig) *WSAdapter {
	config.applyDefaults()

	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid WebSocket config: %v", err))
	}

	var connSemaphore chan struct{}
	if config.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, config.MaxConnections)
		logger.Debug("WebSocket connection limit: %d", config.MaxConnections)
	} else {
		logger.Debug("WebSocket connection limit: unlimited")
	}

	shutdownCtx, cancelRequests := context.WithCancel(context.Background())

	return &WSAdapter{
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Clients are native apps and scripts, not browsers with a
			// meaningful Origin header.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		shutdown:       make(chan struct{}),
		connSemaphore:  connSemaphore,
		shutdownCtx:    shutdownCtx,
		cancelRequests: cancelRequests,
	}
}

// SetServices injects the shared task service and auth negotiator.
//
// Called by Server before Serve(); no synchronization needed.
func (s *WSAdapter) SetServices(svc *tasks.Service, negotiator *auth.Negotiator) {
	s.tasks = svc
	s.auth = negotiator
	logger.Debug("WebSocket services configured")
}

// Handler returns the HTTP handler that upgrades connections. It is exposed
// so tests can mount the adapter on an httptest server instead of a real
// listener.
func (s *WSAdapter) Handler() http.Handler {
	return http.HandlerFunc(s.handleUpgrade)
}

// handleUpgrade upgrades one HTTP request to a WebSocket session.
func (s *WSAdapter) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.shutdown:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	// Acquire a session slot if connection limiting is enabled. Unlike an
	// accept loop we cannot block here without holding an HTTP handler
	// goroutine hostage, so reject instead.
	if s.connSemaphore != nil {
		select {
		case s.connSemaphore <- struct{}{}:
		default:
			logger.Warn("WebSocket connection limit reached, rejecting %s", r.RemoteAddr)
			http.Error(w, "too many connections", http.StatusServiceUnavailable)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		if s.connSemaphore != nil {
			<-s.connSemaphore
		}
		logger.Debug("WebSocket upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}

	sessionID := uuid.NewString()
	sess := newSession(s, conn, sessionID)

	s.activeConns.Add(1)
	currentConns := s.connCount.Add(1)
	s.activeSessions.Store(sessionID, sess)

	logger.Debug("WebSocket connection accepted from %s as session %s (active: %d)",
		conn.RemoteAddr(), sessionID, currentConns)

	go func() {
		defer func() {
			s.activeSessions.Delete(sessionID)
			s.activeConns.Done()
			remaining := s.connCount.Add(-1)
			if s.connSemaphore != nil {
				<-s.connSemaphore
			}
			logger.Debug("WebSocket session %s closed (active: %d)", sessionID, remaining)
		}()

		sess.serve(s.shutdownCtx)
	}()
}

// Serve starts the WebSocket server and blocks until the context is
// cancelled or an unrecoverable error occurs.
//
// Returns nil on graceful shutdown, or an error if the listener fails to
// start or shutdown is not graceful.
func (s *WSAdapter) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("failed to create WebSocket listener on port %d: %w", s.config.Port, err)
	}

	s.httpServer = &http.Server{Handler: s.Handler()}

	logger.Info("WebSocket server listening on port %d", s.config.Port)
	logger.Debug("WebSocket config: max_connections=%d handshake_timeout=%v",
		s.config.MaxConnections, s.config.HandshakeTimeout)

	go func() {
		<-ctx.Done()
		logger.Info("WebSocket shutdown signal received: %v", ctx.Err())
		s.initiateShutdown()
	}()

	err = s.httpServer.Serve(listener)

	select {
	case <-s.shutdown:
		// Expected http.ErrServerClosed after shutdown was initiated.
		return s.gracefulShutdown()
	default:
		return fmt.Errorf("WebSocket server failed: %w", err)
	}
}

// initiateShutdown signals the server to begin graceful shutdown. Safe to
// call multiple times and from multiple goroutines.
func (s *WSAdapter) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("WebSocket shutdown initiated")

		close(s.shutdown)

		// Stop accepting new upgrades. Sessions already upgraded are
		// hijacked from the HTTP server and unaffected by this.
		if s.httpServer != nil {
			if err := s.httpServer.Close(); err != nil {
				logger.Debug("Error closing WebSocket HTTP server: %v", err)
			}
		}

		// Abort in-flight store calls across all sessions.
		s.cancelRequests()
	})
}

// gracefulShutdown waits for live sessions to complete or the shutdown
// timeout to expire, then force-closes whatever remains.
func (s *WSAdapter) gracefulShutdown() error {
	activeCount := s.connCount.Load()
	logger.Info("WebSocket graceful shutdown: waiting for %d active session(s) (timeout: %v)",
		activeCount, s.config.ShutdownTimeout)

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("WebSocket graceful shutdown complete: all sessions closed")
		return nil

	case <-time.After(s.config.ShutdownTimeout):
		remaining := s.connCount.Load()
		logger.Warn("WebSocket shutdown timeout exceeded: %d session(s) still active after %v - forcing closure",
			remaining, s.config.ShutdownTimeout)

		s.forceCloseSessions()

		return fmt.Errorf("WebSocket shutdown timeout: %d sessions force-closed", remaining)
	}
}

// forceCloseSessions closes the sockets of all remaining sessions so their
// read loops fail and the sessions exit.
func (s *WSAdapter) forceCloseSessions() {
	closedCount := 0
	s.activeSessions.Range(func(key, value any) bool {
		sess := value.(*session)
		sess.forceClose()
		closedCount++
		return true
	})

	if closedCount > 0 {
		logger.Info("Force-closed %d WebSocket session(s)", closedCount)
	}
}

// Stop initiates graceful shutdown. Safe to call multiple times and
// concurrently with Serve(). The context bounds how long Stop waits for
// sessions to drain; a nil context falls back to the configured
// ShutdownTimeout.
func (s *WSAdapter) Stop(ctx context.Context) error {
	s.initiateShutdown()

	if ctx == nil {
		return s.gracefulShutdown()
	}

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("WebSocket graceful shutdown complete: all sessions closed")
		return nil

	case <-ctx.Done():
		remaining := s.connCount.Load()
		logger.Warn("WebSocket shutdown context cancelled: %d session(s) still active: %v",
			remaining, ctx.Err())
		s.forceCloseSessions()
		return ctx.Err()
	}
}

// GetActiveSessions returns the current number of live sessions. Primarily
// used by tests and monitoring.
func (s *WSAdapter) GetActiveSessions() int32 {
	return s.connCount.Load()
}

// Port returns the configured listening port.
func (s *WSAdapter) Port() int {
	return s.config.Port
}

// Protocol returns "WebSocket" for logging.
func (s *WSAdapter) Protocol() string {
	return "WebSocket"
}
