package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lmorandi/taskline/internal/logger"
	"github.com/lmorandi/taskline/pkg/auth"
	"github.com/lmorandi/taskline/pkg/protocol"
	"github.com/lmorandi/taskline/pkg/store"
)

// writeWait bounds how long a single socket write may take before the
// session gives up on the peer.
const writeWait = 10 * time.Second

// session handles one WebSocket connection: the handshake deadline, the
// create-or-authenticate exchange, request routing, and the push feed.
//
// Concurrency model:
//   - One reader goroutine (serve) consumes frames in arrival order.
//   - Each authenticated request is dispatched in its own goroutine, so
//     completions and responses may be out of order relative to submission.
//     Clients correlate by request id.
//   - One pump goroutine forwards broadcast payloads as push envelopes.
//   - All socket writes are serialized behind writeMu. After the session is
//     marked closed, writes become silent no-ops so late completions from
//     in-flight store calls never error out against a dead socket.
type session struct {
	adapter *WSAdapter
	conn    *websocket.Conn
	id      string

	// writeMu serializes socket writes and guards closed.
	writeMu sync.Mutex
	closed  bool

	// hsMu guards the handshake timer state. The timer and the reader race
	// to resolve the handshake exactly once: whichever takes hsDone wins.
	hsMu    sync.Mutex
	hsDone  bool
	hsTimer *time.Timer

	// accountID and device are set once the handshake succeeds.
	accountID string
	device    string
}

// newSession wraps an upgraded connection.
func newSession(adapter *WSAdapter, conn *websocket.Conn, id string) *session {
	return &session{adapter: adapter, conn: conn, id: id}
}

// serve runs the session until the socket closes. It is the only reader of
// the connection.
func (s *session) serve(ctx context.Context) {
	defer s.markClosed()

	s.armHandshakeTimer()

	// --- Handshake: the first frame must authenticate ---

	msgType, raw, err := s.conn.ReadMessage()
	if err != nil {
		s.resolveHandshake()
		return
	}

	// The deadline covers waiting for the first frame only. It is lifted
	// before validation, so even a frame that fails validation is judged
	// on its content, not its timing.
	if !s.resolveHandshake() {
		// The timer won the race and is closing the socket.
		return
	}

	if msgType != websocket.TextMessage {
		s.closeWith(protocol.ErrNoBinary)
		return
	}

	msg, closeErr := protocol.ParseAuth(raw)
	if closeErr != nil {
		s.closeWith(closeErr)
		return
	}

	created, err := s.adapter.auth.CreateOrAuthenticate(ctx, msg.ID, msg.Password)
	if err != nil {
		if errors.Is(err, auth.ErrBadCredentials) {
			s.closeWith(protocol.ErrBadLogin)
		} else {
			logger.Error("session %s: handshake store failure: %v", s.id, err)
			s.closeWith(protocol.ErrStoreDown)
		}
		return
	}

	s.accountID = msg.ID
	s.device = msg.Device
	if created {
		logger.Info("session %s: registered account %s (device %s)", s.id, s.accountID, s.device)
	} else {
		logger.Info("session %s: authenticated account %s (device %s)", s.id, s.accountID, s.device)
	}

	if err := s.send(protocol.OK(msg.ReqID, nil)); err != nil {
		return
	}

	// --- Push feed: subscribe before serving requests so no broadcast
	// triggered by this session's own requests can be missed ---

	sub, err := s.adapter.tasks.Watch(ctx, s.accountID)
	if err != nil {
		logger.Error("session %s: subscribing to account %s failed: %v", s.id, s.accountID, err)
		s.closeWith(protocol.ErrStoreDown)
		return
	}
	// The subscription is torn down synchronously when serve returns, so
	// it can never outlive the socket.
	defer func() { _ = sub.Close() }()

	go s.pumpPushes(sub)

	// --- Request loop ---

	for {
		msgType, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		if msgType != websocket.TextMessage {
			s.closeWith(protocol.ErrNoBinary)
			return
		}

		req, reqID, parseErr := protocol.ParseRequest(raw)
		if parseErr != nil {
			// Malformed requests after the handshake are message-scoped
			// failures; the connection stays up.
			_ = s.send(protocol.Fail(reqID, parseErr.Error()))
			continue
		}

		go s.dispatch(ctx, req)
	}
}

// dispatch routes one validated request to its handler.
func (s *session) dispatch(ctx context.Context, req *protocol.Request) {
	switch req.Tag {
	case protocol.TagGetTasks:
		s.handleGetTasks(ctx, req)
	case protocol.TagPutTasks:
		s.handlePutTasks(ctx, req)
	default:
		_ = s.send(protocol.Fail(req.ReqID, protocol.DescribeTag(req.Tag)))
	}
}

// handleGetTasks returns the account's full ordered task list.
func (s *session) handleGetTasks(ctx context.Context, req *protocol.Request) {
	list, err := s.adapter.tasks.List(ctx, s.accountID)
	if err != nil {
		logger.Error("session %s: get:tasks for account %s failed: %v", s.id, s.accountID, err)
		_ = s.send(protocol.Fail(req.ReqID, "store unavailable"))
		return
	}
	_ = s.send(protocol.OK(req.ReqID, list))
}

// handlePutTasks appends new tasks and broadcasts them to the account's
// sessions. The broadcast is handled inside the task service; the response
// reflects the append only.
func (s *session) handlePutTasks(ctx context.Context, req *protocol.Request) {
	items, err := protocol.ParseTaskItems(req.Data)
	if err != nil {
		_ = s.send(protocol.Fail(req.ReqID, err.Error()))
		return
	}

	if err := s.adapter.tasks.Add(ctx, s.accountID, items); err != nil {
		logger.Error("session %s: put:tasks for account %s failed: %v", s.id, s.accountID, err)
		_ = s.send(protocol.Fail(req.ReqID, "store unavailable"))
		return
	}
	_ = s.send(protocol.OK(req.ReqID, nil))
}

// pumpPushes forwards broadcast payloads to the socket until the
// subscription channel closes.
func (s *session) pumpPushes(sub store.Subscription) {
	for payload := range sub.C() {
		if err := s.send(protocol.TasksPush(payload)); err != nil {
			return
		}
	}
}

// ============================================================================
// Handshake timer
// ============================================================================

// armHandshakeTimer starts the deadline for the first frame.
func (s *session) armHandshakeTimer() {
	s.hsMu.Lock()
	defer s.hsMu.Unlock()

	s.hsTimer = time.AfterFunc(s.adapter.config.HandshakeTimeout, s.handshakeExpired)
}

// resolveHandshake stops the deadline on receipt of the first frame. It
// reports false when the timer fired first, in which case the socket is
// already being closed as too slow.
func (s *session) resolveHandshake() bool {
	s.hsMu.Lock()
	defer s.hsMu.Unlock()

	if s.hsDone {
		return false
	}
	s.hsDone = true
	s.hsTimer.Stop()
	return true
}

// handshakeExpired runs when no frame arrived within the deadline.
func (s *session) handshakeExpired() {
	s.hsMu.Lock()
	if s.hsDone {
		s.hsMu.Unlock()
		return
	}
	s.hsDone = true
	s.hsMu.Unlock()

	logger.Debug("session %s: no handshake within %v", s.id, s.adapter.config.HandshakeTimeout)
	s.closeWith(protocol.ErrTooSlow)
}

// ============================================================================
// Socket writes and teardown
// ============================================================================

// send marshals and writes one envelope. Sending on a closed session is a
// silent no-op: a request completing after the socket went away must not
// surface an error.
func (s *session) send(envelope any) error {
	raw, err := json.Marshal(envelope)
	if err != nil {
		logger.Error("session %s: encoding envelope: %v", s.id, err)
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed {
		return nil
	}

	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, raw)
}

// closeWith terminates the connection with a close frame carrying the given
// code and reason, then closes the socket. Idempotent.
func (s *session) closeWith(closeErr *protocol.CloseError) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed {
		return
	}
	s.closed = true

	logger.Debug("session %s: closing with %d (%s)", s.id, closeErr.Code, closeErr.Reason)

	frame := websocket.FormatCloseMessage(closeErr.Code, closeErr.Reason)
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = s.conn.WriteControl(websocket.CloseMessage, frame, time.Now().Add(writeWait))
	_ = s.conn.Close()
}

// markClosed closes the socket without a close frame, for when the peer is
// already gone or a close frame was sent earlier.
func (s *session) markClosed() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	_ = s.conn.Close()
}

// forceClose tears down the socket from outside the session, used when
// graceful shutdown runs out of patience. Closing the socket fails the
// reader, which makes serve return and clean up normally.
func (s *session) forceClose() {
	s.markClosed()
}
