package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate checks struct tags on decoded messages. A single instance caches
// compiled struct metadata and is safe for concurrent use.
var validate = validator.New()

// Request tags dispatchable after the handshake.
const (
	TagGetTasks = "get:tasks"
	TagPutTasks = "put:tasks"
)

// AuthMessage is the handshake, the required first message on every
// connection.
type AuthMessage struct {
	ReqID    json.RawMessage `json:"_reqId,omitempty"`
	ID       string          `json:"id" validate:"required"`
	Password string          `json:"pass" validate:"required"`
	Device   string          `json:"device" validate:"required"`
}

// Request is a post-handshake message. Data is kept raw here; per-tag payload
// decoding happens at dispatch.
type Request struct {
	ReqID json.RawMessage `json:"_reqId,omitempty"`
	Tag   string          `json:"request" validate:"required"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ParseAuth decodes and validates a handshake frame. Failures map onto the
// handshake close codes: unparseable input to ErrNotJSON, a parseable frame
// of the wrong shape to ErrBadMessage.
func ParseAuth(raw []byte) (*AuthMessage, *CloseError) {
	var msg AuthMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		if isShapeError(err) {
			return nil, ErrBadMessage
		}
		return nil, ErrNotJSON
	}
	if err := validate.Struct(&msg); err != nil {
		return nil, ErrBadMessage
	}
	return &msg, nil
}

// ParseRequest decodes and validates a post-handshake frame. The request id
// is extracted first and returned even when the rest of the frame is
// invalid, so the error envelope can still echo it. It is nil when the frame
// is not parseable JSON at all.
func ParseRequest(raw []byte) (*Request, json.RawMessage, error) {
	reqID := extractReqID(raw)

	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		if isShapeError(err) {
			return nil, reqID, errors.New("bad message")
		}
		return nil, reqID, errors.New("not json")
	}
	if err := validate.Struct(&req); err != nil {
		return nil, reqID, errors.New("bad message")
	}
	return &req, reqID, nil
}

// ParseTaskItems decodes a put:tasks payload: a non-empty ordered sequence
// of strings. The empty sequence is rejected here, before any store call.
func ParseTaskItems(data json.RawMessage) ([]string, error) {
	if len(data) == 0 {
		return nil, errors.New("missing data")
	}
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, errors.New("data must be a list of strings")
	}
	if err := validate.Var(items, "required,min=1"); err != nil {
		return nil, errors.New("data must not be empty")
	}
	return items, nil
}

// extractReqID pulls the optional request id out of a frame without decoding
// anything else.
func extractReqID(raw []byte) json.RawMessage {
	var probe struct {
		ReqID json.RawMessage `json:"_reqId"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil
	}
	return probe.ReqID
}

// isShapeError reports whether a json decoding error means "parsed fine but
// the wrong shape" as opposed to "not JSON".
func isShapeError(err error) bool {
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &typeErr)
}

// DescribeTag formats an unknown request tag for an error detail.
func DescribeTag(tag string) string {
	return fmt.Sprintf("unknown request %q", tag)
}
