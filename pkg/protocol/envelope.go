package protocol

import "encoding/json"

// Response is the direct response envelope sent in reaction to exactly one
// inbound message. The request id, when the originating message carried one,
// is echoed back verbatim so clients can correlate out-of-order completions.
type Response struct {
	ReqID  json.RawMessage `json:"_reqId,omitempty"`
	Status int             `json:"status"`
	Data   any             `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// OK builds a success response carrying the given payload. A nil payload
// yields a bare acknowledgment, as used for the handshake.
func OK(reqID json.RawMessage, data any) *Response {
	return &Response{ReqID: reqID, Status: StatusOK, Data: data}
}

// Fail builds an error response with a human-readable detail.
func Fail(reqID json.RawMessage, detail string) *Response {
	return &Response{ReqID: reqID, Status: StatusError, Error: detail}
}

// Push is the unsolicited push envelope. It carries no status and no request
// id because it does not answer any request.
type Push struct {
	Push string          `json:"_push"`
	Data json.RawMessage `json:"data"`
}

// TasksPush wraps a published task payload in a push envelope. The payload
// is embedded verbatim, exactly as published on the broadcast channel.
func TasksPush(payload []byte) *Push {
	return &Push{Push: "tasks", Data: payload}
}
