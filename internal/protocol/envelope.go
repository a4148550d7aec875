// Package protocol implements the evdash realtime wire format: outgoing
// request envelopes and incoming response/notification envelopes exchanged
// over the websocket channel.
package protocol

import (
	"encoding/json"
	"errors"
)

// ErrUnauthenticated is the wire error code the backend uses to flag a
// message sent with a missing or rejected token.
const ErrUnauthenticated = "unauthenticated"

// Request is an outgoing envelope.
type Request struct {
	RequestID string `json:"requestId"`
	Action    string `json:"action"`
	Payload   any    `json:"payload"`
}

// Encode serializes a request envelope. A nil payload is sent as {} so the
// backend never sees a null payload field.
func Encode(req Request) ([]byte, error) {
	if req.RequestID == "" {
		return nil, errors.New("protocol: request id is required")
	}
	if req.Action == "" {
		return nil, errors.New("protocol: action is required")
	}
	if req.Payload == nil {
		req.Payload = map[string]any{}
	}
	return json.Marshal(req)
}

// Envelope is a parsed incoming message: either a response correlated by
// RequestID, or a server-pushed notification carrying an Event name.
type Envelope struct {
	RequestID string          `json:"requestId"`
	Success   *bool           `json:"success"`
	Error     string          `json:"error"`
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
}

// ParseEnvelope decodes one incoming frame. Malformed JSON or a non-object
// frame yields an error; the router logs and drops such messages.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// IsResponse reports whether the envelope correlates to an outgoing request.
func (e *Envelope) IsResponse() bool {
	return e.RequestID != ""
}

// Succeeded reports whether a response envelope carries success:true.
func (e *Envelope) Succeeded() bool {
	return e.Success != nil && *e.Success
}

// ReportsUnauthenticated reports whether the envelope flags an authentication
// error, regardless of correlation.
func (e *Envelope) ReportsUnauthenticated() bool {
	return e.Success != nil && !*e.Success && e.Error == ErrUnauthenticated
}

// Decode convenience helper for payload decoding.
func Decode[T any](payload json.RawMessage) (T, error) {
	var target T
	if len(payload) == 0 {
		return target, nil
	}
	if err := json.Unmarshal(payload, &target); err != nil {
		var zero T
		return zero, err
	}
	return target, nil
}
