// Package wire defines the cohort message envelope and the payloads
// exchanged on the registration channel.
//
// Every message is a [Frame]. Frames travel over the transport encoded by a
// negotiated [Codec] (JSON or MessagePack); the method-specific payload in
// Frame.Data is always JSON so both ends can decode it regardless of the
// envelope codec.
package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/cohort/id"
)

// FrameType identifies the frame category.
type FrameType string

const (
	// FrameMessage carries a tagged application message.
	FrameMessage FrameType = "message"
	// FrameHello opens a link and negotiates the codec.
	FrameHello FrameType = "hello"
	// FrameWelcome answers a hello.
	FrameWelcome FrameType = "welcome"
	// FrameReject refuses a hello.
	FrameReject FrameType = "reject"
	FramePing   FrameType = "ping"
	FramePong   FrameType = "pong"
)

// Tag scopes a message to a logical channel on a shared link. Tags issued
// by a coordinator are opaque to workers.
type Tag string

// TagRegistration is the reserved channel for handshake and deregistration
// traffic.
const TagRegistration Tag = "registration"

// Frame is the cohort message envelope.
type Frame struct {
	// ID uniquely identifies this frame.
	ID string `json:"id" msgpack:"id"`

	// Type categorizes the frame.
	Type FrameType `json:"type" msgpack:"type"`

	// Tag names the logical channel for message frames.
	Tag Tag `json:"tag,omitempty" msgpack:"tag,omitempty"`

	// Method names the message within its channel (e.g. "register").
	Method string `json:"method,omitempty" msgpack:"method,omitempty"`

	// CorrelID links a pong to its ping.
	CorrelID string `json:"correl_id,omitempty" msgpack:"correl_id,omitempty"`

	// Source is the sender's listening endpoint, "host:port".
	Source string `json:"source,omitempty" msgpack:"source,omitempty"`

	// Token carries the shared secret on hello frames.
	Token string `json:"token,omitempty" msgpack:"token,omitempty"`

	// Data carries the method-specific JSON payload.
	Data json.RawMessage `json:"data,omitempty" msgpack:"data,omitempty"`

	// Error carries details for reject frames.
	Error *ErrorDetail `json:"error,omitempty" msgpack:"error,omitempty"`

	// Timestamp records when this frame was created.
	Timestamp time.Time `json:"ts" msgpack:"ts"`
}

// ErrorDetail describes an error carried in a frame or payload.
type ErrorDetail struct {
	Code    int    `json:"code" msgpack:"code"`
	Message string `json:"message" msgpack:"message"`
}

// Error implements error.
func (e *ErrorDetail) Error() string {
	return fmt.Sprintf("code %d: %s", e.Code, e.Message)
}

// ── Well-known methods ──────────────────────────────

const (
	MethodRegister   = "register"
	MethodReply      = "reply"
	MethodConfirm    = "confirm"
	MethodAck        = "ack"
	MethodError      = "error"
	MethodDeregister = "deregister"

	// Job channel methods.
	MethodJob  = "job"
	MethodStop = "stop"
)

// ── Well-known error codes ──────────────────────────

const (
	ErrCodeBadRequest         = 400
	ErrCodeUnauthorized       = 401
	ErrCodeFailedToRegister   = 1001
	ErrCodeWorkerDeregistered = 1002
	ErrCodeJobFailed          = 1003
)

// NewFrame creates a message frame on tag with a JSON-encoded payload.
// A nil payload yields an empty frame.
func NewFrame(tag Tag, method string, payload any) (*Frame, error) {
	f := &Frame{
		ID:        GenerateFrameID(),
		Type:      FrameMessage,
		Tag:       tag,
		Method:    method,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("wire: marshal %s payload: %w", method, err)
		}
		f.Data = raw
	}
	return f, nil
}

// MustFrame is like NewFrame but panics on a marshal error. Use it only
// with payload types that always marshal.
func MustFrame(tag Tag, method string, payload any) *Frame {
	f, err := NewFrame(tag, method, payload)
	if err != nil {
		panic(err)
	}
	return f
}

// NewControlFrame creates a hello, welcome, reject, ping or pong frame.
func NewControlFrame(typ FrameType) *Frame {
	return &Frame{
		ID:        GenerateFrameID(),
		Type:      typ,
		Timestamp: time.Now().UTC(),
	}
}

// Decode unmarshals the frame payload into v.
func (f *Frame) Decode(v any) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("%w: %s frame has no payload", ErrMalformed, f.Method)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformed, f.Method, err)
	}
	return nil
}

// Empty reports whether the frame carries no payload.
func (f *Frame) Empty() bool {
	return len(f.Data) == 0 || string(f.Data) == "null"
}

// GenerateFrameID returns a new unique frame ID.
func GenerateFrameID() string {
	return id.NewFrameID().String()
}
