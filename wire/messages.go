package wire

import "errors"

// ── Registration channel payloads ───────────────────

// RegistrationRequest is the first message a worker sends to the
// coordinator. Ordinal is the worker's provisional number, 0 when unknown.
type RegistrationRequest struct {
	Ordinal int `json:"ordinal"`
}

// RegistrationReply is the coordinator's answer to a registration request.
// Group lists every registering worker endpoint in rank order.
type RegistrationReply struct {
	VersionMajor int               `json:"version_major"`
	VersionMinor int               `json:"version_minor"`
	Group        []string          `json:"group"`
	Config       map[string]string `json:"config,omitempty"`
	JobTag       Tag               `json:"job_tag"`
	ServiceTag   Tag               `json:"service_tag"`
}

// ErrorReport tells the coordinator why a worker could not complete
// registration.
type ErrorReport struct {
	Source  string `json:"source"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Opcode selects the operation of a deregistration message.
type Opcode string

// OpDeregister announces that a worker is leaving the group.
const OpDeregister Opcode = "deregister"

// Deregistration is sent by a worker leaving the group. Reason is nil for a
// clean departure.
type Deregistration struct {
	Op     Opcode       `json:"op"`
	Reason *ErrorDetail `json:"reason,omitempty"`
}

// ── Transport payloads ──────────────────────────────

// Hello is the payload of the first frame on a link.
type Hello struct {
	Format string `json:"format,omitempty"`
}

// Welcome answers a hello.
type Welcome struct {
	Format    string `json:"format"`
	SessionID string `json:"session_id"`
}

// ── Job channel payloads ────────────────────────────

// Job is a unit of work addressed to one worker on its job tag.
type Job struct {
	Name    string            `json:"name"`
	Payload []byte            `json:"payload,omitempty"`
	Params  map[string]string `json:"params,omitempty"`
}

// ReasonFromError converts an error into a deregistration reason. A nil
// error yields nil. A coded error keeps its code.
func ReasonFromError(err error) *ErrorDetail {
	if err == nil {
		return nil
	}
	var detail *ErrorDetail
	if errors.As(err, &detail) {
		return &ErrorDetail{Code: detail.Code, Message: err.Error()}
	}
	return &ErrorDetail{Code: ErrCodeJobFailed, Message: err.Error()}
}
