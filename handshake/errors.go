package handshake

import (
	"errors"
	"fmt"
)

// Kind classifies a handshake failure.
type Kind int

const (
	// KindNoReply means the request could not be sent or no reply arrived.
	KindNoReply Kind = iota + 1
	// KindMalformedReply means the reply could not be decoded.
	KindMalformedReply
	// KindNotInGroup means this worker is absent from the received group.
	KindNotInGroup
	// KindRankMismatch means the derived rank differs from the static one.
	KindRankMismatch
	// KindVersionMismatch means the protocol versions differ.
	KindVersionMismatch
	// KindBuildMismatch means the build identities differ.
	KindBuildMismatch
	// KindConfirmationFailed means the confirm/ack exchange failed.
	KindConfirmationFailed
)

var (
	ErrNoReply             = errors.New("handshake: no reply from coordinator")
	ErrMalformedReply      = errors.New("handshake: malformed registration reply")
	ErrNotInGroup          = errors.New("handshake: worker not in process group")
	ErrRankMismatch        = errors.New("handshake: rank mismatch")
	ErrVersionMismatch     = errors.New("handshake: version mismatch")
	ErrBuildMismatch       = errors.New("handshake: build mismatch")
	ErrConfirmationFailed  = errors.New("handshake: confirmation failed")
	ErrAlreadyRegistered   = errors.New("handshake: registration already attempted")
	ErrUnexpectedMessage   = errors.New("handshake: unexpected message")
	errUnknownHandshakeErr = errors.New("handshake: failed")
)

func (k Kind) sentinel() error {
	switch k {
	case KindNoReply:
		return ErrNoReply
	case KindMalformedReply:
		return ErrMalformedReply
	case KindNotInGroup:
		return ErrNotInGroup
	case KindRankMismatch:
		return ErrRankMismatch
	case KindVersionMismatch:
		return ErrVersionMismatch
	case KindBuildMismatch:
		return ErrBuildMismatch
	case KindConfirmationFailed:
		return ErrConfirmationFailed
	default:
		return errUnknownHandshakeErr
	}
}

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindNoReply:
		return "no_reply"
	case KindMalformedReply:
		return "malformed_reply"
	case KindNotInGroup:
		return "not_in_group"
	case KindRankMismatch:
		return "rank_mismatch"
	case KindVersionMismatch:
		return "version_mismatch"
	case KindBuildMismatch:
		return "build_mismatch"
	case KindConfirmationFailed:
		return "confirmation_failed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Reported reports whether failures of this kind are sent to the
// coordinator before the handshake returns.
func (k Kind) Reported() bool {
	return k == KindVersionMismatch || k == KindBuildMismatch
}

// Error is a handshake failure. It matches both its kind's sentinel and its
// cause with errors.Is.
type Error struct {
	Kind Kind
	Err  error
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.sentinel().Error()
	}
	return e.Kind.sentinel().Error() + ": " + e.Err.Error()
}

// Unwrap returns the kind sentinel and the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}

// KindOf returns the kind of a handshake error anywhere in err's chain.
func KindOf(err error) (Kind, bool) {
	var he *Error
	if errors.As(err, &he) {
		return he.Kind, true
	}
	return 0, false
}
