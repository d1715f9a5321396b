package coordinator

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyGathered is returned when Gather is called twice.
	ErrAlreadyGathered = errors.New("coordinator: group already gathered")

	// ErrNotGathered is returned by operations that need a formed group.
	ErrNotGathered = errors.New("coordinator: group not gathered")

	// ErrRegistrationFailed is returned by Gather when at least one worker
	// did not complete the handshake.
	ErrRegistrationFailed = errors.New("coordinator: registration failed")

	// ErrUnknownRank is returned when no member holds the requested rank.
	ErrUnknownRank = errors.New("coordinator: unknown rank")

	// ErrNotActive is returned when a job is addressed to a member that has
	// left the group.
	ErrNotActive = errors.New("coordinator: member not active")
)

// WorkerError is a failure reported by, or observed on, one worker during
// registration.
type WorkerError struct {
	Endpoint string
	Code     int
	Message  string
}

// Error implements error.
func (e *WorkerError) Error() string {
	return fmt.Sprintf("worker %s: %s", e.Endpoint, e.Message)
}
