package ext

import (
	"context"

	"github.com/xraph/cohort/cluster"
	"github.com/xraph/cohort/wire"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Worker lifecycle hooks
// ──────────────────────────────────────────────────

// Registered is called after the handshake publishes the cluster context.
type Registered interface {
	OnRegistered(ctx context.Context, cc *cluster.Context) error
}

// RegistrationFailed is called when the handshake fails.
type RegistrationFailed interface {
	OnRegistrationFailed(ctx context.Context, err error) error
}

// JobReceived is called when a job frame arrives on the job channel.
type JobReceived interface {
	OnJobReceived(ctx context.Context, job *wire.Job) error
}

// Deregistered is called after a successful deregistration. reason is nil
// for a clean departure.
type Deregistered interface {
	OnDeregistered(ctx context.Context, reason error) error
}

// TerminationRequested is called when the worker receives an interrupt or
// terminate request.
type TerminationRequested interface {
	OnTerminationRequested(ctx context.Context, reason string) error
}

// ──────────────────────────────────────────────────
// Coordinator lifecycle hooks
// ──────────────────────────────────────────────────

// MemberJoined is called when a worker completes registration.
type MemberJoined interface {
	OnMemberJoined(ctx context.Context, m *cluster.Member) error
}

// MemberLeft is called when an active worker deregisters.
type MemberLeft interface {
	OnMemberLeft(ctx context.Context, m *cluster.Member) error
}

// MemberLost is called when an active worker's link drops unannounced.
type MemberLost interface {
	OnMemberLost(ctx context.Context, m *cluster.Member, err error) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
