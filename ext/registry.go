package ext

import (
	"context"
	"log/slog"

	"github.com/xraph/cohort/cluster"
	"github.com/xraph/cohort/wire"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time.
type registeredEntry struct {
	name string
	hook Registered
}

type registrationFailedEntry struct {
	name string
	hook RegistrationFailed
}

type jobReceivedEntry struct {
	name string
	hook JobReceived
}

type deregisteredEntry struct {
	name string
	hook Deregistered
}

type terminationRequestedEntry struct {
	name string
	hook TerminationRequested
}

type memberJoinedEntry struct {
	name string
	hook MemberJoined
}

type memberLeftEntry struct {
	name string
	hook MemberLeft
}

type memberLostEntry struct {
	name string
	hook MemberLost
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
//
// Register is not safe to call concurrently with the Emit methods; register
// every extension before starting a worker or coordinator.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	registered           []registeredEntry
	registrationFailed   []registrationFailedEntry
	jobReceived          []jobReceivedEntry
	deregistered         []deregisteredEntry
	terminationRequested []terminationRequestedEntry
	memberJoined         []memberJoinedEntry
	memberLeft           []memberLeftEntry
	memberLost           []memberLostEntry
	shutdown             []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(Registered); ok {
		r.registered = append(r.registered, registeredEntry{name, h})
	}
	if h, ok := e.(RegistrationFailed); ok {
		r.registrationFailed = append(r.registrationFailed, registrationFailedEntry{name, h})
	}
	if h, ok := e.(JobReceived); ok {
		r.jobReceived = append(r.jobReceived, jobReceivedEntry{name, h})
	}
	if h, ok := e.(Deregistered); ok {
		r.deregistered = append(r.deregistered, deregisteredEntry{name, h})
	}
	if h, ok := e.(TerminationRequested); ok {
		r.terminationRequested = append(r.terminationRequested, terminationRequestedEntry{name, h})
	}
	if h, ok := e.(MemberJoined); ok {
		r.memberJoined = append(r.memberJoined, memberJoinedEntry{name, h})
	}
	if h, ok := e.(MemberLeft); ok {
		r.memberLeft = append(r.memberLeft, memberLeftEntry{name, h})
	}
	if h, ok := e.(MemberLost); ok {
		r.memberLost = append(r.memberLost, memberLostEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Worker event emitters
// ──────────────────────────────────────────────────

// EmitRegistered notifies all extensions that implement Registered.
func (r *Registry) EmitRegistered(ctx context.Context, cc *cluster.Context) {
	for _, e := range r.registered {
		if err := e.hook.OnRegistered(ctx, cc); err != nil {
			r.logHookError("OnRegistered", e.name, err)
		}
	}
}

// EmitRegistrationFailed notifies all extensions that implement
// RegistrationFailed.
func (r *Registry) EmitRegistrationFailed(ctx context.Context, regErr error) {
	for _, e := range r.registrationFailed {
		if err := e.hook.OnRegistrationFailed(ctx, regErr); err != nil {
			r.logHookError("OnRegistrationFailed", e.name, err)
		}
	}
}

// EmitJobReceived notifies all extensions that implement JobReceived.
func (r *Registry) EmitJobReceived(ctx context.Context, job *wire.Job) {
	for _, e := range r.jobReceived {
		if err := e.hook.OnJobReceived(ctx, job); err != nil {
			r.logHookError("OnJobReceived", e.name, err)
		}
	}
}

// EmitDeregistered notifies all extensions that implement Deregistered.
func (r *Registry) EmitDeregistered(ctx context.Context, reason error) {
	for _, e := range r.deregistered {
		if err := e.hook.OnDeregistered(ctx, reason); err != nil {
			r.logHookError("OnDeregistered", e.name, err)
		}
	}
}

// EmitTerminationRequested notifies all extensions that implement
// TerminationRequested.
func (r *Registry) EmitTerminationRequested(ctx context.Context, reason string) {
	for _, e := range r.terminationRequested {
		if err := e.hook.OnTerminationRequested(ctx, reason); err != nil {
			r.logHookError("OnTerminationRequested", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Coordinator event emitters
// ──────────────────────────────────────────────────

// EmitMemberJoined notifies all extensions that implement MemberJoined.
func (r *Registry) EmitMemberJoined(ctx context.Context, m *cluster.Member) {
	for _, e := range r.memberJoined {
		if err := e.hook.OnMemberJoined(ctx, m); err != nil {
			r.logHookError("OnMemberJoined", e.name, err)
		}
	}
}

// EmitMemberLeft notifies all extensions that implement MemberLeft.
func (r *Registry) EmitMemberLeft(ctx context.Context, m *cluster.Member) {
	for _, e := range r.memberLeft {
		if err := e.hook.OnMemberLeft(ctx, m); err != nil {
			r.logHookError("OnMemberLeft", e.name, err)
		}
	}
}

// EmitMemberLost notifies all extensions that implement MemberLost.
func (r *Registry) EmitMemberLost(ctx context.Context, m *cluster.Member, cause error) {
	for _, e := range r.memberLost {
		if err := e.hook.OnMemberLost(ctx, m, cause); err != nil {
			r.logHookError("OnMemberLost", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
