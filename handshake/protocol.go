// Package handshake implements the worker side of cohort registration.
//
// A worker sends a registration request to the coordinator's control
// endpoint, receives the process group and configuration, validates them,
// and completes a two-step confirmation before publishing its
// [cluster.Context]. The same Protocol later reports registration errors
// and deregisters the worker exactly once.
package handshake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/cohort/cluster"
	"github.com/xraph/cohort/config"
	"github.com/xraph/cohort/endpoint"
	"github.com/xraph/cohort/wire"
)

const tracerName = "github.com/xraph/cohort/handshake"

// Version is a protocol version. Both components must match exactly.
type Version struct {
	Major int
	Minor int
}

func (v Version) String() string {
	return strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor)
}

// Transport is the messaging layer a Protocol needs.
type Transport interface {
	Started() bool
	Self() endpoint.Endpoint
	Send(ctx context.Context, to endpoint.Endpoint, f *wire.Frame) error
	Recv(ctx context.Context, from endpoint.Endpoint, tag wire.Tag) (*wire.Frame, error)
	VerifyAll(ctx context.Context, peers []endpoint.Endpoint) error
}

// Protocol runs the worker side of registration.
type Protocol struct {
	transport Transport
	reg       *cluster.Registration
	logger    *slog.Logger
	tracer    trace.Tracer

	version     Version
	buildTag    string
	strictBuild bool
	ordinal     int
	staticRank  int
	local       *config.Tree
	defaults    *config.Tree
	verifyMesh  bool
	release     func(endpoint.Endpoint) error

	requestTimeout    time.Duration
	replyTimeout      time.Duration
	confirmTimeout    time.Duration
	deregisterTimeout time.Duration

	attempted atomic.Bool
	phase     atomic.Int32
	control   atomic.Pointer[endpoint.Endpoint]

	// deregMu serializes deregistration attempts.
	deregMu sync.Mutex
}

// New creates a Protocol that publishes into reg.
func New(transport Transport, reg *cluster.Registration, opts ...Option) *Protocol {
	p := &Protocol{
		transport:         transport,
		reg:               reg,
		logger:            slog.Default(),
		tracer:            otel.Tracer(tracerName),
		strictBuild:       true,
		defaults:          config.Defaults(),
		requestTimeout:    30 * time.Second,
		replyTimeout:      5 * time.Minute,
		confirmTimeout:    time.Minute,
		deregisterTimeout: 60 * time.Second,
		release:           func(endpoint.Endpoint) error { return nil },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Phase returns the current state of the registration state machine.
func (p *Protocol) Phase() Phase {
	return Phase(p.phase.Load())
}

func (p *Protocol) setPhase(ph Phase) {
	p.phase.Store(int32(ph))
}

// Identity returns the worker identity declared at registration: the
// transport's bound endpoint and the provisional ordinal.
func (p *Protocol) Identity() endpoint.Identity {
	return endpoint.Identity{Ordinal: p.ordinal, Endpoint: p.transport.Self()}
}

// Registered reports whether the worker is currently registered.
func (p *Protocol) Registered() bool {
	return p.reg.Registered()
}

// Register performs the handshake with the coordinator listening at
// coordinator. It may be called once per Protocol.
func (p *Protocol) Register(ctx context.Context, coordinator endpoint.Endpoint) (cc *cluster.Context, err error) {
	if !p.attempted.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRegistered
	}

	ident := p.Identity()
	self := ident.Endpoint
	control := endpoint.ControlEndpoint(coordinator)
	p.control.Store(&control)

	ctx, span := p.tracer.Start(ctx, "cohort.handshake.register",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("cohort.worker.endpoint", self.String()),
			attribute.String("cohort.coordinator.endpoint", control.String()),
			attribute.Int("cohort.worker.ordinal", ident.Ordinal),
		),
	)
	defer func() {
		if err != nil {
			p.setPhase(PhaseFailed)
			if kind, ok := KindOf(err); ok {
				span.SetAttributes(attribute.String("cohort.handshake.failure", kind.String()))
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(
				attribute.Int("cohort.worker.rank", cc.Rank()),
				attribute.Int("cohort.group.size", cc.Group().Len()),
			)
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	p.logger.Info("registering with coordinator",
		slog.String("worker", ident.String()),
		slog.String("coordinator", control.String()),
	)

	// ── Request ─────────────────────────────────────

	p.setPhase(PhaseSendingRequest)
	req, err := wire.NewFrame(wire.TagRegistration, wire.MethodRegister, wire.RegistrationRequest{Ordinal: ident.Ordinal})
	if err != nil {
		return nil, newError(KindNoReply, err)
	}
	if err := p.send(ctx, control, req, p.requestTimeout); err != nil {
		p.logger.Error("failed to send registration request", slog.String("error", err.Error()))
		return nil, newError(KindNoReply, err)
	}

	p.setPhase(PhaseAwaitingReply)
	frame, err := p.recv(ctx, control, wire.MethodReply, p.replyTimeout)
	if err != nil {
		p.logger.Error("no registration reply", slog.String("error", err.Error()))
		return nil, newError(KindNoReply, err)
	}
	p.logger.Info("registration reply received")

	// ── Validation ──────────────────────────────────

	p.setPhase(PhaseValidating)
	var reply wire.RegistrationReply
	if err := frame.Decode(&reply); err != nil {
		return nil, newError(KindMalformedReply, err)
	}
	group, err := cluster.ParseGroup(reply.Group)
	if err != nil {
		return nil, newError(KindMalformedReply, err)
	}

	rank, ok := group.Rank(self)
	if !ok {
		p.logger.Error("worker missing from process group",
			slog.String("worker", self.String()),
			slog.Int("group_size", group.Len()),
		)
		return nil, newError(KindNotInGroup, fmt.Errorf("%s not among %d members", self, group.Len()))
	}
	if p.staticRank != 0 && p.staticRank != rank {
		p.logger.Error("rank mismatch",
			slog.Int("configured", p.staticRank),
			slog.Int("derived", rank),
		)
		return nil, newError(KindRankMismatch, fmt.Errorf("configured %d, derived %d", p.staticRank, rank))
	}

	merged := config.Resolve(p.defaults, config.FromMap(reply.Config), p.local)

	remote := Version{Major: reply.VersionMajor, Minor: reply.VersionMinor}
	if remote != p.version {
		msg := fmt.Sprintf("coordinator/worker version mismatch: coordinator=%s worker=%s", remote, p.version)
		p.logger.Error(msg)
		p.ReplyError(ctx, wire.ErrCodeFailedToRegister, msg)
		return nil, newError(KindVersionMismatch, fmt.Errorf("coordinator %s, worker %s", remote, p.version))
	}

	p.logger.Info("strand settings",
		slog.Int(config.KeyForceNumStrands, merged.Int(config.KeyForceNumStrands, config.DefaultForceNumStrands)),
		slog.Int(config.KeyStrandBlockSize, merged.Int(config.KeyStrandBlockSize, config.DefaultStrandBlockSize)),
		slog.Int(config.KeyChannelsPerWorker, merged.Int(config.KeyChannelsPerWorker, config.DefaultChannelsPerWorker)),
	)

	if coordBuild, ok := merged.Get(config.KeyCoordinatorBuildTag); !ok || coordBuild != p.buildTag {
		msg := fmt.Sprintf("coordinator/worker build mismatch: coordinator=%q worker=%q", coordBuild, p.buildTag)
		p.logger.Error(msg)
		if p.strictBuild {
			p.ReplyError(ctx, wire.ErrCodeFailedToRegister, msg)
			return nil, newError(KindBuildMismatch, fmt.Errorf("coordinator %q, worker %q", coordBuild, p.buildTag))
		}
		p.logger.Warn("continuing despite build mismatch")
	}

	if reply.JobTag == "" || reply.ServiceTag == "" {
		return nil, newError(KindMalformedReply, errors.New("missing channel tags"))
	}

	// ── Confirmation ────────────────────────────────

	p.setPhase(PhaseConfirming)
	if err := p.send(ctx, control, wire.MustFrame(wire.TagRegistration, wire.MethodConfirm, nil), p.requestTimeout); err != nil {
		return nil, newError(KindConfirmationFailed, err)
	}
	p.logger.Info("registration confirmation sent")

	if _, err := p.recv(ctx, control, wire.MethodAck, p.confirmTimeout); err != nil {
		return nil, newError(KindConfirmationFailed, err)
	}
	p.logger.Info("registration confirmation receipt received")

	cc = cluster.NewContext(cluster.ContextParams{
		Rank:        rank,
		Self:        self,
		Coordinator: control,
		Group:       group,
		JobTag:      reply.JobTag,
		ServiceTag:  reply.ServiceTag,
		Config:      merged,
		Release:     func() error { return p.release(control) },
	})
	if !p.reg.Publish(cc) {
		return nil, ErrAlreadyRegistered
	}
	p.setPhase(PhaseRegistered)

	if p.verifyMesh {
		p.logger.Info("verifying connectivity to all workers", slog.Int("group_size", group.Len()))
		if err := p.transport.VerifyAll(ctx, group.Members()); err != nil {
			p.logger.Error("failed to connect to all workers", slog.String("error", err.Error()))
		} else {
			p.logger.Info("connected to all workers")
		}
	}

	p.logger.Info("registered",
		slog.String("worker", ident.String()),
		slog.Int("rank", rank),
		slog.Int("group_size", group.Len()),
	)
	return cc, nil
}

// ReplyError reports a registration failure to the coordinator. Delivery is
// best effort; failures are logged. It is a no-op before Register has
// resolved the coordinator.
func (p *Protocol) ReplyError(ctx context.Context, code int, message string) {
	to := p.control.Load()
	if to == nil {
		p.logger.Warn("no coordinator to report error to", slog.String("error", message))
		return
	}
	self := p.transport.Self()
	f, err := wire.NewFrame(wire.TagRegistration, wire.MethodError, wire.ErrorReport{
		Source:  self.String(),
		Code:    code,
		Message: fmt.Sprintf("Node '%s' exception: %s", self, message),
	})
	if err != nil {
		p.logger.Warn("failed to encode error report", slog.String("error", err.Error()))
		return
	}
	if err := p.send(ctx, *to, f, p.requestTimeout); err != nil {
		p.logger.Warn("failed to report error to coordinator", slog.String("error", err.Error()))
	}
}

// Deregister tells the coordinator this worker is leaving, attaching reason
// when non-nil. It reports true only when this call performed the
// deregistration. Concurrent callers are serialized and at most one
// deregistration message is ever sent.
func (p *Protocol) Deregister(ctx context.Context, reason error) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	p.deregMu.Lock()
	defer p.deregMu.Unlock()

	if !p.transport.Started() || !p.reg.Registered() {
		return false
	}
	to := p.control.Load()
	if to == nil {
		return false
	}

	f, err := wire.NewFrame(wire.TagRegistration, wire.MethodDeregister, wire.Deregistration{
		Op:     wire.OpDeregister,
		Reason: wire.ReasonFromError(reason),
	})
	if err != nil {
		p.logger.Error("failed to encode deregistration", slog.String("error", err.Error()))
		return false
	}
	if err := p.send(ctx, *to, f, p.deregisterTimeout); err != nil {
		p.logger.Error("failed to deregister", slog.String("error", err.Error()))
		return false
	}
	if !p.reg.Clear() {
		return false
	}
	attrs := []any{slog.String("coordinator", to.String())}
	if reason != nil {
		attrs = append(attrs, slog.String("reason", reason.Error()))
	}
	p.logger.Info("deregistered", attrs...)
	return true
}

func (p *Protocol) send(ctx context.Context, to endpoint.Endpoint, f *wire.Frame, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return p.transport.Send(ctx, to, f)
}

// recv waits for the next registration-channel frame from the coordinator
// and requires it to carry method.
func (p *Protocol) recv(ctx context.Context, from endpoint.Endpoint, method string, timeout time.Duration) (*wire.Frame, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	f, err := p.transport.Recv(ctx, from, wire.TagRegistration)
	if err != nil {
		return nil, err
	}
	if f.Method != method {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrUnexpectedMessage, f.Method, method)
	}
	return f, nil
}
