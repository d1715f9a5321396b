package cohort

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/cohort/backoff"
	"github.com/xraph/cohort/cluster"
	"github.com/xraph/cohort/config"
	"github.com/xraph/cohort/endpoint"
	"github.com/xraph/cohort/ext"
	"github.com/xraph/cohort/handshake"
	"github.com/xraph/cohort/mp"
)

// reconnectRetries bounds re-dial attempts when ChannelReconnect is set.
const reconnectRetries = 5

// Executor runs the worker's jobs once registration has succeeded. It must
// return when ctx is cancelled.
type Executor interface {
	Execute(ctx context.Context, cc *cluster.Context) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, cc *cluster.Context) error

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, cc *cluster.Context) error {
	return f(ctx, cc)
}

// Transport is the message layer a Worker drives.
type Transport interface {
	handshake.Transport
	Start(ctx context.Context) error
	Stop() error
	Disconnect(peer endpoint.Endpoint) error
}

var _ Transport = (*mp.Communicator)(nil)

// Worker joins a cohort, runs its executor and leaves.
type Worker struct {
	config     Config
	logger     *slog.Logger
	tracer     trace.Tracer
	executor   Executor
	transport  Transport
	overrides  *config.Tree
	extensions *ext.Registry

	// pending holds extensions until New builds the registry with the
	// configured logger.
	pending []ext.Extension

	reg      cluster.Registration
	protocol atomic.Pointer[handshake.Protocol]
	cancel   atomic.Pointer[context.CancelFunc]

	running  atomic.Bool
	stopping atomic.Bool
	left     atomic.Bool
	reason   atomic.Int32
}

// New creates a Worker that runs executor after registration.
func New(executor Executor, opts ...Option) (*Worker, error) {
	w := &Worker{
		config:   DefaultConfig(),
		logger:   slog.Default(),
		executor: executor,
	}
	for _, opt := range opts {
		if err := opt(w); err != nil {
			return nil, err
		}
	}
	if w.executor == nil {
		return nil, ErrNoExecutor
	}

	w.extensions = ext.NewRegistry(w.logger)
	for _, e := range w.pending {
		w.extensions.Register(e)
	}
	w.pending = nil
	return w, nil
}

// Logger returns the worker's logger.
func (w *Worker) Logger() *slog.Logger { return w.logger }

// Config returns a copy of the worker's configuration.
func (w *Worker) Config() Config { return w.config }

// Extensions returns the worker's extension registry.
func (w *Worker) Extensions() *ext.Registry { return w.extensions }

// Registered reports whether the worker is currently registered.
func (w *Worker) Registered() bool { return w.reg.Registered() }

// Context returns the published cluster context, or nil before
// registration.
func (w *Worker) Context() *cluster.Context { return w.reg.Context() }

// Run starts the transport, registers with the coordinator, runs the
// executor and shuts down. A Worker runs at most once.
//
// When the executor fails, the failure is sent to the coordinator as the
// deregistration reason. A run stopped after HandleTermination deregistered
// the worker returns ErrTerminated. A run cut short any other way by a
// termination request returns an *InterruptedError.
func (w *Worker) Run(ctx context.Context) (err error) {
	if w.config.Coordinator.IsZero() {
		return ErrNoCoordinator
	}
	if !w.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w.cancel.Store(&cancel)

	if w.config.HandleSignals {
		stop := w.watchSignals()
		defer stop()
	}

	coordinator, err := w.resolveCoordinator()
	if err != nil {
		return err
	}
	transport, err := w.buildTransport()
	if err != nil {
		return err
	}
	if err := transport.Start(ctx); err != nil {
		return fmt.Errorf("cohort: start transport: %w", err)
	}
	defer func() {
		if stopErr := transport.Stop(); stopErr != nil {
			w.logger.Warn("transport stop error", slog.String("error", stopErr.Error()))
		}
		w.extensions.EmitShutdown(context.WithoutCancel(ctx))
	}()

	proto := handshake.New(transport, &w.reg, w.protocolOptions(transport)...)
	w.protocol.Store(proto)

	cc, err := proto.Register(ctx, coordinator)
	if err != nil {
		w.extensions.EmitRegistrationFailed(ctx, err)
		err = fmt.Errorf("cohort: register: %w", err)
		if w.stopping.Load() {
			return w.stopped(ctx, proto, err)
		}
		return err
	}
	defer func() {
		if closeErr := cc.Close(); closeErr != nil {
			w.logger.Warn("release coordinator error", slog.String("error", closeErr.Error()))
		}
	}()
	w.extensions.EmitRegistered(ctx, cc)

	var execErr error
	if !w.stopping.Load() {
		execErr = w.executor.Execute(ctx, cc)
	}
	if w.stopping.Load() {
		w.logger.Info("worker stopped", slog.Int("rank", cc.Rank()))
		return w.stopped(ctx, proto, nil)
	}
	if execErr != nil {
		w.logger.Error("executor failed", slog.String("error", execErr.Error()))
		dctx := context.WithoutCancel(ctx)
		if proto.Deregister(dctx, execErr) {
			w.extensions.EmitDeregistered(dctx, execErr)
		}
		return fmt.Errorf("cohort: executor: %w", execErr)
	}

	w.logger.Info("worker finished", slog.Int("rank", cc.Rank()))
	return nil
}

// stopped finishes a run cancelled by a termination request. A worker that
// HandleTermination did not manage to deregister still leaves before the
// run reports the interruption.
func (w *Worker) stopped(ctx context.Context, proto *handshake.Protocol, cause error) error {
	if w.left.Load() {
		return ErrTerminated
	}
	if w.reg.Registered() {
		dctx := context.WithoutCancel(ctx)
		if proto.Deregister(dctx, nil) {
			w.extensions.EmitDeregistered(dctx, nil)
		}
	}
	return &InterruptedError{Reason: Reason(w.reason.Load()), Err: cause}
}

// Transport returns the worker's message transport, creating the default
// communicator from the configuration on first use. Call it before Run to
// hand the transport to an executor.
func (w *Worker) Transport() (Transport, error) {
	return w.buildTransport()
}

func (w *Worker) resolveCoordinator() (endpoint.Endpoint, error) {
	ep := w.config.Coordinator
	if ep.Port == 0 {
		ep = ep.WithPort(endpoint.DefaultCoordinatorPort)
	}
	resolved, err := endpoint.Resolve(ep)
	if err != nil {
		return endpoint.Endpoint{}, fmt.Errorf("cohort: resolve coordinator: %w", err)
	}
	return resolved, nil
}

func (w *Worker) buildTransport() (Transport, error) {
	if w.transport != nil {
		return w.transport, nil
	}
	bind, err := endpoint.Resolve(w.config.Bind)
	if err != nil {
		return nil, fmt.Errorf("cohort: resolve bind address: %w", err)
	}
	opts := []mp.Option{
		mp.WithLogger(w.logger),
		mp.WithFormat(w.config.Format),
	}
	if w.config.Token != "" {
		opts = append(opts, mp.WithToken(w.config.Token))
	}
	if w.config.ChannelReconnect {
		opts = append(opts, mp.WithReconnect(reconnectRetries, backoff.DefaultStrategy()))
	}
	w.transport = mp.New(bind, opts...)
	return w.transport, nil
}

func (w *Worker) protocolOptions(transport Transport) []handshake.Option {
	cfg := w.config
	opts := []handshake.Option{
		handshake.WithLogger(w.logger),
		handshake.WithVersion(cfg.Version),
		handshake.WithBuildTag(cfg.BuildTag),
		handshake.WithStrictBuildCheck(cfg.StrictBuildCheck),
		handshake.WithOrdinal(cfg.Ordinal),
		handshake.WithStaticRank(cfg.StaticRank),
		handshake.WithVerifyMesh(cfg.VerifyMesh),
		handshake.WithLocalConfig(w.overrides),
		handshake.WithRelease(transport.Disconnect),
	}
	if cfg.ReplyTimeout > 0 {
		opts = append(opts, handshake.WithReplyTimeout(cfg.ReplyTimeout))
	}
	if cfg.ConfirmTimeout > 0 {
		opts = append(opts, handshake.WithConfirmTimeout(cfg.ConfirmTimeout))
	}
	if cfg.DeregisterTimeout > 0 {
		opts = append(opts, handshake.WithDeregisterTimeout(cfg.DeregisterTimeout))
	}
	if w.tracer != nil {
		opts = append(opts, handshake.WithTracer(w.tracer))
	}
	return opts
}
