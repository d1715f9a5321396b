// Package joblistener provides an executor that consumes jobs sent by the
// coordinator on the worker's job channel.
//
// Jobs arrive as "job" frames on the tag the coordinator issued during
// registration and are dispatched to handlers by name. A "stop" frame ends
// the run cleanly; a failing job ends it with an error, which the worker
// reports to the coordinator when it deregisters.
package joblistener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/xraph/cohort/cluster"
	"github.com/xraph/cohort/endpoint"
	"github.com/xraph/cohort/ext"
	"github.com/xraph/cohort/middleware"
	"github.com/xraph/cohort/wire"
)

// ErrUnknownJob is returned when a job names no registered handler and no
// fallback is set.
var ErrUnknownJob = errors.New("joblistener: no handler for job")

// Handler runs one job.
type Handler func(ctx context.Context, cc *cluster.Context, job *wire.Job) error

// Receiver delivers frames from a peer on a tag.
type Receiver interface {
	Recv(ctx context.Context, from endpoint.Endpoint, tag wire.Tag) (*wire.Frame, error)
}

// Listener is a cohort executor driven by the job channel.
type Listener struct {
	recv       Receiver
	logger     *slog.Logger
	extensions *ext.Registry
	fallback   Handler
	middleware []middleware.Middleware

	mu       sync.RWMutex
	handlers map[string]Handler
}

// Option configures a Listener.
type Option func(*Listener)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Listener) { l.logger = logger }
}

// WithExtensions sets the registry notified of received jobs.
func WithExtensions(r *ext.Registry) Option {
	return func(l *Listener) { l.extensions = r }
}

// WithFallback sets the handler for jobs with no registered name.
func WithFallback(h Handler) Option {
	return func(l *Listener) { l.fallback = h }
}

// WithMiddleware wraps every job in mws, outermost first. Panics are always
// recovered outside the chain.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(l *Listener) { l.middleware = append(l.middleware, mws...) }
}

// New creates a Listener reading from recv.
func New(recv Receiver, opts ...Option) *Listener {
	l := &Listener{
		recv:     recv,
		logger:   slog.Default(),
		handlers: make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.extensions == nil {
		l.extensions = ext.NewRegistry(l.logger)
	}
	return l
}

// Handle registers h for jobs named name, replacing any earlier handler.
func (l *Listener) Handle(name string, h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[name] = h
}

// HandleTyped registers a handler whose job payload is JSON-decoded into T.
func HandleTyped[T any](l *Listener, name string, fn func(ctx context.Context, cc *cluster.Context, payload T) error) {
	l.Handle(name, func(ctx context.Context, cc *cluster.Context, job *wire.Job) error {
		var t T
		if len(job.Payload) > 0 {
			if err := json.Unmarshal(job.Payload, &t); err != nil {
				return fmt.Errorf("unmarshal payload for job %q: %w", name, err)
			}
		}
		return fn(ctx, cc, t)
	})
}

func (l *Listener) handler(name string) (Handler, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	h, ok := l.handlers[name]
	if !ok && l.fallback != nil {
		return l.fallback, true
	}
	return h, ok
}

// Execute consumes the job channel until a stop frame arrives, a job
// fails, or ctx is cancelled.
func (l *Listener) Execute(ctx context.Context, cc *cluster.Context) error {
	l.logger.Info("job listener started",
		slog.Int("rank", cc.Rank()),
		slog.String("job_tag", string(cc.JobTag())),
	)

	for {
		f, err := l.recv.Recv(ctx, cc.Coordinator(), cc.JobTag())
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("joblistener: receive: %w", err)
		}

		switch f.Method {
		case wire.MethodStop:
			l.logger.Info("job listener stopped by coordinator")
			return nil

		case wire.MethodJob:
			var job wire.Job
			if err := f.Decode(&job); err != nil {
				l.logger.Warn("dropping malformed job", slog.String("error", err.Error()))
				continue
			}
			l.extensions.EmitJobReceived(ctx, &job)
			if err := l.run(ctx, cc, &job); err != nil {
				return err
			}

		default:
			l.logger.Debug("ignoring job channel frame", slog.String("method", f.Method))
		}
	}
}

func (l *Listener) run(ctx context.Context, cc *cluster.Context, job *wire.Job) error {
	h, ok := l.handler(job.Name)
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownJob, job.Name)
	}

	chain := middleware.Chain(append([]middleware.Middleware{middleware.Recover(l.logger)}, l.middleware...)...)
	l.logger.Debug("running job", slog.String("job_name", job.Name))
	if err := chain(ctx, cc, job, func(ctx context.Context) error { return h(ctx, cc, job) }); err != nil {
		return fmt.Errorf("joblistener: job %q: %w", job.Name, err)
	}
	return nil
}
