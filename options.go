package cohort

import (
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/cohort/config"
	"github.com/xraph/cohort/endpoint"
	"github.com/xraph/cohort/ext"
	"github.com/xraph/cohort/handshake"
)

// Option configures a Worker.
type Option func(*Worker) error

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(w *Worker) error {
		w.config = cfg
		return nil
	}
}

// WithLogger sets the structured logger for the worker.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) error {
		w.logger = l
		return nil
	}
}

// WithCoordinator sets the coordinator address.
func WithCoordinator(ep endpoint.Endpoint) Option {
	return func(w *Worker) error {
		w.config.Coordinator = ep
		return nil
	}
}

// WithBind sets the worker's listening address.
func WithBind(ep endpoint.Endpoint) Option {
	return func(w *Worker) error {
		w.config.Bind = ep
		return nil
	}
}

// WithOrdinal sets the provisional worker number.
func WithOrdinal(n int) Option {
	return func(w *Worker) error {
		if n < 0 {
			return errors.New("cohort: ordinal must not be negative")
		}
		w.config.Ordinal = n
		return nil
	}
}

// WithStaticRank asserts the rank the coordinator must assign.
func WithStaticRank(n int) Option {
	return func(w *Worker) error {
		if n < 0 {
			return errors.New("cohort: static rank must not be negative")
		}
		w.config.StaticRank = n
		return nil
	}
}

// WithVersion overrides the declared protocol version.
func WithVersion(v handshake.Version) Option {
	return func(w *Worker) error {
		w.config.Version = v
		return nil
	}
}

// WithBuildTag overrides the declared build identity.
func WithBuildTag(tag string) Option {
	return func(w *Worker) error {
		w.config.BuildTag = tag
		return nil
	}
}

// WithStrictBuildCheck controls whether a build mismatch is fatal.
func WithStrictBuildCheck(strict bool) Option {
	return func(w *Worker) error {
		w.config.StrictBuildCheck = strict
		return nil
	}
}

// WithVerifyMesh checks reachability of every group member after
// registration.
func WithVerifyMesh(enabled bool) Option {
	return func(w *Worker) error {
		w.config.VerifyMesh = enabled
		return nil
	}
}

// WithSignalHandling installs the interrupt/terminate watcher during Run.
func WithSignalHandling(enabled bool) Option {
	return func(w *Worker) error {
		w.config.HandleSignals = enabled
		return nil
	}
}

// WithOverrides sets the command-line configuration overrides. They take
// precedence over everything the coordinator sends.
func WithOverrides(t *config.Tree) Option {
	return func(w *Worker) error {
		w.overrides = t
		return nil
	}
}

// WithTransport sets the message transport. Without it Run creates a
// WebSocket communicator bound to Config.Bind.
func WithTransport(t Transport) Option {
	return func(w *Worker) error {
		w.transport = t
		return nil
	}
}

// WithExtension registers a lifecycle extension.
func WithExtension(e ext.Extension) Option {
	return func(w *Worker) error {
		w.pending = append(w.pending, e)
		return nil
	}
}

// WithTracer sets the tracer used for the registration span.
func WithTracer(t trace.Tracer) Option {
	return func(w *Worker) error {
		w.tracer = t
		return nil
	}
}
