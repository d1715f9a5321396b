package handshake

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/cohort/config"
	"github.com/xraph/cohort/endpoint"
)

// Option configures a Protocol.
type Option func(*Protocol)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Protocol) { p.logger = logger }
}

// WithTracer sets the tracer used for the registration span.
func WithTracer(tracer trace.Tracer) Option {
	return func(p *Protocol) { p.tracer = tracer }
}

// WithVersion sets the protocol version this worker declares.
func WithVersion(v Version) Option {
	return func(p *Protocol) { p.version = v }
}

// WithBuildTag sets the build identity this worker declares.
func WithBuildTag(tag string) Option {
	return func(p *Protocol) { p.buildTag = tag }
}

// WithStrictBuildCheck controls whether a build mismatch fails the
// handshake (true, the default) or is logged and tolerated.
func WithStrictBuildCheck(strict bool) Option {
	return func(p *Protocol) { p.strictBuild = strict }
}

// WithOrdinal sets the provisional ordinal sent in the request.
func WithOrdinal(n int) Option {
	return func(p *Protocol) { p.ordinal = n }
}

// WithStaticRank asserts that the derived rank equals n. Zero disables the
// check.
func WithStaticRank(n int) Option {
	return func(p *Protocol) { p.staticRank = n }
}

// WithLocalConfig sets the command-line overrides re-applied on top of the
// coordinator's configuration.
func WithLocalConfig(t *config.Tree) Option {
	return func(p *Protocol) { p.local = t }
}

// WithDefaults replaces the built-in configuration defaults.
func WithDefaults(t *config.Tree) Option {
	return func(p *Protocol) { p.defaults = t }
}

// WithRequestTimeout bounds each send on the registration channel.
func WithRequestTimeout(d time.Duration) Option {
	return func(p *Protocol) { p.requestTimeout = d }
}

// WithReplyTimeout bounds the wait for the registration reply.
func WithReplyTimeout(d time.Duration) Option {
	return func(p *Protocol) { p.replyTimeout = d }
}

// WithConfirmTimeout bounds the wait for the final acknowledgment.
func WithConfirmTimeout(d time.Duration) Option {
	return func(p *Protocol) { p.confirmTimeout = d }
}

// WithDeregisterTimeout bounds the deregistration send. Default 60s.
func WithDeregisterTimeout(d time.Duration) Option {
	return func(p *Protocol) { p.deregisterTimeout = d }
}

// WithVerifyMesh enables the post-registration reachability check.
func WithVerifyMesh(enabled bool) Option {
	return func(p *Protocol) { p.verifyMesh = enabled }
}

// WithRelease sets the function that drops the coordinator reference when
// the cluster context is closed.
func WithRelease(fn func(coordinator endpoint.Endpoint) error) Option {
	return func(p *Protocol) { p.release = fn }
}
