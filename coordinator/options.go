package coordinator

import (
	"log/slog"
	"time"

	"github.com/xraph/cohort/cluster"
	"github.com/xraph/cohort/config"
	"github.com/xraph/cohort/ext"
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithStore sets the membership registry. Default: an in-memory map that is
// not shared.
func WithStore(s cluster.Store) Option {
	return func(c *Coordinator) { c.store = s }
}

// WithExtensions sets the registry notified of member events.
func WithExtensions(r *ext.Registry) Option {
	return func(c *Coordinator) { c.extensions = r }
}

// WithVersion sets the protocol version announced in replies.
func WithVersion(major, minor int) Option {
	return func(c *Coordinator) {
		c.versionMajor = major
		c.versionMinor = minor
	}
}

// WithBuildTag sets the build identity announced to workers. An empty tag
// is not announced at all.
func WithBuildTag(tag string) Option {
	return func(c *Coordinator) { c.buildTag = tag }
}

// WithConfig sets the configuration tree sent to every worker.
func WithConfig(t *config.Tree) Option {
	return func(c *Coordinator) { c.config = t }
}

// WithSendTimeout bounds each send to a worker. Default 30s.
func WithSendTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.sendTimeout = d }
}

// WithConfirmTimeout bounds the wait for each worker's confirmation.
// Default 1m.
func WithConfirmTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.confirmTimeout = d }
}

// WithProbeInterval makes Serve ping active members every d and mark those
// silent for three intervals as lost. Zero disables probing.
func WithProbeInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.probeInterval = d }
}
