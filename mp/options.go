package mp

import (
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/xraph/cohort/backoff"
	"github.com/xraph/cohort/endpoint"
)

// Option configures a Communicator.
type Option func(*Communicator)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Communicator) { c.logger = logger }
}

// WithToken sets the shared secret sent on, and required from, every link.
func WithToken(token string) Option {
	return func(c *Communicator) { c.token = token }
}

// WithFormat sets the envelope codec requested on outgoing links.
// Supported values: "json" (default), "msgpack".
func WithFormat(format string) Option {
	return func(c *Communicator) { c.format = format }
}

// WithPath sets the WebSocket request path. Default is "/mp".
func WithPath(path string) Option {
	return func(c *Communicator) { c.path = path }
}

// WithHelloTimeout bounds the link handshake.
func WithHelloTimeout(d time.Duration) Option {
	return func(c *Communicator) { c.helloTimeout = d }
}

// WithPingTimeout bounds a single reachability probe.
func WithPingTimeout(d time.Duration) Option {
	return func(c *Communicator) { c.pingTimeout = d }
}

// WithReconnect re-opens links this process dialed when they drop, waiting
// strategy.Delay(n) before attempt n.
func WithReconnect(maxRetries int, strategy backoff.Strategy) Option {
	return func(c *Communicator) {
		c.reconnect = true
		c.maxRetries = maxRetries
		if strategy != nil {
			c.backoff = strategy
		}
	}
}

// WithReconnectLimit caps the rate of reconnect attempts across all peers.
func WithReconnectLimit(limit rate.Limit, burst int) Option {
	return func(c *Communicator) { c.limiter = rate.NewLimiter(limit, burst) }
}

// WithOnDisconnect registers a callback invoked when a link to a peer is
// lost. It is not called for links closed by Stop or Disconnect.
func WithOnDisconnect(fn func(peer endpoint.Endpoint, err error)) Option {
	return func(c *Communicator) { c.onDisconnect = fn }
}
