// Package mp is the cohort message-passing transport.
//
// A [Communicator] listens on one endpoint and keeps a single WebSocket link
// per peer. Links are symmetric: whichever side dialed, both ends send and
// receive over the same connection. Inbound message frames are queued per
// tag and picked up with [Communicator.Recv] (from one peer) or
// [Communicator.RecvAny]. Sends, receives and reachability probes block
// until they complete, fail, or the caller's context ends.
//
// Each link opens with a hello frame carrying the dialer's listening
// endpoint, an optional shared token and the requested envelope codec. The
// acceptor answers with a welcome frame naming the negotiated codec and a
// session ID.
package mp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/xraph/cohort/backoff"
	"github.com/xraph/cohort/endpoint"
	"github.com/xraph/cohort/id"
	"github.com/xraph/cohort/wire"
)

var (
	ErrNotStarted     = errors.New("mp: communicator not started")
	ErrAlreadyStarted = errors.New("mp: communicator already started")
	ErrStopped        = errors.New("mp: communicator stopped")
	ErrRejected       = errors.New("mp: link rejected")
	ErrTimeout        = errors.New("mp: timed out")
)

// Communicator is a message-passing endpoint.
type Communicator struct {
	bind   endpoint.Endpoint
	token  string
	format string
	path   string
	logger *slog.Logger

	helloTimeout time.Duration
	pingTimeout  time.Duration

	// Reconnection.
	reconnect  bool
	maxRetries int
	backoff    backoff.Strategy
	limiter    *rate.Limiter

	onDisconnect func(peer endpoint.Endpoint, err error)

	// Lifecycle.
	self     endpoint.Endpoint
	started  atomic.Bool
	stopped  atomic.Bool
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu    sync.Mutex
	links map[string]*link
	boxes map[wire.Tag]*mailbox
	dials singleflight.Group

	// Ping correlation.
	pending sync.Map // frameID → chan *wire.Frame
}

// New creates a communicator that will listen on bind. A zero port lets
// the system pick one; Self reports the bound endpoint after Start.
func New(bind endpoint.Endpoint, opts ...Option) *Communicator {
	c := &Communicator{
		bind:         bind,
		format:       wire.CodecNameJSON,
		path:         "/mp",
		logger:       slog.Default(),
		helloTimeout: 10 * time.Second,
		pingTimeout:  5 * time.Second,
		maxRetries:   5,
		backoff:      backoff.DefaultStrategy(),
		limiter:      rate.NewLimiter(rate.Every(100*time.Millisecond), 4),
		links:        make(map[string]*link),
		boxes:        make(map[wire.Tag]*mailbox),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start binds the listener and begins accepting links. The communicator
// outlives ctx cancellation; only Stop ends it.
func (c *Communicator) Start(ctx context.Context) error {
	if c.started.Load() {
		return ErrAlreadyStarted
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", c.bind.String())
	if err != nil {
		return fmt.Errorf("mp: listen %s: %w", c.bind, err)
	}

	self := c.bind
	if addr, ok := ln.Addr().(*net.TCPAddr); ok && self.Port == 0 {
		self.Port = uint16(addr.Port)
	}

	c.self = self
	c.listener = ln
	c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	c.started.Store(true)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.acceptLoop(ln)
	}()

	c.logger.Info("mp communicator started", slog.String("endpoint", self.String()))
	return nil
}

// Stop closes the listener and every link and wakes blocked receivers.
func (c *Communicator) Stop() error {
	if !c.started.Load() || c.stopped.Swap(true) {
		return nil
	}
	c.cancel()
	err := c.listener.Close()

	c.mu.Lock()
	for key, l := range c.links {
		l.close()
		delete(c.links, key)
	}
	c.mu.Unlock()

	c.wg.Wait()
	c.logger.Info("mp communicator stopped", slog.String("endpoint", c.self.String()))
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Started reports whether the communicator is running.
func (c *Communicator) Started() bool {
	return c.started.Load() && !c.stopped.Load()
}

// Self returns the endpoint this communicator listens on.
func (c *Communicator) Self() endpoint.Endpoint { return c.self }

// Connected reports whether a link to peer is open.
func (c *Communicator) Connected(peer endpoint.Endpoint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.links[peer.String()]
	return ok
}

// Disconnect closes the link to peer, if any.
func (c *Communicator) Disconnect(peer endpoint.Endpoint) error {
	c.mu.Lock()
	l, ok := c.links[peer.String()]
	if ok {
		delete(c.links, peer.String())
	}
	c.mu.Unlock()
	if ok {
		l.close()
	}
	return nil
}

// ── Send / Receive ─────────────────────────────

// Send delivers f to peer on f.Tag, dialing a link if none is open. The
// context bounds the wait for the link and the write; the dial itself is
// bounded by the hello timeout so a cancelled caller does not fail others
// waiting on the same dial.
func (c *Communicator) Send(ctx context.Context, to endpoint.Endpoint, f *wire.Frame) error {
	if !c.started.Load() {
		return ErrNotStarted
	}
	if c.stopped.Load() {
		return ErrStopped
	}

	l, err := c.linkTo(ctx, to)
	if err != nil {
		return fmt.Errorf("mp: send %s to %s: %w", f.Method, to, err)
	}

	f.Source = c.self.String()
	deadline, _ := ctx.Deadline()
	if err := l.write(f, deadline); err != nil {
		c.dropLink(l, err)
		return fmt.Errorf("mp: send %s to %s: %w", f.Method, to, err)
	}
	return nil
}

// Recv blocks for the next frame on tag sent by from.
func (c *Communicator) Recv(ctx context.Context, from endpoint.Endpoint, tag wire.Tag) (*wire.Frame, error) {
	if !c.started.Load() {
		return nil, ErrNotStarted
	}
	return c.box(tag).take(ctx, c.ctx.Done(), func(f *wire.Frame) bool {
		src, err := endpoint.Parse(f.Source)
		return err == nil && src.Equal(from)
	})
}

// RecvAny blocks for the next frame on tag from any peer.
func (c *Communicator) RecvAny(ctx context.Context, tag wire.Tag) (*wire.Frame, error) {
	if !c.started.Load() {
		return nil, ErrNotStarted
	}
	return c.box(tag).take(ctx, c.ctx.Done(), func(*wire.Frame) bool { return true })
}

// Pending returns the number of undelivered frames queued on tag.
func (c *Communicator) Pending(tag wire.Tag) int {
	return c.box(tag).len()
}

func (c *Communicator) box(tag wire.Tag) *mailbox {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.boxes[tag]
	if !ok {
		b = newMailbox()
		c.boxes[tag] = b
	}
	return b
}

// ── Reachability ───────────────────────────────

// Ping sends a probe to peer and waits for the answer.
func (c *Communicator) Ping(ctx context.Context, peer endpoint.Endpoint) error {
	if !c.Started() {
		return ErrNotStarted
	}
	l, err := c.linkTo(ctx, peer)
	if err != nil {
		return fmt.Errorf("mp: ping %s: %w", peer, err)
	}

	ping := wire.NewControlFrame(wire.FramePing)
	ping.Source = c.self.String()

	ch := make(chan *wire.Frame, 1)
	c.pending.Store(ping.ID, ch)
	defer c.pending.Delete(ping.ID)

	deadline, _ := ctx.Deadline()
	if err := l.write(ping, deadline); err != nil {
		c.dropLink(l, err)
		return fmt.Errorf("mp: ping %s: %w", peer, err)
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrStopped
	case <-time.After(c.pingTimeout):
		return fmt.Errorf("mp: ping %s: %w", peer, ErrTimeout)
	}
}

// VerifyAll probes every peer other than this process in parallel and
// returns the first failure.
func (c *Communicator) VerifyAll(ctx context.Context, peers []endpoint.Endpoint) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range peers {
		if p.Equal(c.self) {
			continue
		}
		g.Go(func() error { return c.Ping(gctx, p) })
	}
	return g.Wait()
}

// ── Links ──────────────────────────────────────

// linkTo returns the open link to peer, dialing one if needed. Concurrent
// callers share a single dial, which runs detached from any one caller's
// context. Each caller stops waiting when its own context ends.
func (c *Communicator) linkTo(ctx context.Context, peer endpoint.Endpoint) (*link, error) {
	key := peer.String()

	c.mu.Lock()
	l, ok := c.links[key]
	c.mu.Unlock()
	if ok {
		return l, nil
	}

	dialed := c.dials.DoChan(key, func() (any, error) {
		c.mu.Lock()
		existing, ok := c.links[key]
		c.mu.Unlock()
		if ok {
			return existing, nil
		}
		dctx := context.WithoutCancel(ctx)
		if c.helloTimeout > 0 {
			var cancel context.CancelFunc
			dctx, cancel = context.WithTimeout(dctx, c.helloTimeout)
			defer cancel()
		}
		return c.dial(dctx, peer)
	})

	select {
	case res := <-dialed:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*link), nil //nolint:errcheck // singleflight only returns *link
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Session returns the session ID of the open link to peer. The acceptor
// issues it in the welcome frame, so both ends report the same value.
func (c *Communicator) Session(peer endpoint.Endpoint) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.links[peer.String()]
	if !ok {
		return "", false
	}
	return l.session, true
}

// dial opens a link to peer and performs the hello exchange. The hello and
// welcome frames are always JSON; the negotiated codec applies afterwards.
func (c *Communicator) dial(ctx context.Context, peer endpoint.Endpoint) (*link, error) {
	dialer := ws.Dialer{Timeout: c.helloTimeout}
	conn, _, _, err := dialer.Dial(ctx, "ws://"+peer.String()+c.path)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	l := newLink(conn, ws.StateClientSide, true)
	l.peer = peer

	hello := wire.NewControlFrame(wire.FrameHello)
	hello.Source = c.self.String()
	hello.Token = c.token
	hello.Data = mustMarshalJSON(wire.Hello{Format: c.format})

	deadline := time.Now().Add(c.helloTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := l.write(hello, deadline); err != nil {
		l.close()
		return nil, fmt.Errorf("write hello: %w", err)
	}

	_ = conn.SetReadDeadline(deadline)
	resp, err := l.read()
	_ = conn.SetReadDeadline(time.Time{})
	if err != nil {
		l.close()
		return nil, fmt.Errorf("read welcome: %w", err)
	}

	if resp.Type == wire.FrameReject {
		l.close()
		msg := "rejected"
		if resp.Error != nil {
			msg = resp.Error.Message
		}
		return nil, fmt.Errorf("%w: %s", ErrRejected, msg)
	}
	if resp.Type != wire.FrameWelcome {
		l.close()
		return nil, fmt.Errorf("%w: expected welcome, got %q", wire.ErrMalformed, resp.Type)
	}

	var welcome wire.Welcome
	if len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, &welcome); err != nil {
			c.logger.Warn("failed to unmarshal welcome", slog.String("error", err.Error()))
		}
	}
	l.session = welcome.SessionID
	l.codec = wire.GetCodec(welcome.Format)

	if c.stopped.Load() {
		l.close()
		return nil, ErrStopped
	}
	c.addLink(l)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.readLoop(l)
	}()

	c.logger.Debug("mp link opened",
		slog.String("peer", peer.String()),
		slog.String("session_id", l.session),
		slog.String("format", l.codec.Name()),
	)
	return l, nil
}

func (c *Communicator) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if c.stopped.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			c.logger.Warn("mp accept error", slog.String("error", err.Error()))
			continue
		}

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.serveConn(conn)
		}()
	}
}

// serveConn upgrades an accepted connection, validates its hello frame and
// then reads from it until it closes.
func (c *Communicator) serveConn(conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(c.helloTimeout))

	upgrader := ws.Upgrader{
		OnRequest: func(uri []byte) error {
			if string(uri) != c.path {
				return ws.RejectConnectionError(ws.RejectionStatus(404))
			}
			return nil
		},
	}
	if _, err := upgrader.Upgrade(conn); err != nil {
		c.logger.Debug("mp upgrade failed", slog.String("error", err.Error()))
		_ = conn.Close()
		return
	}

	l := newLink(conn, ws.StateServerSide, false)

	hello, err := l.read()
	if err != nil {
		l.close()
		return
	}

	if hello.Type != wire.FrameHello {
		c.reject(l, wire.ErrCodeBadRequest, "first frame must be hello")
		return
	}
	if c.token != "" && hello.Token != c.token {
		c.reject(l, wire.ErrCodeUnauthorized, "invalid token")
		return
	}
	peer, err := endpoint.Parse(hello.Source)
	if err != nil {
		c.reject(l, wire.ErrCodeBadRequest, "invalid source endpoint")
		return
	}

	var req wire.Hello
	if len(hello.Data) > 0 {
		if err := json.Unmarshal(hello.Data, &req); err != nil {
			c.reject(l, wire.ErrCodeBadRequest, "invalid hello data")
			return
		}
	}

	codec := wire.GetCodec(req.Format)
	l.session = id.NewSessionID().String()
	welcome := wire.NewControlFrame(wire.FrameWelcome)
	welcome.Source = c.self.String()
	welcome.Data = mustMarshalJSON(wire.Welcome{
		Format:    codec.Name(),
		SessionID: l.session,
	})
	if err := l.write(welcome, time.Time{}); err != nil {
		l.close()
		return
	}
	_ = conn.SetDeadline(time.Time{})

	l.peer = peer
	l.codec = codec
	c.addLink(l)

	c.logger.Debug("mp link accepted",
		slog.String("peer", peer.String()),
		slog.String("session_id", l.session),
		slog.String("format", codec.Name()),
	)
	c.readLoop(l)
}

func (c *Communicator) reject(l *link, code int, msg string) {
	f := wire.NewControlFrame(wire.FrameReject)
	f.Error = &wire.ErrorDetail{Code: code, Message: msg}
	//nolint:errcheck // best-effort rejection before disconnect
	l.write(f, time.Time{})
	l.close()
}

// readLoop routes inbound frames until the link fails.
func (c *Communicator) readLoop(l *link) {
	for {
		f, err := l.read()
		if err != nil {
			if errors.Is(err, wire.ErrMalformed) {
				c.logger.Warn("mp: invalid frame",
					slog.String("peer", l.peer.String()),
					slog.String("error", err.Error()),
				)
				continue
			}
			c.dropLink(l, err)
			return
		}

		switch f.Type {
		case wire.FrameMessage:
			f.Source = l.peer.String()
			c.box(f.Tag).push(f)
		case wire.FramePing:
			pong := wire.NewControlFrame(wire.FramePong)
			pong.CorrelID = f.ID
			pong.Source = c.self.String()
			if err := l.write(pong, time.Time{}); err != nil {
				c.logger.Warn("failed to write pong", slog.String("error", err.Error()))
			}
		case wire.FramePong:
			if val, ok := c.pending.LoadAndDelete(f.CorrelID); ok {
				ch := val.(chan *wire.Frame) //nolint:errcheck // pending map always stores chan *wire.Frame
				ch <- f
			}
		}
	}
}

// addLink makes l the link for its peer, closing any previous one.
func (c *Communicator) addLink(l *link) {
	key := l.peer.String()
	c.mu.Lock()
	prev, ok := c.links[key]
	c.links[key] = l
	c.mu.Unlock()
	if ok && prev != l {
		prev.close()
	}
}

// dropLink forgets l and, when the loss was not requested locally, reports
// it and schedules a reconnect.
func (c *Communicator) dropLink(l *link, cause error) {
	key := l.peer.String()
	c.mu.Lock()
	if cur, ok := c.links[key]; ok && cur == l {
		delete(c.links, key)
	}
	c.mu.Unlock()

	if l.closed.Swap(true) {
		return
	}
	_ = l.conn.Close()

	if c.stopped.Load() {
		return
	}
	c.logger.Warn("mp link lost",
		slog.String("peer", key),
		slog.String("error", cause.Error()),
	)
	if c.onDisconnect != nil {
		c.onDisconnect(l.peer, cause)
	}
	if l.dialed && c.reconnect {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.redial(l.peer)
		}()
	}
}

// redial re-opens a lost link with backoff.
func (c *Communicator) redial(peer endpoint.Endpoint) {
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if err := c.limiter.Wait(c.ctx); err != nil {
			return
		}
		delay := c.backoff.Delay(attempt)
		c.logger.Info("mp reconnecting",
			slog.String("peer", peer.String()),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
		)
		select {
		case <-time.After(delay):
		case <-c.ctx.Done():
			return
		}

		if _, err := c.linkTo(c.ctx, peer); err != nil {
			c.logger.Warn("mp reconnect failed",
				slog.String("peer", peer.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		c.logger.Info("mp reconnected", slog.String("peer", peer.String()))
		return
	}
	c.logger.Error("mp: max reconnection attempts reached", slog.String("peer", peer.String()))
}

func mustMarshalJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("mp: marshal: " + err.Error())
	}
	return data
}
