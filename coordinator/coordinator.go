package coordinator

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/cohort/cluster"
	"github.com/xraph/cohort/config"
	"github.com/xraph/cohort/endpoint"
	"github.com/xraph/cohort/ext"
	"github.com/xraph/cohort/id"
	"github.com/xraph/cohort/mp"
	"github.com/xraph/cohort/store/memory"
	"github.com/xraph/cohort/wire"
)

// Transport is the message layer a Coordinator drives.
type Transport interface {
	Self() endpoint.Endpoint
	Send(ctx context.Context, to endpoint.Endpoint, f *wire.Frame) error
	Recv(ctx context.Context, from endpoint.Endpoint, tag wire.Tag) (*wire.Frame, error)
	RecvAny(ctx context.Context, tag wire.Tag) (*wire.Frame, error)
	Ping(ctx context.Context, peer endpoint.Endpoint) error
}

var _ Transport = (*mp.Communicator)(nil)

// member is the coordinator's live view of one worker.
type member struct {
	endpoint   endpoint.Endpoint
	ordinal    int
	jobTag     wire.Tag
	serviceTag wire.Tag
	record     *cluster.Member

	seq     uint64 // transitions decided, guarded by Coordinator.mu
	written uint64 // last transition stored, guarded by Coordinator.writeMu
}

// change is a member transition decided under the coordinator lock and
// published after it is released.
type change struct {
	m      *member
	seq    uint64
	prev   cluster.MemberState
	record cluster.Member
}

// Coordinator forms a process group of a fixed size and tracks it.
type Coordinator struct {
	transport  Transport
	size       int
	store      cluster.Store
	extensions *ext.Registry
	logger     *slog.Logger
	config     *config.Tree

	versionMajor int
	versionMinor int
	buildTag     string

	sendTimeout    time.Duration
	confirmTimeout time.Duration
	probeInterval  time.Duration

	gathered atomic.Bool

	mu      sync.Mutex
	group   cluster.Group
	members map[string]*member // endpoint → member

	writeMu sync.Mutex
}

// New creates a coordinator that gathers size workers over transport.
func New(transport Transport, size int, opts ...Option) *Coordinator {
	c := &Coordinator{
		transport:      transport,
		size:           size,
		logger:         slog.Default(),
		versionMajor:   1,
		sendTimeout:    30 * time.Second,
		confirmTimeout: time.Minute,
		members:        make(map[string]*member),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil {
		c.store = memory.New()
	}
	if c.extensions == nil {
		c.extensions = ext.NewRegistry(c.logger)
	}
	return c
}

// Store returns the membership registry.
func (c *Coordinator) Store() cluster.Store { return c.store }

// Group returns the gathered process group. It is empty before Gather.
func (c *Coordinator) Group() cluster.Group {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.group
}

// Members returns every recorded member ordered by rank.
func (c *Coordinator) Members(ctx context.Context) ([]*cluster.Member, error) {
	return c.store.ListMembers(ctx)
}

// Gather waits for size registration requests, replies to each worker and
// completes the handshake. It returns the group once every worker is
// acknowledged. When some workers fail, the group is still returned
// together with an error wrapping ErrRegistrationFailed and every
// WorkerError.
func (c *Coordinator) Gather(ctx context.Context) (cluster.Group, error) {
	if !c.gathered.CompareAndSwap(false, true) {
		return cluster.Group{}, ErrAlreadyGathered
	}

	c.logger.Info("waiting for workers",
		slog.Int("size", c.size),
		slog.String("endpoint", c.transport.Self().String()),
	)

	pending, err := c.collectRequests(ctx)
	if err != nil {
		return cluster.Group{}, err
	}

	// Stable ordinals decide the rank when every worker announced a
	// distinct one; otherwise arrival order does.
	if distinctOrdinals(pending) {
		slices.SortFunc(pending, func(a, b *member) int { return cmp.Compare(a.ordinal, b.ordinal) })
	}
	eps := make([]endpoint.Endpoint, len(pending))
	for i, m := range pending {
		eps[i] = m.endpoint
	}
	group := cluster.NewGroup(eps...)

	settings, err := c.settings()
	if err != nil {
		return cluster.Group{}, err
	}

	now := time.Now().UTC()
	c.mu.Lock()
	c.group = group
	for i, m := range pending {
		m.jobTag = wire.Tag(id.NewTagID().String())
		m.serviceTag = wire.Tag(id.NewTagID().String())
		m.record = &cluster.Member{
			ID:       id.NewWorkerID(),
			Endpoint: m.endpoint.String(),
			Rank:     i + 1,
			Ordinal:  m.ordinal,
			State:    cluster.MemberJoining,
			JoinedAt: now,
			LastSeen: now,
		}
		c.members[m.endpoint.String()] = m
	}
	c.mu.Unlock()

	var (
		failMu   sync.Mutex
		failures []error
	)
	fail := func(err error) {
		failMu.Lock()
		failures = append(failures, err)
		failMu.Unlock()
	}

	var g errgroup.Group
	for i, m := range pending {
		g.Go(func() error {
			if err := c.admit(ctx, m, i+1, group, settings); err != nil {
				fail(err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(failures) > 0 {
		c.logger.Error("registration failed",
			slog.Int("failed", len(failures)),
			slog.Int("size", c.size),
		)
		return group, fmt.Errorf("%w: %w", ErrRegistrationFailed, errors.Join(failures...))
	}
	c.logger.Info("all workers registered", slog.Int("size", group.Len()))
	return group, nil
}

func (c *Coordinator) collectRequests(ctx context.Context) ([]*member, error) {
	pending := make([]*member, 0, c.size)
	seen := make(map[string]bool, c.size)
	for len(pending) < c.size {
		f, err := c.transport.RecvAny(ctx, wire.TagRegistration)
		if err != nil {
			return nil, fmt.Errorf("coordinator: waiting for %d more workers: %w", c.size-len(pending), err)
		}
		if f.Method != wire.MethodRegister {
			c.logger.Warn("ignoring frame before group formed",
				slog.String("method", f.Method),
				slog.String("source", f.Source),
			)
			continue
		}
		ep, err := endpoint.Parse(f.Source)
		if err != nil {
			c.logger.Warn("ignoring registration with bad source", slog.String("source", f.Source))
			continue
		}
		if seen[ep.String()] {
			c.logger.Warn("duplicate registration", slog.String("worker", ep.String()))
			continue
		}
		var req wire.RegistrationRequest
		if !f.Empty() {
			if err := f.Decode(&req); err != nil {
				c.logger.Warn("ignoring malformed registration",
					slog.String("worker", ep.String()),
					slog.String("error", err.Error()),
				)
				continue
			}
		}
		seen[ep.String()] = true
		pending = append(pending, &member{endpoint: ep, ordinal: req.Ordinal})
		c.logger.Info("registration request",
			slog.String("worker", ep.String()),
			slog.Int("ordinal", req.Ordinal),
			slog.Int("received", len(pending)),
			slog.Int("size", c.size),
		)
	}
	return pending, nil
}

func distinctOrdinals(ms []*member) bool {
	seen := make(map[int]bool, len(ms))
	for _, m := range ms {
		if m.ordinal <= 0 || seen[m.ordinal] {
			return false
		}
		seen[m.ordinal] = true
	}
	return true
}

// settings returns the flat configuration sent in every reply.
func (c *Coordinator) settings() (map[string]string, error) {
	t := config.New()
	if c.config != nil {
		t = c.config.Clone()
	}
	if c.buildTag != "" {
		if err := t.Set(config.KeyCoordinatorBuildTag, c.buildTag); err != nil {
			return nil, fmt.Errorf("coordinator: %w", err)
		}
	}
	return t.Map(), nil
}

// admit runs the coordinator half of one worker's handshake.
func (c *Coordinator) admit(ctx context.Context, m *member, rank int, group cluster.Group, settings map[string]string) error {
	ep := m.endpoint.String()
	c.mu.Lock()
	record := *m.record
	c.mu.Unlock()
	if err := c.store.RegisterMember(ctx, &record); err != nil {
		return &WorkerError{Endpoint: ep, Code: wire.ErrCodeFailedToRegister, Message: err.Error()}
	}

	reply, err := wire.NewFrame(wire.TagRegistration, wire.MethodReply, wire.RegistrationReply{
		VersionMajor: c.versionMajor,
		VersionMinor: c.versionMinor,
		Group:        group.Strings(),
		Config:       settings,
		JobTag:       m.jobTag,
		ServiceTag:   m.serviceTag,
	})
	if err != nil {
		return c.reject(ctx, m, err.Error())
	}
	if err := c.send(ctx, m.endpoint, reply); err != nil {
		return c.reject(ctx, m, fmt.Sprintf("send reply: %v", err))
	}

	rctx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()
	f, err := c.transport.Recv(rctx, m.endpoint, wire.TagRegistration)
	if err != nil {
		return c.reject(ctx, m, fmt.Sprintf("no confirmation: %v", err))
	}

	switch f.Method {
	case wire.MethodConfirm:
	case wire.MethodError:
		var report wire.ErrorReport
		if err := f.Decode(&report); err != nil {
			return c.reject(ctx, m, err.Error())
		}
		c.logger.Error("worker reported registration error",
			slog.String("worker", ep),
			slog.Int("code", report.Code),
			slog.String("message", report.Message),
		)
		c.markFailed(ctx, m, report.Message)
		return &WorkerError{Endpoint: ep, Code: report.Code, Message: report.Message}
	default:
		return c.reject(ctx, m, fmt.Sprintf("unexpected %q before confirmation", f.Method))
	}

	if err := c.send(ctx, m.endpoint, wire.MustFrame(wire.TagRegistration, wire.MethodAck, nil)); err != nil {
		return c.reject(ctx, m, fmt.Sprintf("send ack: %v", err))
	}

	c.mu.Lock()
	ch := c.transitionLocked(m, cluster.MemberActive, "")
	c.mu.Unlock()
	c.persist(ctx, ch)

	c.logger.Info("worker registered", slog.String("worker", ep), slog.Int("rank", rank))
	c.extensions.EmitMemberJoined(ctx, &ch.record)
	return nil
}

func (c *Coordinator) reject(ctx context.Context, m *member, msg string) error {
	ep := m.endpoint.String()
	c.logger.Error("worker registration failed", slog.String("worker", ep), slog.String("error", msg))
	c.markFailed(ctx, m, msg)
	return &WorkerError{Endpoint: ep, Code: wire.ErrCodeFailedToRegister, Message: msg}
}

func (c *Coordinator) markFailed(ctx context.Context, m *member, reason string) {
	c.mu.Lock()
	ch := c.transitionLocked(m, cluster.MemberFailed, reason)
	c.mu.Unlock()
	c.persist(context.WithoutCancel(ctx), ch)
}

func (c *Coordinator) send(ctx context.Context, to endpoint.Endpoint, f *wire.Frame) error {
	if c.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.sendTimeout)
		defer cancel()
	}
	return c.transport.Send(ctx, to, f)
}

// ── Serving ─────────────────────────────────────────

// Serve handles registration-channel traffic after the group is formed:
// deregistrations and error reports. With a probe interval it also pings
// active members. It returns when ctx is done or the transport stops.
func (c *Coordinator) Serve(ctx context.Context) error {
	if !c.gathered.Load() {
		return ErrNotGathered
	}

	if c.probeInterval > 0 {
		go c.probeLoop(ctx)
	}

	for {
		f, err := c.transport.RecvAny(ctx, wire.TagRegistration)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, mp.ErrStopped) {
				return nil
			}
			return fmt.Errorf("coordinator: serve: %w", err)
		}
		c.handle(ctx, f)
	}
}

func (c *Coordinator) handle(ctx context.Context, f *wire.Frame) {
	var m *member
	if src, err := endpoint.Parse(f.Source); err == nil {
		m = c.lookup(src.String())
	}
	if m == nil {
		c.logger.Warn("frame from unknown worker",
			slog.String("method", f.Method),
			slog.String("source", f.Source),
		)
		return
	}

	switch f.Method {
	case wire.MethodDeregister:
		var d wire.Deregistration
		if err := f.Decode(&d); err != nil {
			c.logger.Warn("malformed deregistration", slog.String("worker", f.Source), slog.String("error", err.Error()))
			return
		}
		reason := ""
		if d.Reason != nil {
			reason = d.Reason.Error()
		}
		c.leave(ctx, m, reason)

	case wire.MethodError:
		var report wire.ErrorReport
		if err := f.Decode(&report); err != nil {
			c.logger.Warn("malformed error report", slog.String("worker", f.Source), slog.String("error", err.Error()))
			return
		}
		c.logger.Error("worker reported error",
			slog.String("worker", f.Source),
			slog.Int("code", report.Code),
			slog.String("message", report.Message),
		)
		c.mu.Lock()
		ch := c.transitionLocked(m, cluster.MemberFailed, report.Message)
		c.mu.Unlock()
		c.persist(ctx, ch)
		if ch.prev == cluster.MemberActive {
			c.extensions.EmitMemberLost(ctx, &ch.record, errors.New(report.Message))
		}

	default:
		if err := c.store.TouchMember(ctx, m.endpoint.String()); err != nil {
			c.logger.Debug("touch member failed", slog.String("error", err.Error()))
		}
		c.logger.Debug("ignoring registration frame", slog.String("method", f.Method), slog.String("worker", f.Source))
	}
}

func (c *Coordinator) lookup(key string) *member {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.members[key]
}

// leave records a deregistration. A member already marked lost is
// corrected to left without a second departure event.
func (c *Coordinator) leave(ctx context.Context, m *member, reason string) {
	c.mu.Lock()
	if s := m.record.State; s != cluster.MemberActive && s != cluster.MemberLost {
		c.mu.Unlock()
		return
	}
	ch := c.transitionLocked(m, cluster.MemberLeft, reason)
	c.mu.Unlock()
	c.persist(ctx, ch)

	attrs := []any{slog.String("worker", m.endpoint.String()), slog.Int("rank", ch.record.Rank)}
	if reason != "" {
		attrs = append(attrs, slog.String("reason", reason))
	}
	c.logger.Info("worker deregistered", attrs...)
	if ch.prev == cluster.MemberActive {
		c.extensions.EmitMemberLeft(ctx, &ch.record)
	}
}

// PeerLost marks an active member lost. It is meant to be wired as the
// transport's disconnect callback. A deregistration already queued from the
// peer takes precedence.
func (c *Coordinator) PeerLost(peer endpoint.Endpoint, cause error) {
	ctx := context.Background()
	m := c.lookup(peer.String())
	if m == nil || !c.isActive(m) {
		return
	}

	// A cancelled context turns Recv into a poll of frames already queued.
	poll, cancel := context.WithCancel(ctx)
	cancel()
	if f, err := c.transport.Recv(poll, peer, wire.TagRegistration); err == nil {
		c.handle(ctx, f)
	}
	c.markLost(ctx, m, cause)
}

func (c *Coordinator) isActive(m *member) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return m.record.State == cluster.MemberActive
}

// markLost moves an active member to lost. Members in any other state are
// left alone.
func (c *Coordinator) markLost(ctx context.Context, m *member, cause error) {
	c.mu.Lock()
	if m.record.State != cluster.MemberActive {
		c.mu.Unlock()
		return
	}
	ch := c.transitionLocked(m, cluster.MemberLost, cause.Error())
	c.mu.Unlock()
	c.persist(ctx, ch)

	c.logger.Warn("worker lost",
		slog.String("worker", m.endpoint.String()),
		slog.Int("rank", ch.record.Rank),
		slog.String("error", cause.Error()),
	)
	c.extensions.EmitMemberLost(ctx, &ch.record, cause)
}

// transitionLocked applies a state change and returns it for publishing.
// c.mu must be held.
func (c *Coordinator) transitionLocked(m *member, state cluster.MemberState, reason string) change {
	prev := m.record.State
	m.record.State = state
	m.record.Reason = reason
	m.seq++
	return change{m: m, seq: m.seq, prev: prev, record: *m.record}
}

// persist writes a transition to the store unless a later transition of
// the same member was written first.
func (c *Coordinator) persist(ctx context.Context, ch change) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if ch.seq <= ch.m.written {
		return
	}
	ch.m.written = ch.seq
	if err := c.store.UpdateState(ctx, ch.m.endpoint.String(), ch.record.State, ch.record.Reason); err != nil {
		c.logger.Warn("failed to record member state",
			slog.String("worker", ch.m.endpoint.String()),
			slog.String("state", string(ch.record.State)),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Coordinator) probeLoop(ctx context.Context) {
	ticker := time.NewTicker(c.probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.probe(ctx)
		}
	}
}

// probe pings every active member and marks the silent ones lost.
func (c *Coordinator) probe(ctx context.Context) {
	for _, m := range c.active() {
		pctx, cancel := context.WithTimeout(ctx, c.probeInterval)
		err := c.transport.Ping(pctx, m.endpoint)
		cancel()
		if err == nil {
			if touchErr := c.store.TouchMember(ctx, m.endpoint.String()); touchErr != nil {
				c.logger.Debug("touch member failed", slog.String("error", touchErr.Error()))
			}
		}
	}

	silent, err := c.store.ReapSilentMembers(ctx, 3*c.probeInterval)
	if err != nil {
		c.logger.Warn("reap silent members failed", slog.String("error", err.Error()))
		return
	}
	for _, rec := range silent {
		if m := c.lookup(rec.Endpoint); m != nil {
			c.markLost(ctx, m, fmt.Errorf("silent since %s", rec.LastSeen.Format(time.RFC3339)))
		}
	}
}

// active returns the active members in rank order.
func (c *Coordinator) active() []*member {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*member, 0, len(c.members))
	for _, m := range c.members {
		if m.record.State == cluster.MemberActive {
			out = append(out, m)
		}
	}
	slices.SortFunc(out, func(a, b *member) int { return cmp.Compare(a.record.Rank, b.record.Rank) })
	return out
}

// ── Jobs ────────────────────────────────────────────

// SendJob delivers job to the member with the given rank on its job tag.
func (c *Coordinator) SendJob(ctx context.Context, rank int, job wire.Job) error {
	m, err := c.byRank(rank)
	if err != nil {
		return err
	}
	f, err := wire.NewFrame(m.jobTag, wire.MethodJob, job)
	if err != nil {
		return fmt.Errorf("coordinator: encode job: %w", err)
	}
	if err := c.send(ctx, m.endpoint, f); err != nil {
		return fmt.Errorf("coordinator: send job to rank %d: %w", rank, err)
	}
	c.logger.Debug("job sent", slog.String("job", job.Name), slog.Int("rank", rank))
	return nil
}

// Broadcast delivers job to every active member.
func (c *Coordinator) Broadcast(ctx context.Context, job wire.Job) error {
	var errs []error
	for _, m := range c.active() {
		if err := c.SendJob(ctx, m.record.Rank, job); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stop tells every active member to finish and records it as left.
func (c *Coordinator) Stop(ctx context.Context) error {
	if !c.gathered.Load() {
		return ErrNotGathered
	}
	var errs []error
	for _, m := range c.active() {
		if err := c.send(ctx, m.endpoint, wire.MustFrame(m.jobTag, wire.MethodStop, nil)); err != nil {
			errs = append(errs, fmt.Errorf("coordinator: stop rank %d: %w", m.record.Rank, err))
			continue
		}
		c.leave(ctx, m, "")
	}
	return errors.Join(errs...)
}

func (c *Coordinator) byRank(rank int) (*member, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ep, ok := c.group.At(rank)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRank, rank)
	}
	m, ok := c.members[ep.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRank, rank)
	}
	if m.record.State != cluster.MemberActive {
		return nil, fmt.Errorf("%w: rank %d is %s", ErrNotActive, rank, m.record.State)
	}
	return m, nil
}
