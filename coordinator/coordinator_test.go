package coordinator_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/cohort/cluster"
	"github.com/xraph/cohort/coordinator"
	"github.com/xraph/cohort/endpoint"
	"github.com/xraph/cohort/ext"
	"github.com/xraph/cohort/handshake"
	"github.com/xraph/cohort/mp"
	"github.com/xraph/cohort/wire"
)

const buildTag = "build-7"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func startComm(t *testing.T, opts ...mp.Option) *mp.Communicator {
	t.Helper()
	opts = append([]mp.Option{mp.WithLogger(quietLogger())}, opts...)
	c := mp.New(endpoint.New("127.0.0.1", 0), opts...)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = c.Stop() })
	return c
}

// recorder counts member events.
type recorder struct {
	mu     sync.Mutex
	joined []string
	left   []string
	lost   []string
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) OnMemberJoined(_ context.Context, m *cluster.Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joined = append(r.joined, m.Endpoint)
	return nil
}

func (r *recorder) OnMemberLeft(_ context.Context, m *cluster.Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.left = append(r.left, m.Endpoint)
	return nil
}

func (r *recorder) OnMemberLost(_ context.Context, m *cluster.Member, _ error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lost = append(r.lost, m.Endpoint)
	return nil
}

func (r *recorder) counts() (joined, left, lost int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.joined), len(r.left), len(r.lost)
}

type harness struct {
	coord *coordinator.Coordinator
	comm  *mp.Communicator
	rec   *recorder
}

func newHarness(t *testing.T, size int, extra ...ext.Extension) *harness {
	t.Helper()
	h := &harness{rec: &recorder{}}
	reg := ext.NewRegistry(quietLogger())
	reg.Register(h.rec)
	for _, e := range extra {
		reg.Register(e)
	}

	var current atomic.Pointer[coordinator.Coordinator]
	h.comm = startComm(t, mp.WithOnDisconnect(func(peer endpoint.Endpoint, err error) {
		if c := current.Load(); c != nil {
			c.PeerLost(peer, err)
		}
	}))
	h.coord = coordinator.New(h.comm, size,
		coordinator.WithLogger(quietLogger()),
		coordinator.WithExtensions(reg),
		coordinator.WithBuildTag(buildTag),
		coordinator.WithConfirmTimeout(5*time.Second),
	)
	current.Store(h.coord)
	return h
}

type worker struct {
	comm  *mp.Communicator
	proto *handshake.Protocol
	cc    *cluster.Context
	err   error
}

// register runs one worker handshake per option set concurrently with
// Gather and returns the workers in the order given.
func (h *harness) register(t *testing.T, ctx context.Context, sets ...[]handshake.Option) ([]*worker, cluster.Group, error) {
	t.Helper()

	var (
		group     cluster.Group
		gatherErr error
		done      = make(chan struct{})
	)
	go func() {
		defer close(done)
		group, gatherErr = h.coord.Gather(ctx)
	}()

	workers := make([]*worker, len(sets))
	var wg sync.WaitGroup
	for i, opts := range sets {
		comm := startComm(t)
		base := []handshake.Option{
			handshake.WithLogger(quietLogger()),
			handshake.WithVersion(handshake.Version{Major: 1}),
			handshake.WithBuildTag(buildTag),
		}
		w := &worker{comm: comm}
		w.proto = handshake.New(comm, &cluster.Registration{}, append(base, opts...)...)
		workers[i] = w
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.cc, w.err = w.proto.Register(ctx, h.comm.Self())
		}()
	}
	wg.Wait()
	<-done
	return workers, group, gatherErr
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func memberState(t *testing.T, ctx context.Context, c *coordinator.Coordinator, ep endpoint.Endpoint) cluster.MemberState {
	t.Helper()
	m, err := c.Store().GetMember(ctx, ep.String())
	if err != nil {
		return ""
	}
	return m.State
}

// ── Gather ──────────────────────────────────────────

func TestGatherOrdersByOrdinal(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	h := newHarness(t, 3)

	workers, group, err := h.register(t, ctx,
		[]handshake.Option{handshake.WithOrdinal(3)},
		[]handshake.Option{handshake.WithOrdinal(1)},
		[]handshake.Option{handshake.WithOrdinal(2)},
	)
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if group.Len() != 3 {
		t.Fatalf("group.Len() = %d, want 3", group.Len())
	}

	for i, want := range []int{3, 1, 2} {
		w := workers[i]
		if w.err != nil {
			t.Fatalf("worker %d Register: %v", i, w.err)
		}
		if w.cc.Rank() != want {
			t.Errorf("worker %d rank = %d, want %d", i, w.cc.Rank(), want)
		}
		if got, _ := w.cc.Config().Get("coordinator.build_tag"); got != buildTag {
			t.Errorf("worker %d build tag = %q, want %q", i, got, buildTag)
		}
		if w.cc.JobTag() == w.cc.ServiceTag() {
			t.Errorf("worker %d job and service tags are equal", i)
		}
	}

	members, err := h.coord.Members(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for i, m := range members {
		if m.Rank != i+1 {
			t.Errorf("members[%d].Rank = %d, want %d", i, m.Rank, i+1)
		}
		if m.State != cluster.MemberActive {
			t.Errorf("members[%d].State = %s, want %s", i, m.State, cluster.MemberActive)
		}
	}
	if joined, _, _ := h.rec.counts(); joined != 3 {
		t.Errorf("joined events = %d, want 3", joined)
	}

	if _, err := h.coord.Gather(ctx); !errors.Is(err, coordinator.ErrAlreadyGathered) {
		t.Errorf("second Gather error = %v, want ErrAlreadyGathered", err)
	}
}

func TestGatherArrivalOrderWithoutOrdinals(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	h := newHarness(t, 2)

	workers, group, err := h.register(t, ctx, nil, nil)
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	seen := map[int]bool{}
	for i, w := range workers {
		if w.err != nil {
			t.Fatalf("worker %d Register: %v", i, w.err)
		}
		rank, ok := group.Rank(w.comm.Self())
		if !ok || rank != w.cc.Rank() {
			t.Errorf("worker %d rank = %d, group says %d", i, w.cc.Rank(), rank)
		}
		seen[rank] = true
	}
	if !seen[1] || !seen[2] {
		t.Errorf("ranks = %v, want 1 and 2", seen)
	}
}

func TestGatherReportsWorkerError(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	h := newHarness(t, 2)

	workers, _, err := h.register(t, ctx,
		nil,
		[]handshake.Option{handshake.WithBuildTag("other")},
	)
	if !errors.Is(err, coordinator.ErrRegistrationFailed) {
		t.Fatalf("Gather error = %v, want ErrRegistrationFailed", err)
	}
	var werr *coordinator.WorkerError
	if !errors.As(err, &werr) {
		t.Fatalf("Gather error %v carries no WorkerError", err)
	}
	if werr.Code != wire.ErrCodeFailedToRegister {
		t.Errorf("Code = %d, want %d", werr.Code, wire.ErrCodeFailedToRegister)
	}
	if !strings.Contains(werr.Message, "exception") {
		t.Errorf("Message = %q, want a worker exception report", werr.Message)
	}

	if workers[0].err != nil {
		t.Errorf("good worker Register: %v", workers[0].err)
	}
	if kind, _ := handshake.KindOf(workers[1].err); kind != handshake.KindBuildMismatch {
		t.Errorf("bad worker kind = %v, want %v", kind, handshake.KindBuildMismatch)
	}
	if got := memberState(t, ctx, h.coord, workers[1].comm.Self()); got != cluster.MemberFailed {
		t.Errorf("bad worker state = %s, want %s", got, cluster.MemberFailed)
	}
	if got := memberState(t, ctx, h.coord, workers[0].comm.Self()); got != cluster.MemberActive {
		t.Errorf("good worker state = %s, want %s", got, cluster.MemberActive)
	}
}

// ── Serve ───────────────────────────────────────────

func TestServeRecordsDeregistration(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	h := newHarness(t, 1)

	workers, _, err := h.register(t, ctx, nil)
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	go func() { _ = h.coord.Serve(ctx) }()

	w := workers[0]
	if !w.proto.Deregister(ctx, errors.New("disk full")) {
		t.Fatal("Deregister = false, want true")
	}
	waitFor(t, "member left", func() bool {
		return memberState(t, ctx, h.coord, w.comm.Self()) == cluster.MemberLeft
	})

	m, err := h.coord.Store().GetMember(ctx, w.comm.Self().String())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(m.Reason, "disk full") {
		t.Errorf("Reason = %q, want it to mention the failure", m.Reason)
	}
	if _, left, lost := h.rec.counts(); left != 1 || lost != 0 {
		t.Errorf("left, lost = %d, %d, want 1, 0", left, lost)
	}
}

func TestPeerLostMarksMember(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	h := newHarness(t, 1)

	workers, _, err := h.register(t, ctx, nil)
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	w := workers[0]
	self := w.comm.Self()
	_ = w.comm.Stop()

	waitFor(t, "member lost", func() bool {
		return memberState(t, ctx, h.coord, self) == cluster.MemberLost
	})
	if _, _, lost := h.rec.counts(); lost != 1 {
		t.Errorf("lost events = %d, want 1", lost)
	}
	if err := h.coord.SendJob(ctx, 1, wire.Job{Name: "late"}); !errors.Is(err, coordinator.ErrNotActive) {
		t.Errorf("SendJob to lost member error = %v, want ErrNotActive", err)
	}
}

// stallingHook blocks in OnMemberLeft until released.
type stallingHook struct {
	entered chan struct{}
	release chan struct{}
}

func (s *stallingHook) Name() string { return "stalling-hook" }

func (s *stallingHook) OnMemberLeft(context.Context, *cluster.Member) error {
	close(s.entered)
	<-s.release
	return nil
}

func TestSlowHookDoesNotStallPeerLost(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	hook := &stallingHook{entered: make(chan struct{}), release: make(chan struct{})}
	h := newHarness(t, 2, hook)
	t.Cleanup(func() { close(hook.release) })

	workers, _, err := h.register(t, ctx, nil, nil)
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	go func() { _ = h.coord.Serve(ctx) }()

	leaving, dropped := workers[0], workers[1]
	if !leaving.proto.Deregister(ctx, nil) {
		t.Fatal("Deregister = false, want true")
	}
	select {
	case <-hook.entered:
	case <-ctx.Done():
		t.Fatal("member left hook never ran")
	}

	// The departure hook is still blocked. The other member's disconnect
	// must be recorded regardless.
	self := dropped.comm.Self()
	_ = dropped.comm.Stop()
	waitFor(t, "member lost", func() bool {
		return memberState(t, ctx, h.coord, self) == cluster.MemberLost
	})
	if got := memberState(t, ctx, h.coord, leaving.comm.Self()); got != cluster.MemberLeft {
		t.Errorf("leaving member state = %q, want %q", got, cluster.MemberLeft)
	}
	if got := h.coord.Group().Len(); got != 2 {
		t.Errorf("Group size = %d, want 2", got)
	}
	if _, _, lost := h.rec.counts(); lost != 1 {
		t.Errorf("lost events = %d, want 1", lost)
	}
}

func TestServeBeforeGather(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 1)
	if err := h.coord.Serve(testContext(t)); !errors.Is(err, coordinator.ErrNotGathered) {
		t.Errorf("Serve error = %v, want ErrNotGathered", err)
	}
	if err := h.coord.Stop(testContext(t)); !errors.Is(err, coordinator.ErrNotGathered) {
		t.Errorf("Stop error = %v, want ErrNotGathered", err)
	}
}

// ── Jobs ────────────────────────────────────────────

func TestJobsAndStop(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	h := newHarness(t, 2)

	workers, _, err := h.register(t, ctx,
		[]handshake.Option{handshake.WithOrdinal(1)},
		[]handshake.Option{handshake.WithOrdinal(2)},
	)
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	if err := h.coord.SendJob(ctx, 2, wire.Job{Name: "only-two"}); err != nil {
		t.Fatalf("SendJob: %v", err)
	}
	if err := h.coord.Broadcast(ctx, wire.Job{Name: "everyone"}); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if err := h.coord.SendJob(ctx, 9, wire.Job{Name: "nobody"}); !errors.Is(err, coordinator.ErrUnknownRank) {
		t.Errorf("SendJob(9) error = %v, want ErrUnknownRank", err)
	}

	next := func(w *worker) *wire.Frame {
		t.Helper()
		f, err := w.comm.Recv(ctx, w.cc.Coordinator(), w.cc.JobTag())
		if err != nil {
			t.Fatalf("Recv job: %v", err)
		}
		return f
	}
	jobName := func(f *wire.Frame) string {
		t.Helper()
		var job wire.Job
		if err := f.Decode(&job); err != nil {
			t.Fatalf("Decode: %v", err)
		}
		return job.Name
	}

	if got := jobName(next(workers[1])); got != "only-two" {
		t.Errorf("rank 2 first job = %q, want %q", got, "only-two")
	}
	for i, w := range workers {
		if got := jobName(next(w)); got != "everyone" {
			t.Errorf("worker %d job = %q, want %q", i, got, "everyone")
		}
	}

	if err := h.coord.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	for i, w := range workers {
		if f := next(w); f.Method != wire.MethodStop {
			t.Errorf("worker %d method = %q, want %q", i, f.Method, wire.MethodStop)
		}
		if got := memberState(t, ctx, h.coord, w.comm.Self()); got != cluster.MemberLeft {
			t.Errorf("worker %d state = %s, want %s", i, got, cluster.MemberLeft)
		}
	}
	if _, left, _ := h.rec.counts(); left != 2 {
		t.Errorf("left events = %d, want 2", left)
	}
}
