package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/cohort/cluster"
	"github.com/xraph/cohort/id"
	"github.com/xraph/cohort/store/memory"
)

func newMember(ep string, rank int) *cluster.Member {
	now := time.Now().UTC()
	return &cluster.Member{
		ID:       id.NewWorkerID(),
		Endpoint: ep,
		Rank:     rank,
		State:    cluster.MemberJoining,
		JoinedAt: now,
		LastSeen: now,
	}
}

func TestLifecycle(t *testing.T) {
	t.Parallel()
	s := memory.New()
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestRegisterAndList(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()

	for _, m := range []*cluster.Member{
		newMember("10.0.0.9:20100", 3),
		newMember("10.0.0.2:20100", 1),
		newMember("10.0.0.5:20100", 2),
	} {
		if err := s.RegisterMember(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	list, err := s.ListMembers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("len = %d, want 3", len(list))
	}
	for i, m := range list {
		if m.Rank != i+1 {
			t.Errorf("list[%d].Rank = %d, want %d", i, m.Rank, i+1)
		}
	}
}

func TestGetMemberReturnsCopy(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()
	_ = s.RegisterMember(ctx, newMember("10.0.0.5:20100", 2))

	got, err := s.GetMember(ctx, "10.0.0.5:20100")
	if err != nil {
		t.Fatal(err)
	}
	got.Rank = 99

	again, _ := s.GetMember(ctx, "10.0.0.5:20100")
	if again.Rank != 2 {
		t.Errorf("Rank = %d after mutating a copy, want 2", again.Rank)
	}
}

func TestUpdateState(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()
	_ = s.RegisterMember(ctx, newMember("10.0.0.5:20100", 2))

	tests := []struct {
		state    cluster.MemberState
		reason   string
		wantLeft bool
	}{
		{cluster.MemberActive, "", false},
		{cluster.MemberLeft, "disk full", true},
	}
	for _, tt := range tests {
		if err := s.UpdateState(ctx, "10.0.0.5:20100", tt.state, tt.reason); err != nil {
			t.Fatalf("UpdateState(%s): %v", tt.state, err)
		}
		m, _ := s.GetMember(ctx, "10.0.0.5:20100")
		if m.State != tt.state {
			t.Errorf("State = %s, want %s", m.State, tt.state)
		}
		if (m.LeftAt != nil) != tt.wantLeft {
			t.Errorf("LeftAt set = %v, want %v", m.LeftAt != nil, tt.wantLeft)
		}
		if tt.reason != "" && m.Reason != tt.reason {
			t.Errorf("Reason = %q, want %q", m.Reason, tt.reason)
		}
	}
}

func TestNotFound(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()

	if _, err := s.GetMember(ctx, "nowhere:1"); !errors.Is(err, cluster.ErrMemberNotFound) {
		t.Errorf("GetMember error = %v, want ErrMemberNotFound", err)
	}
	if err := s.UpdateState(ctx, "nowhere:1", cluster.MemberLeft, ""); !errors.Is(err, cluster.ErrMemberNotFound) {
		t.Errorf("UpdateState error = %v, want ErrMemberNotFound", err)
	}
	if err := s.TouchMember(ctx, "nowhere:1"); !errors.Is(err, cluster.ErrMemberNotFound) {
		t.Errorf("TouchMember error = %v, want ErrMemberNotFound", err)
	}
}

func TestReapSilentMembers(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()

	stale := newMember("10.0.0.2:20100", 1)
	stale.State = cluster.MemberActive
	stale.LastSeen = time.Now().UTC().Add(-time.Hour)
	fresh := newMember("10.0.0.5:20100", 2)
	fresh.State = cluster.MemberActive
	gone := newMember("10.0.0.9:20100", 3)
	gone.State = cluster.MemberLeft
	gone.LastSeen = time.Now().UTC().Add(-time.Hour)

	for _, m := range []*cluster.Member{stale, fresh, gone} {
		_ = s.RegisterMember(ctx, m)
	}

	silent, err := s.ReapSilentMembers(ctx, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(silent) != 1 || silent[0].Endpoint != stale.Endpoint {
		t.Errorf("silent = %v, want only %s", silent, stale.Endpoint)
	}

	if err := s.TouchMember(ctx, stale.Endpoint); err != nil {
		t.Fatal(err)
	}
	if silent, _ = s.ReapSilentMembers(ctx, time.Minute); len(silent) != 0 {
		t.Errorf("silent after touch = %d, want 0", len(silent))
	}
}
