// Package memory implements store.Store in process memory. It is safe for
// concurrent access and intended for tests and single-process clusters.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/cohort/cluster"
	"github.com/xraph/cohort/store"
)

var _ store.Store = (*Store)(nil)

// Store is an in-memory membership registry keyed by endpoint.
type Store struct {
	mu      sync.RWMutex
	members map[string]*cluster.Member
}

// New returns a new empty Store.
func New() *Store {
	return &Store{members: make(map[string]*cluster.Member)}
}

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// RegisterMember adds or replaces a member record.
func (m *Store) RegisterMember(_ context.Context, mem *cluster.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *mem
	m.members[mem.Endpoint] = &cp
	return nil
}

// UpdateState moves a member to state. Leaving states stamp LeftAt.
func (m *Store) UpdateState(_ context.Context, ep string, state cluster.MemberState, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mem, ok := m.members[ep]
	if !ok {
		return cluster.ErrMemberNotFound
	}
	now := time.Now().UTC()
	mem.State = state
	mem.LastSeen = now
	if reason != "" {
		mem.Reason = reason
	}
	if state.Terminal() {
		mem.LeftAt = &now
	}
	return nil
}

// TouchMember updates the last-seen timestamp for a member.
func (m *Store) TouchMember(_ context.Context, ep string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mem, ok := m.members[ep]
	if !ok {
		return cluster.ErrMemberNotFound
	}
	mem.LastSeen = time.Now().UTC()
	return nil
}

// GetMember returns a copy of the member at ep.
func (m *Store) GetMember(_ context.Context, ep string) (*cluster.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mem, ok := m.members[ep]
	if !ok {
		return nil, cluster.ErrMemberNotFound
	}
	cp := *mem
	return &cp, nil
}

// ListMembers returns copies of all members ordered by rank.
func (m *Store) ListMembers(_ context.Context) ([]*cluster.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*cluster.Member, 0, len(m.members))
	for _, mem := range m.members {
		cp := *mem
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].Rank < result[k].Rank
	})
	return result, nil
}

// ReapSilentMembers returns active members whose last-seen timestamp is
// older than threshold.
func (m *Store) ReapSilentMembers(_ context.Context, threshold time.Duration) ([]*cluster.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-threshold)
	var silent []*cluster.Member
	for _, mem := range m.members {
		if mem.State == cluster.MemberActive && mem.LastSeen.Before(cutoff) {
			cp := *mem
			silent = append(silent, &cp)
		}
	}
	return silent, nil
}
