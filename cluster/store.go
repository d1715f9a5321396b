package cluster

import (
	"context"
	"errors"
	"time"
)

// ErrMemberNotFound is returned when no member has the given endpoint.
var ErrMemberNotFound = errors.New("cluster: member not found")

// Store defines the persistence contract for a coordinator's membership
// registry. Members are keyed by endpoint.
type Store interface {
	// RegisterMember adds or replaces a member record.
	RegisterMember(ctx context.Context, m *Member) error

	// UpdateState moves a member to state, recording reason when non-empty.
	UpdateState(ctx context.Context, ep string, state MemberState, reason string) error

	// TouchMember updates the last-seen timestamp of a member.
	TouchMember(ctx context.Context, ep string) error

	// GetMember returns the member at ep.
	GetMember(ctx context.Context, ep string) (*Member, error)

	// ListMembers returns every member ordered by rank.
	ListMembers(ctx context.Context) ([]*Member, error)

	// ReapSilentMembers returns active members whose last-seen timestamp is
	// older than threshold.
	ReapSilentMembers(ctx context.Context, threshold time.Duration) ([]*Member, error)

	// Close releases backend resources.
	Close() error
}
