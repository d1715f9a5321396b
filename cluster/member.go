package cluster

import (
	"time"

	"github.com/xraph/cohort/id"
)

// MemberState represents the lifecycle state of a worker as seen by the
// coordinator.
type MemberState string

const (
	// MemberJoining means the worker was sent a reply but has not confirmed.
	MemberJoining MemberState = "joining"
	// MemberActive means the worker confirmed and was acknowledged.
	MemberActive MemberState = "active"
	// MemberLeft means the worker deregistered.
	MemberLeft MemberState = "left"
	// MemberFailed means the worker reported a registration error.
	MemberFailed MemberState = "failed"
	// MemberLost means the worker's link dropped without a deregistration.
	MemberLost MemberState = "lost"
)

// Terminal reports whether the member has left the group for good.
func (s MemberState) Terminal() bool {
	return s == MemberLeft || s == MemberFailed || s == MemberLost
}

// Member is a worker record kept by a coordinator.
type Member struct {
	ID       id.WorkerID `json:"id"`
	Endpoint string      `json:"endpoint"`
	Rank     int         `json:"rank"`
	Ordinal  int         `json:"ordinal"`
	State    MemberState `json:"state"`
	Reason   string      `json:"reason,omitempty"`
	JoinedAt time.Time   `json:"joined_at"`
	LastSeen time.Time   `json:"last_seen"`
	LeftAt   *time.Time  `json:"left_at,omitempty"`
}
