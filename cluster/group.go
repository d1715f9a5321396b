package cluster

import (
	"fmt"
	"slices"

	"github.com/xraph/cohort/endpoint"
)

// Group is an ordered, immutable set of worker endpoints.
type Group struct {
	members []endpoint.Endpoint
}

// NewGroup returns a group of the given endpoints in order.
func NewGroup(members ...endpoint.Endpoint) Group {
	return Group{members: slices.Clone(members)}
}

// ParseGroup parses the serialized membership list of a registration reply.
func ParseGroup(members []string) (Group, error) {
	eps := make([]endpoint.Endpoint, 0, len(members))
	for i, m := range members {
		ep, err := endpoint.Parse(m)
		if err != nil {
			return Group{}, fmt.Errorf("cluster: group member %d: %w", i, err)
		}
		eps = append(eps, ep)
	}
	return Group{members: eps}, nil
}

// Len returns the number of members.
func (g Group) Len() int { return len(g.members) }

// Rank returns the 1-based position of ep in the group.
func (g Group) Rank(ep endpoint.Endpoint) (int, bool) {
	for i, m := range g.members {
		if m.Equal(ep) {
			return i + 1, true
		}
	}
	return 0, false
}

// At returns the member with the given 1-based rank.
func (g Group) At(rank int) (endpoint.Endpoint, bool) {
	if rank < 1 || rank > len(g.members) {
		return endpoint.Endpoint{}, false
	}
	return g.members[rank-1], true
}

// Members returns a copy of the members in rank order.
func (g Group) Members() []endpoint.Endpoint {
	return slices.Clone(g.members)
}

// Strings returns the members in their serialized form.
func (g Group) Strings() []string {
	out := make([]string, len(g.members))
	for i, m := range g.members {
		out[i] = m.String()
	}
	return out
}

// Peers returns every member except self.
func (g Group) Peers(self endpoint.Endpoint) []endpoint.Endpoint {
	out := make([]endpoint.Endpoint, 0, len(g.members))
	for _, m := range g.members {
		if !m.Equal(self) {
			out = append(out, m)
		}
	}
	return out
}
