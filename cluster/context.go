package cluster

import (
	"sync"

	"github.com/xraph/cohort/config"
	"github.com/xraph/cohort/endpoint"
	"github.com/xraph/cohort/wire"
)

// ContextParams carries the values a handshake derives.
type ContextParams struct {
	Rank        int
	Self        endpoint.Endpoint
	Coordinator endpoint.Endpoint
	Group       Group
	JobTag      wire.Tag
	ServiceTag  wire.Tag
	Config      *config.Tree

	// Release drops the coordinator reference. It runs at most once.
	Release func() error
}

// Context is the cluster state produced by a successful registration. It is
// read-only after creation except for the one-shot release of the
// coordinator reference.
type Context struct {
	rank        int
	self        endpoint.Endpoint
	coordinator endpoint.Endpoint
	group       Group
	jobTag      wire.Tag
	serviceTag  wire.Tag
	config      *config.Tree

	release     func() error
	releaseOnce sync.Once
	releaseErr  error
}

// NewContext builds a Context from p.
func NewContext(p ContextParams) *Context {
	cfg := p.Config
	if cfg == nil {
		cfg = config.New()
	}
	return &Context{
		rank:        p.Rank,
		self:        p.Self,
		coordinator: p.Coordinator,
		group:       p.Group,
		jobTag:      p.JobTag,
		serviceTag:  p.ServiceTag,
		config:      cfg,
		release:     p.Release,
	}
}

// Rank returns this worker's 1-based rank.
func (c *Context) Rank() int { return c.rank }

// Self returns this worker's endpoint.
func (c *Context) Self() endpoint.Endpoint { return c.self }

// Coordinator returns the coordinator's control endpoint.
func (c *Context) Coordinator() endpoint.Endpoint { return c.coordinator }

// Group returns the process group.
func (c *Context) Group() Group { return c.group }

// JobTag returns the tag of the coordinator→worker job channel.
func (c *Context) JobTag() wire.Tag { return c.jobTag }

// ServiceTag returns the tag of the worker service channel.
func (c *Context) ServiceTag() wire.Tag { return c.serviceTag }

// Config returns the merged configuration tree.
func (c *Context) Config() *config.Tree { return c.config }

// Close releases the coordinator reference. Only the first call has an
// effect; later calls return the first result.
func (c *Context) Close() error {
	c.releaseOnce.Do(func() {
		if c.release != nil {
			c.releaseErr = c.release()
		}
	})
	return c.releaseErr
}
