package cluster

import "sync/atomic"

// Registration is the shared, atomically guarded registration state.
// The zero value is unregistered and ready to use.
type Registration struct {
	registered atomic.Bool
	ctx        atomic.Pointer[Context]
}

// Publish stores cc and marks the worker registered. It reports false, and
// stores nothing, if a context was already published.
func (r *Registration) Publish(cc *Context) bool {
	if cc == nil || !r.ctx.CompareAndSwap(nil, cc) {
		return false
	}
	return r.registered.CompareAndSwap(false, true)
}

// Clear marks the worker unregistered. Only the caller that performs the
// true→false transition gets true. The published context stays readable so
// its coordinator reference can still be released.
func (r *Registration) Clear() bool {
	return r.registered.CompareAndSwap(true, false)
}

// Registered reports whether the worker is currently registered.
func (r *Registration) Registered() bool {
	return r.registered.Load()
}

// Context returns the published context, or nil before registration.
func (r *Registration) Context() *Context {
	return r.ctx.Load()
}
