// Package middleware provides composable middleware for job execution.
// Middleware wraps handler calls synchronously and can modify execution
// (recover from panics, bound the run time, log, add tracing, etc.).
package middleware

import (
	"context"

	"github.com/xraph/cohort/cluster"
	"github.com/xraph/cohort/wire"
)

// Handler is the terminal function that executes job logic.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic. It receives the
// cluster context of the worker running the job, the job itself and the
// next handler to call. cc is nil when a job runs outside a registered
// worker. Middleware MUST call next to continue the chain unless
// short-circuiting.
type Middleware func(ctx context.Context, cc *cluster.Context, j *wire.Job, next Handler) error

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover, timeout) executes as:
//
//	logging → recover → timeout → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, cc *cluster.Context, j *wire.Job, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, cc, j, prev)
			}
		}
		return h(ctx)
	}
}
