package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/cohort/cluster"
	"github.com/xraph/cohort/wire"
)

// Recover returns middleware that converts a handler panic into an error.
// The panic is logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, cc *cluster.Context, j *wire.Job, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				attrs := append(placementOf(cc).logAttrs(j),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				logger.Error("job handler panicked", attrs...)
				retErr = fmt.Errorf("panic in job %s: %v", j.Name, r)
			}
		}()
		return next(ctx)
	}
}
