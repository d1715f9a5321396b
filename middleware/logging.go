package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/cohort/cluster"
	"github.com/xraph/cohort/wire"
)

// Logging returns middleware that logs job start and completion, tagged
// with the worker's rank, job tag and coordinator.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, cc *cluster.Context, j *wire.Job, next Handler) error {
		attrs := placementOf(cc).logAttrs(j)
		logger.Info("job started", append(attrs, slog.Int("payload_bytes", len(j.Payload)))...)

		start := time.Now()
		err := next(ctx)
		attrs = append(attrs, slog.Duration("elapsed", time.Since(start)))

		if err != nil {
			logger.Error("job failed", append(attrs, slog.String("error", err.Error()))...)
			return err
		}
		logger.Info("job completed", attrs...)
		return nil
	}
}
