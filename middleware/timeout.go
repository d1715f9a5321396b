package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/cohort/cluster"
	"github.com/xraph/cohort/config"
	"github.com/xraph/cohort/wire"
)

// ParamTimeout is the job parameter holding a Go duration string that
// bounds the job's run time.
const ParamTimeout = "timeout"

// Timeout returns middleware that enforces a per-job deadline. The job's
// "timeout" param wins; otherwise the merged configuration's job.timeout
// applies. Unparsable or non-positive values are logged and ignored.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, cc *cluster.Context, j *wire.Job, next Handler) error {
		raw, source := jobTimeout(cc, j)
		if raw == "" {
			return next(ctx)
		}
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			logger.Warn("ignoring job timeout",
				slog.String("job_name", j.Name),
				slog.String("timeout", raw),
				slog.String("source", source),
			)
			return next(ctx)
		}
		logger.Debug("job timeout set",
			slog.String("job_name", j.Name),
			slog.Duration("timeout", d),
			slog.String("source", source),
		)
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next(ctx)
	}
}

func jobTimeout(cc *cluster.Context, j *wire.Job) (raw, source string) {
	if v, ok := j.Params[ParamTimeout]; ok {
		return v, "param"
	}
	if cc != nil {
		if v, ok := cc.Config().Get(config.KeyJobTimeout); ok {
			return v, "config"
		}
	}
	return "", ""
}
