package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/cohort/cluster"
	"github.com/xraph/cohort/wire"
)

// meterName is the instrumentation scope name for job metrics.
const meterName = "github.com/xraph/cohort"

// Metrics returns middleware that records per-job execution metrics using
// the global MeterProvider.
//
// Instruments:
//   - cohort.job.duration (Float64Histogram): execution time in seconds
//   - cohort.job.executions (Int64Counter): total executions
//
// Both carry job_name and status ("ok" or "error"); a registered worker
// adds rank and coordinator.
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	duration, _ := meter.Float64Histogram( //nolint:errcheck // noop fallback guaranteed by OTel API contract
		"cohort.job.duration",
		metric.WithDescription("Duration of job execution in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter( //nolint:errcheck // noop fallback guaranteed by OTel API contract
		"cohort.job.executions",
		metric.WithDescription("Total number of job executions"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, cc *cluster.Context, j *wire.Job, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}
		kv := []attribute.KeyValue{
			attribute.String("job_name", j.Name),
			attribute.String("status", status),
		}
		if p := placementOf(cc); p.rank != 0 {
			kv = append(kv,
				attribute.Int("rank", p.rank),
				attribute.String("coordinator", p.coordinator),
			)
		}
		attrs := metric.WithAttributes(kv...)
		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)

		return err
	}
}
