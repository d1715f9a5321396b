package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/cohort/cluster"
	"github.com/xraph/cohort/wire"
)

// tracerName is the instrumentation scope name for job tracing.
const tracerName = "github.com/xraph/cohort"

// Tracing returns middleware that wraps job execution in an OpenTelemetry
// span using the global TracerProvider.
//
// Span attributes: cohort.job.name, cohort.job.params,
// cohort.job.payload_bytes and, for a registered worker,
// cohort.worker.rank, cohort.job.tag and cohort.coordinator.endpoint.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, cc *cluster.Context, j *wire.Job, next Handler) error {
		attrs := append([]attribute.KeyValue{
			attribute.String("cohort.job.name", j.Name),
			attribute.Int("cohort.job.params", len(j.Params)),
			attribute.Int("cohort.job.payload_bytes", len(j.Payload)),
		}, placementOf(cc).spanAttrs()...)

		ctx, span := tracer.Start(ctx, "cohort.job.execute",
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindConsumer),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		span.SetStatus(codes.Ok, "")
		return nil
	}
}
