package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/cohort/cluster"
	"github.com/xraph/cohort/ext"
	"github.com/xraph/cohort/handshake"
	"github.com/xraph/cohort/wire"
)

// meterName is the instrumentation scope name for cohort metrics.
const meterName = "github.com/xraph/cohort"

// Compile-time interface checks.
var (
	_ ext.Extension            = (*MetricsExtension)(nil)
	_ ext.Registered           = (*MetricsExtension)(nil)
	_ ext.RegistrationFailed   = (*MetricsExtension)(nil)
	_ ext.JobReceived          = (*MetricsExtension)(nil)
	_ ext.Deregistered         = (*MetricsExtension)(nil)
	_ ext.TerminationRequested = (*MetricsExtension)(nil)
	_ ext.MemberJoined         = (*MetricsExtension)(nil)
	_ ext.MemberLeft           = (*MetricsExtension)(nil)
	_ ext.MemberLost           = (*MetricsExtension)(nil)
)

// MetricsExtension records lifecycle counters through an OTel meter.
//
// Instruments:
//   - cohort.registration.succeeded (Int64Counter)
//   - cohort.registration.failed (Int64Counter), attribute: kind
//   - cohort.deregistration (Int64Counter), attribute: status ("clean" or "error")
//   - cohort.termination.requested (Int64Counter), attribute: reason
//   - cohort.job.received (Int64Counter), attribute: job_name
//   - cohort.member.events (Int64Counter), attribute: event ("joined", "left", "lost")
//   - cohort.member.active (Int64UpDownCounter)
type MetricsExtension struct {
	registrationSucceeded metric.Int64Counter
	registrationFailed    metric.Int64Counter
	deregistration        metric.Int64Counter
	termination           metric.Int64Counter
	jobReceived           metric.Int64Counter
	memberEvents          metric.Int64Counter
	memberActive          metric.Int64UpDownCounter
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider. If none is configured, noop instruments are used.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided
// meter. On instrument errors the OTel API returns noop instruments.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}
	m.registrationSucceeded, _ = meter.Int64Counter(
		"cohort.registration.succeeded",
		metric.WithDescription("Completed worker registrations"),
		metric.WithUnit("{registration}"),
	)
	m.registrationFailed, _ = meter.Int64Counter(
		"cohort.registration.failed",
		metric.WithDescription("Failed worker registrations"),
		metric.WithUnit("{registration}"),
	)
	m.deregistration, _ = meter.Int64Counter(
		"cohort.deregistration",
		metric.WithDescription("Worker deregistrations"),
		metric.WithUnit("{deregistration}"),
	)
	m.termination, _ = meter.Int64Counter(
		"cohort.termination.requested",
		metric.WithDescription("Termination requests handled by workers"),
		metric.WithUnit("{request}"),
	)
	m.jobReceived, _ = meter.Int64Counter(
		"cohort.job.received",
		metric.WithDescription("Jobs received on the job channel"),
		metric.WithUnit("{job}"),
	)
	m.memberEvents, _ = meter.Int64Counter(
		"cohort.member.events",
		metric.WithDescription("Coordinator membership changes"),
		metric.WithUnit("{event}"),
	)
	m.memberActive, _ = meter.Int64UpDownCounter(
		"cohort.member.active",
		metric.WithDescription("Workers currently registered with the coordinator"),
		metric.WithUnit("{worker}"),
	)
	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Worker hooks ────────────────────────────────────

// OnRegistered implements ext.Registered.
func (m *MetricsExtension) OnRegistered(ctx context.Context, _ *cluster.Context) error {
	m.registrationSucceeded.Add(ctx, 1)
	return nil
}

// OnRegistrationFailed implements ext.RegistrationFailed.
func (m *MetricsExtension) OnRegistrationFailed(ctx context.Context, err error) error {
	kind := "other"
	if k, ok := handshake.KindOf(err); ok {
		kind = k.String()
	}
	m.registrationFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	return nil
}

// OnJobReceived implements ext.JobReceived.
func (m *MetricsExtension) OnJobReceived(ctx context.Context, job *wire.Job) error {
	m.jobReceived.Add(ctx, 1, metric.WithAttributes(attribute.String("job_name", job.Name)))
	return nil
}

// OnDeregistered implements ext.Deregistered.
func (m *MetricsExtension) OnDeregistered(ctx context.Context, reason error) error {
	status := "clean"
	if reason != nil {
		status = "error"
	}
	m.deregistration.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	return nil
}

// OnTerminationRequested implements ext.TerminationRequested.
func (m *MetricsExtension) OnTerminationRequested(ctx context.Context, reason string) error {
	m.termination.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	return nil
}

// ── Coordinator hooks ───────────────────────────────

// OnMemberJoined implements ext.MemberJoined.
func (m *MetricsExtension) OnMemberJoined(ctx context.Context, _ *cluster.Member) error {
	m.memberEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("event", "joined")))
	m.memberActive.Add(ctx, 1)
	return nil
}

// OnMemberLeft implements ext.MemberLeft.
func (m *MetricsExtension) OnMemberLeft(ctx context.Context, _ *cluster.Member) error {
	m.memberEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("event", "left")))
	m.memberActive.Add(ctx, -1)
	return nil
}

// OnMemberLost implements ext.MemberLost.
func (m *MetricsExtension) OnMemberLost(ctx context.Context, _ *cluster.Member, _ error) error {
	m.memberEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("event", "lost")))
	m.memberActive.Add(ctx, -1)
	return nil
}
