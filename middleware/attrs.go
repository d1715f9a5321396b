package middleware

import (
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xraph/cohort/cluster"
	"github.com/xraph/cohort/wire"
)

// placement identifies where a job runs.
type placement struct {
	rank        int
	jobTag      string
	coordinator string
}

func placementOf(cc *cluster.Context) placement {
	if cc == nil {
		return placement{}
	}
	return placement{
		rank:        cc.Rank(),
		jobTag:      string(cc.JobTag()),
		coordinator: cc.Coordinator().String(),
	}
}

func (p placement) logAttrs(j *wire.Job) []any {
	attrs := []any{slog.String("job_name", j.Name)}
	if p.rank == 0 {
		return attrs
	}
	return append(attrs,
		slog.Int("rank", p.rank),
		slog.String("job_tag", p.jobTag),
		slog.String("coordinator", p.coordinator),
	)
}

func (p placement) spanAttrs() []attribute.KeyValue {
	if p.rank == 0 {
		return nil
	}
	return []attribute.KeyValue{
		attribute.Int("cohort.worker.rank", p.rank),
		attribute.String("cohort.job.tag", p.jobTag),
		attribute.String("cohort.coordinator.endpoint", p.coordinator),
	}
}
