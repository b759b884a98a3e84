package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/njia-health/njia/internal/pipeline"
)

// StageObserver bridges pipeline lifecycle callbacks into OTel instruments.
// It implements [pipeline.Observer].
type StageObserver struct {
	m *Metrics
}

var _ pipeline.Observer = (*StageObserver)(nil)

// NewStageObserver creates a StageObserver recording into m.
func NewStageObserver(m *Metrics) *StageObserver {
	return &StageObserver{m: m}
}

// RunStarted marks a case as in flight.
func (o *StageObserver) RunStarted(ctx context.Context, _ string) {
	o.m.ActiveRuns.Add(ctx, 1)
}

// RunCompleted records the end-to-end latency and run outcome, and marks the
// case as no longer in flight.
func (o *StageObserver) RunCompleted(ctx context.Context, _ string, elapsed time.Duration, factsDefaulted bool, err error) {
	o.m.ActiveRuns.Add(ctx, -1)
	o.m.PipelineDuration.Record(ctx, elapsed.Seconds())

	status := "completed"
	if err != nil {
		status = "failed"
	}
	o.m.RecordCaseProcessed(ctx, status)

	if factsDefaulted {
		o.m.ExtractionsDefaulted.Add(ctx, 1)
	}
}

// StageCompleted records the stage's latency and, on failure, increments the
// stage error counter.
func (o *StageObserver) StageCompleted(ctx context.Context, stage pipeline.Stage, elapsed time.Duration, err error) {
	var h metric.Float64Histogram
	switch stage {
	case pipeline.StageNormalize:
		h = o.m.NormalizeDuration
	case pipeline.StageTranscribe:
		h = o.m.TranscribeDuration
	case pipeline.StageExtract:
		h = o.m.ExtractDuration
	case pipeline.StageMap:
		h = o.m.MapDuration
	default:
		return
	}
	h.Record(ctx, elapsed.Seconds())
	if err != nil {
		o.m.StageErrors.Add(ctx, 1,
			metric.WithAttributes(attribute.String("stage", string(stage))),
		)
	}
}
