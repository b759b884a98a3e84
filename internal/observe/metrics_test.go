package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/njia-health/njia/internal/pipeline"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"njia.normalize.duration", m.NormalizeDuration},
		{"njia.transcribe.duration", m.TranscribeDuration},
		{"njia.extract.duration", m.ExtractDuration},
		{"njia.map.duration", m.MapDuration},
		{"njia.pipeline.duration", m.PipelineDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestProviderRequestsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "whisper", "stt", "ok")
	m.RecordProviderRequest(ctx, "whisper", "stt", "ok")
	m.RecordProviderRequest(ctx, "whisper", "stt", "error")

	rm := collect(t, reader)
	met := findMetric(rm, "njia.provider.requests")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}

	// Find the data point with status=ok.
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == "status" && kv.Value.AsString() == "ok" {
				if dp.Value != 2 {
					t.Errorf("counter value = %d, want 2", dp.Value)
				}
				return
			}
		}
	}
	t.Error("data point with status=ok not found")
}

func TestCasesProcessedCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCaseProcessed(ctx, "ok")
	m.RecordCaseProcessed(ctx, "ok")
	m.RecordCaseProcessed(ctx, "error")

	rm := collect(t, reader)
	met := findMetric(rm, "njia.cases.processed")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}

	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == "status" && kv.Value.AsString() == "ok" {
				if dp.Value != 2 {
					t.Errorf("counter value = %d, want 2", dp.Value)
				}
				return
			}
		}
	}
	t.Error("data point with status=ok not found")
}

func TestProviderErrorsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderError(ctx, "openai", "llm")

	rm := collect(t, reader)
	met := findMetric(rm, "njia.provider.errors")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if len(sum.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if sum.DataPoints[0].Value != 1 {
		t.Errorf("counter value = %d, want 1", sum.DataPoints[0].Value)
	}
}

func TestActiveRunsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveRuns.Add(ctx, 1)
	m.ActiveRuns.Add(ctx, 1)
	m.ActiveRuns.Add(ctx, -1)

	rm := collect(t, reader)
	met := findMetric(rm, "njia.active_runs")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if len(sum.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("gauge value = %d, want 1", got)
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("path", "/healthz"),
		),
	)

	rm := collect(t, reader)
	met := findMetric(rm, "njia.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestStageObserver_RecordsDurations(t *testing.T) {
	m, reader := newTestMetrics(t)
	obs := NewStageObserver(m)
	ctx := context.Background()

	obs.StageCompleted(ctx, pipeline.StageNormalize, 100*time.Millisecond, nil)
	obs.StageCompleted(ctx, pipeline.StageTranscribe, 2*time.Second, nil)
	obs.StageCompleted(ctx, pipeline.StageExtract, 3*time.Second, errors.New("backend down"))

	rm := collect(t, reader)

	for _, name := range []string{"njia.normalize.duration", "njia.transcribe.duration", "njia.extract.duration"} {
		met := findMetric(rm, name)
		if met == nil {
			t.Fatalf("metric %q not found", name)
		}
		hist, ok := met.Data.(metricdata.Histogram[float64])
		if !ok || len(hist.DataPoints) == 0 {
			t.Fatalf("metric %q has no histogram data", name)
		}
		if hist.DataPoints[0].Count != 1 {
			t.Errorf("%s sample count = %d, want 1", name, hist.DataPoints[0].Count)
		}
	}

	// The failed extract stage must also count as a stage error.
	met := findMetric(rm, "njia.stage.errors")
	if met == nil {
		t.Fatal("stage errors metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 {
		t.Fatal("stage errors has no data")
	}
	dp := sum.DataPoints[0]
	if dp.Value != 1 {
		t.Errorf("stage errors = %d, want 1", dp.Value)
	}
	foundStage := false
	for _, kv := range dp.Attributes.ToSlice() {
		if string(kv.Key) == "stage" && kv.Value.AsString() == "extract" {
			foundStage = true
		}
	}
	if !foundStage {
		t.Error("stage error missing stage=extract attribute")
	}
}

func TestStageObserver_RecordsRunLifecycle(t *testing.T) {
	m, reader := newTestMetrics(t)
	obs := NewStageObserver(m)
	ctx := context.Background()

	obs.RunStarted(ctx, "NJ-2026-AAA")
	obs.RunStarted(ctx, "NJ-2026-BBB")
	obs.RunCompleted(ctx, "NJ-2026-AAA", 4*time.Second, false, nil)
	obs.RunCompleted(ctx, "NJ-2026-BBB", time.Second, true, errors.New("stage failed"))

	rm := collect(t, reader)

	met := findMetric(rm, "njia.active_runs")
	if met == nil {
		t.Fatal("active runs metric not found")
	}
	if sum := met.Data.(metricdata.Sum[int64]); sum.DataPoints[0].Value != 0 {
		t.Errorf("active runs = %d, want 0 after both runs finished", sum.DataPoints[0].Value)
	}

	met = findMetric(rm, "njia.pipeline.duration")
	if met == nil {
		t.Fatal("pipeline duration metric not found")
	}
	if hist := met.Data.(metricdata.Histogram[float64]); hist.DataPoints[0].Count != 2 {
		t.Errorf("pipeline duration count = %d, want 2", hist.DataPoints[0].Count)
	}

	met = findMetric(rm, "njia.cases.processed")
	if met == nil {
		t.Fatal("cases processed metric not found")
	}
	statuses := map[string]int64{}
	for _, dp := range met.Data.(metricdata.Sum[int64]).DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == "status" {
				statuses[kv.Value.AsString()] = dp.Value
			}
		}
	}
	if statuses["completed"] != 1 || statuses["failed"] != 1 {
		t.Errorf("cases processed by status = %v, want completed=1 failed=1", statuses)
	}

	met = findMetric(rm, "njia.extractions.defaulted")
	if met == nil {
		t.Fatal("extractions defaulted metric not found")
	}
	if sum := met.Data.(metricdata.Sum[int64]); sum.DataPoints[0].Value != 1 {
		t.Errorf("extractions defaulted = %d, want 1", sum.DataPoints[0].Value)
	}
}

func TestProviderObserver_FeedsCounters(t *testing.T) {
	m, reader := newTestMetrics(t)

	hook := m.ProviderObserver("stt")
	hook("whisper", nil)
	hook("whisper", errors.New("backend down"))

	rm := collect(t, reader)

	met := findMetric(rm, "njia.provider.requests")
	if met == nil {
		t.Fatal("provider requests metric not found")
	}
	var total int64
	for _, dp := range met.Data.(metricdata.Sum[int64]).DataPoints {
		total += dp.Value
	}
	if total != 2 {
		t.Errorf("provider requests = %d, want 2", total)
	}

	met = findMetric(rm, "njia.provider.errors")
	if met == nil {
		t.Fatal("provider errors metric not found")
	}
	if sum := met.Data.(metricdata.Sum[int64]); sum.DataPoints[0].Value != 1 {
		t.Errorf("provider errors = %d, want 1", sum.DataPoints[0].Value)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
