// Package pipeline chains the four processing stages — audio normalization,
// transcription, clinical fact extraction, and report mapping — into a single
// run per case.
//
// The pipeline is strictly sequential per case: each stage consumes the
// previous stage's output, and the first stage failure aborts the run with a
// [StageError] identifying the case and stage. Batch runs process independent
// cases concurrently; one case failing never aborts its siblings.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/njia-health/njia/internal/extract"
	"github.com/njia-health/njia/internal/facts"
	"github.com/njia-health/njia/internal/report"
	"github.com/njia-health/njia/internal/transcribe"
	"github.com/njia-health/njia/pkg/audio"
)

// Stage identifies a pipeline stage in errors, logs, and metrics.
type Stage string

const (
	StageNormalize  Stage = "normalize"
	StageTranscribe Stage = "transcribe"
	StageExtract    Stage = "extract"
	StageMap        Stage = "map"
)

// StageError wraps a stage failure with the case and stage it occurred in.
type StageError struct {
	CaseID string
	Stage  Stage
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("case %s: stage %s: %v", e.CaseID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Observer receives run and stage lifecycle callbacks. Implementations must
// be safe for concurrent use.
type Observer interface {
	// RunStarted fires when a case enters the pipeline.
	RunStarted(ctx context.Context, caseID string)

	// RunCompleted fires when the case leaves the pipeline, successfully or
	// not. factsDefaulted reports whether extraction degraded to an
	// all-absent fact set.
	RunCompleted(ctx context.Context, caseID string, elapsed time.Duration, factsDefaulted bool, err error)

	// StageCompleted fires after each stage with its elapsed time.
	StageCompleted(ctx context.Context, stage Stage, elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) RunStarted(context.Context, string)                               {}
func (nopObserver) RunCompleted(context.Context, string, time.Duration, bool, error) {}
func (nopObserver) StageCompleted(context.Context, Stage, time.Duration, error)      {}

// Result carries everything a single run produced, intermediate artifacts
// included so callers can persist or display them alongside the report.
type Result struct {
	CaseID         string             `json:"case_id"`
	Transcript     *transcribe.Result `json:"transcript"`
	Facts          facts.Set          `json:"clinical_facts"`
	FactsDefaulted bool               `json:"facts_defaulted"`
	Report         report.Report      `json:"p3_pre_fill"`
}

// Orchestrator wires the four stages together.
type Orchestrator struct {
	normalizer  *audio.Normalizer
	transcriber *transcribe.Transcriber
	extractor   *extract.Extractor
	mapper      *report.Mapper
	obs         Observer
	log         *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithObserver installs a stage timing observer.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.obs = obs
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *Orchestrator) {
		if log != nil {
			o.log = log
		}
	}
}

// New creates an Orchestrator from its four stage components.
func New(n *audio.Normalizer, t *transcribe.Transcriber, e *extract.Extractor, m *report.Mapper, opts ...Option) (*Orchestrator, error) {
	if n == nil || t == nil || e == nil || m == nil {
		return nil, fmt.Errorf("pipeline: all four stage components are required")
	}
	o := &Orchestrator{
		normalizer:  n,
		transcriber: t,
		extractor:   e,
		mapper:      m,
		obs:         nopObserver{},
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run processes one case end to end: raw WAV bytes in, pre-filled report
// out. The returned error is always a [*StageError] identifying which stage
// failed; no partial Result is returned on failure.
func (o *Orchestrator) Run(ctx context.Context, caseID string, wav []byte) (*Result, error) {
	start := time.Now()
	o.obs.RunStarted(ctx, caseID)

	res, err := o.run(ctx, caseID, wav, start)

	defaulted := res != nil && res.FactsDefaulted
	o.obs.RunCompleted(ctx, caseID, time.Since(start), defaulted, err)
	return res, err
}

func (o *Orchestrator) run(ctx context.Context, caseID string, wav []byte, runStart time.Time) (*Result, error) {
	log := o.log.With("case_id", caseID)

	buf, err := timed(ctx, o.obs, StageNormalize, func() (*audio.Buffer, error) {
		return o.normalizer.Normalize(wav)
	})
	if err != nil {
		return nil, &StageError{CaseID: caseID, Stage: StageNormalize, Err: err}
	}
	log.Debug("audio normalized", "duration_s", buf.Seconds())

	tr, err := timed(ctx, o.obs, StageTranscribe, func() (*transcribe.Result, error) {
		return o.transcriber.Transcribe(ctx, caseID, buf)
	})
	if err != nil {
		return nil, &StageError{CaseID: caseID, Stage: StageTranscribe, Err: err}
	}
	log.Debug("transcription complete", "chars", len(tr.Transcript))

	out, err := timed(ctx, o.obs, StageExtract, func() (extract.Outcome, error) {
		return o.extractor.Extract(ctx, tr.Transcript)
	})
	if err != nil {
		return nil, &StageError{CaseID: caseID, Stage: StageExtract, Err: err}
	}
	if out.Defaulted {
		log.Warn("extraction output was not parseable, facts defaulted to absent")
	}

	mapStart := time.Now()
	rep := o.mapper.Map(caseID, out.Facts)
	o.obs.StageCompleted(ctx, StageMap, time.Since(mapStart), nil)

	log.Info("pipeline run complete",
		"elapsed", time.Since(runStart),
		"facts_defaulted", out.Defaulted,
	)
	return &Result{
		CaseID:         caseID,
		Transcript:     tr,
		Facts:          out.Facts,
		FactsDefaulted: out.Defaulted,
		Report:         rep,
	}, nil
}

// timed runs fn and reports its elapsed time to the observer.
func timed[T any](ctx context.Context, obs Observer, stage Stage, fn func() (T, error)) (T, error) {
	start := time.Now()
	v, err := fn()
	obs.StageCompleted(ctx, stage, time.Since(start), err)
	return v, err
}

// Job is a single batch work item.
type Job struct {
	CaseID string
	WAV    []byte
}

// JobResult pairs a batch job with its outcome. Exactly one of Result and
// Err is set.
type JobResult struct {
	CaseID string
	Result *Result
	Err    error
}

// RunBatch processes independent cases with bounded concurrency. Results
// come back in job order. A failing case records its error in the matching
// JobResult; only context cancellation aborts the whole batch.
func (o *Orchestrator) RunBatch(ctx context.Context, jobs []Job, concurrency int) ([]JobResult, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	results := make([]JobResult, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, job := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := o.Run(gctx, job.CaseID, job.WAV)
			results[i] = JobResult{CaseID: job.CaseID, Result: res, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("batch aborted: %w", err)
	}
	return results, nil
}
