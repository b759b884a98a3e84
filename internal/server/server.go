// Package server exposes the case intake and processing pipeline over HTTP.
//
// Routes follow the /api prefix. Single-stage endpoints (upload, preprocess,
// transcribe, extract, generate) advance one case through one pipeline stage
// and persist the intermediate artifact; /api/cases/{id}/run executes the
// whole pipeline in one request. All responses are JSON.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/njia-health/njia/internal/audit"
	"github.com/njia-health/njia/internal/extract"
	"github.com/njia-health/njia/internal/facts"
	"github.com/njia-health/njia/internal/health"
	"github.com/njia-health/njia/internal/observe"
	"github.com/njia-health/njia/internal/pipeline"
	"github.com/njia-health/njia/internal/report"
	"github.com/njia-health/njia/internal/store"
	"github.com/njia-health/njia/internal/transcribe"
	"github.com/njia-health/njia/pkg/audio"
)

// Version is reported by the root endpoint.
const Version = "1.0.0"

// maxUploadBytes caps multipart request bodies. Testimony recordings are
// long-form audio, so the limit is generous.
const maxUploadBytes = 256 << 20

// Deps are the collaborators a [Server] needs. All fields are required
// except Metrics and Health, which default to no-ops.
type Deps struct {
	Cases        store.Store
	Artifacts    *store.Artifacts
	Normalizer   *audio.Normalizer
	Transcriber  *transcribe.Transcriber
	Extractor    *extract.Extractor
	Mapper       *report.Mapper
	Orchestrator *pipeline.Orchestrator

	Metrics *observe.Metrics
	Health  *health.Handler
	Audit   audit.Trail
	Logger  *slog.Logger
	Clock   func() time.Time

	// BatchConcurrency bounds parallel cases in a batch run. Zero means the
	// default of 2.
	BatchConcurrency int
}

// Server routes HTTP requests to the case store and pipeline stages.
type Server struct {
	deps    Deps
	log     *slog.Logger
	now     func() time.Time
	trail   audit.Trail
	handler http.Handler
}

// New validates deps, builds the route table and returns a ready Server.
func New(deps Deps) (*Server, error) {
	var errs []error
	if deps.Cases == nil {
		errs = append(errs, errors.New("server: case store is required"))
	}
	if deps.Artifacts == nil {
		errs = append(errs, errors.New("server: artifact storage is required"))
	}
	if deps.Normalizer == nil {
		errs = append(errs, errors.New("server: normalizer is required"))
	}
	if deps.Transcriber == nil {
		errs = append(errs, errors.New("server: transcriber is required"))
	}
	if deps.Extractor == nil {
		errs = append(errs, errors.New("server: extractor is required"))
	}
	if deps.Mapper == nil {
		errs = append(errs, errors.New("server: report mapper is required"))
	}
	if deps.Orchestrator == nil {
		errs = append(errs, errors.New("server: orchestrator is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	s := &Server{
		deps:  deps,
		log:   deps.Logger,
		now:   deps.Clock,
		trail: deps.Audit,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.trail == nil {
		s.trail = audit.Discard
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("POST /api/cases/create", s.handleCreateCase)
	mux.HandleFunc("GET /api/cases", s.handleListCases)
	mux.HandleFunc("GET /api/cases/{id}", s.handleGetCase)
	mux.HandleFunc("DELETE /api/cases/{id}", s.handleRemoveCase)
	mux.HandleFunc("POST /api/audio/upload", s.handleUploadAudio)
	mux.HandleFunc("POST /api/audio/preprocess", s.handlePreprocess)
	mux.HandleFunc("POST /api/transcribe", s.handleTranscribe)
	mux.HandleFunc("POST /api/audio/process-full", s.handleProcessFull)
	mux.HandleFunc("POST /api/extract-clinical-facts", s.handleExtractFacts)
	mux.HandleFunc("POST /api/generate-p3", s.handleGenerateP3)
	mux.HandleFunc("POST /api/cases/{id}/run", s.handleRunPipeline)
	mux.HandleFunc("POST /api/cases/run-batch", s.handleRunBatch)
	mux.HandleFunc("POST /api/evidence/upload", s.handleUploadEvidence)
	mux.Handle("GET /metrics", promhttp.Handler())

	if deps.Health != nil {
		deps.Health.Register(mux)
	}

	var handler http.Handler = mux
	if deps.Metrics != nil {
		handler = observe.Middleware(deps.Metrics)(handler)
	}
	s.handler = handler
	return s, nil
}

// Handler returns the complete route table, middleware included.
func (s *Server) Handler() http.Handler { return s.handler }

// ─── Case lifecycle ──────────────────────────────────────────────────────────

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "NJIA API",
		"version": Version,
	})
}

type createCaseRequest struct {
	CaseID string `json:"case_id"`
}

func (s *Server) handleCreateCase(w http.ResponseWriter, r *http.Request) {
	var req createCaseRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("decode request body: %w", err))
			return
		}
	}

	rec, err := s.deps.Cases.Add(r.Context(), store.Record{ID: req.CaseID})
	if err != nil {
		writeStoreError(w, err)
		return
	}

	s.record(rec.ID, audit.ActionCaseCreated, "")
	s.log.Info("case created", "case_id", rec.ID)
	writeJSON(w, http.StatusCreated, map[string]string{
		"case_id": rec.ID,
		"status":  string(rec.Status),
	})
}

func (s *Server) handleListCases(w http.ResponseWriter, r *http.Request) {
	var opts store.ListOptions
	if v := r.URL.Query().Get("status"); v != "" {
		st := store.Status(v)
		if !st.IsValid() {
			writeError(w, http.StatusBadRequest, fmt.Errorf("unknown status %q", v))
			return
		}
		opts.Status = st
	}

	recs, err := s.deps.Cases.List(r.Context(), opts)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cases": recs,
		"count": len(recs),
	})
}

func (s *Server) handleGetCase(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Cases.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRemoveCase(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Cases.Remove(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	s.record(id, audit.ActionCaseRemoved, "")
	s.log.Info("case removed", "case_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// ─── Audio intake ────────────────────────────────────────────────────────────

func (s *Server) handleUploadAudio(w http.ResponseWriter, r *http.Request) {
	data, filename, err := readUpload(r, "file")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rec, created, err := s.caseForUpload(r)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	path, err := s.deps.Artifacts.SaveUpload(rec.ID, filename, data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	rec.AudioPath = path
	rec.Status = store.StatusAudioUploaded
	if err := s.deps.Cases.Update(r.Context(), rec); err != nil {
		writeStoreError(w, err)
		return
	}

	s.record(rec.ID, audit.ActionAudioUploaded, path)
	s.log.Info("audio uploaded",
		"case_id", rec.ID,
		"path", path,
		"bytes", len(data),
		"new_case", created,
	)
	writeJSON(w, http.StatusOK, map[string]string{
		"case_id":    rec.ID,
		"audio_path": path,
		"status":     "uploaded",
	})
}

func (s *Server) handlePreprocess(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.requireCase(w, r)
	if !ok {
		return
	}
	if rec.AudioPath == "" {
		writeError(w, http.StatusConflict, fmt.Errorf("case %s has no uploaded audio", rec.ID))
		return
	}

	raw, err := s.deps.Artifacts.ReadFile(rec.AudioPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	buf, err := s.deps.Normalizer.Normalize(raw)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, fmt.Errorf("normalize audio: %w", err))
		return
	}

	cleanedPath, err := s.deps.Artifacts.SaveCleaned(rec.ID, audio.EncodeWAV(buf))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	rec.CleanedAudioPath = cleanedPath
	rec.Status = store.StatusPreprocessed
	if err := s.deps.Cases.Update(r.Context(), rec); err != nil {
		writeStoreError(w, err)
		return
	}

	s.record(rec.ID, audit.ActionAudioCleaned, cleanedPath)
	s.log.Info("audio preprocessed", "case_id", rec.ID, "duration_s", buf.Seconds())
	writeJSON(w, http.StatusOK, map[string]string{
		"case_id":            rec.ID,
		"cleaned_audio_path": cleanedPath,
		"status":             "preprocessed",
	})
}

// ─── Pipeline stages ─────────────────────────────────────────────────────────

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.requireCase(w, r)
	if !ok {
		return
	}
	if rec.CleanedAudioPath == "" {
		writeError(w, http.StatusConflict, fmt.Errorf("case %s has not been preprocessed", rec.ID))
		return
	}

	raw, err := s.deps.Artifacts.ReadFile(rec.CleanedAudioPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	buf, err := audio.DecodeWAV(raw)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("decode cleaned audio: %w", err))
		return
	}

	result, err := s.deps.Transcriber.Transcribe(r.Context(), rec.ID, buf)
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Errorf("transcribe: %w", err))
		return
	}

	rec.Transcript = result
	rec.Status = store.StatusTranscribed
	if err := s.deps.Cases.Update(r.Context(), rec); err != nil {
		writeStoreError(w, err)
		return
	}

	s.record(rec.ID, audit.ActionTranscribed, fmt.Sprintf("%.1fs of audio", result.DurationSeconds))
	s.log.Info("case transcribed", "case_id", rec.ID, "chars", len(result.Transcript))
	writeJSON(w, http.StatusOK, map[string]any{
		"case_id":          rec.ID,
		"transcript":       result.Transcript,
		"duration_seconds": result.DurationSeconds,
	})
}

// handleProcessFull is the intake shortcut: one multipart request carries the
// raw recording through upload, preprocess and transcribe.
func (s *Server) handleProcessFull(w http.ResponseWriter, r *http.Request) {
	data, filename, err := readUpload(r, "file")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rec, _, err := s.caseForUpload(r)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	path, err := s.deps.Artifacts.SaveUpload(rec.ID, filename, data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	rec.AudioPath = path

	buf, err := s.deps.Normalizer.Normalize(data)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, fmt.Errorf("normalize audio: %w", err))
		return
	}
	cleanedPath, err := s.deps.Artifacts.SaveCleaned(rec.ID, audio.EncodeWAV(buf))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	rec.CleanedAudioPath = cleanedPath

	result, err := s.deps.Transcriber.Transcribe(r.Context(), rec.ID, buf)
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Errorf("transcribe: %w", err))
		return
	}

	rec.Transcript = result
	rec.Status = store.StatusTranscribed
	if err := s.deps.Cases.Update(r.Context(), rec); err != nil {
		writeStoreError(w, err)
		return
	}

	s.record(rec.ID, audit.ActionAudioUploaded, path)
	s.record(rec.ID, audit.ActionTranscribed, fmt.Sprintf("%.1fs of audio", result.DurationSeconds))
	s.log.Info("full audio intake complete", "case_id", rec.ID, "duration_s", result.DurationSeconds)
	writeJSON(w, http.StatusOK, map[string]any{
		"case_id":          rec.ID,
		"transcript":       result.Transcript,
		"duration_seconds": result.DurationSeconds,
	})
}

type extractRequest struct {
	CaseID     string `json:"case_id"`
	Transcript string `json:"transcript"`
}

func (s *Server) handleExtractFacts(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request body: %w", err))
		return
	}
	if req.CaseID == "" {
		writeError(w, http.StatusBadRequest, errors.New("case_id is required"))
		return
	}

	rec, err := s.deps.Cases.Get(r.Context(), req.CaseID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	transcript := req.Transcript
	if transcript == "" {
		if rec.Transcript == nil {
			writeError(w, http.StatusConflict, fmt.Errorf("case %s has no transcript", rec.ID))
			return
		}
		transcript = rec.Transcript.Transcript
	}

	outcome, err := s.deps.Extractor.Extract(r.Context(), transcript)
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Errorf("extract clinical facts: %w", err))
		return
	}
	if outcome.Defaulted {
		s.log.Warn("extraction output unusable, defaulted to absent facts", "case_id", rec.ID)
	}

	rec.Facts = &outcome.Facts
	rec.FactsDefaulted = outcome.Defaulted
	rec.Status = store.StatusExtracted
	if err := s.deps.Cases.Update(r.Context(), rec); err != nil {
		writeStoreError(w, err)
		return
	}

	detail := ""
	if outcome.Defaulted {
		detail = "defaulted to absent facts"
	}
	s.record(rec.ID, audit.ActionFactsExtracted, detail)

	writeJSON(w, http.StatusOK, map[string]any{
		"case_id":        rec.ID,
		"clinical_facts": outcome.Facts,
	})
}

type generateP3Request struct {
	CaseID string     `json:"case_id"`
	Facts  *facts.Set `json:"clinical_facts"`
}

func (s *Server) handleGenerateP3(w http.ResponseWriter, r *http.Request) {
	var req generateP3Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request body: %w", err))
		return
	}
	if req.CaseID == "" {
		writeError(w, http.StatusBadRequest, errors.New("case_id is required"))
		return
	}

	rec, err := s.deps.Cases.Get(r.Context(), req.CaseID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	factSet := req.Facts
	if factSet == nil {
		if rec.Facts == nil {
			writeError(w, http.StatusConflict, fmt.Errorf("case %s has no clinical facts", rec.ID))
			return
		}
		factSet = rec.Facts
	}

	rep := s.deps.Mapper.Map(rec.ID, *factSet)

	rec.Report = &rep
	rec.Status = store.StatusCompleted
	if err := s.deps.Cases.Update(r.Context(), rec); err != nil {
		writeStoreError(w, err)
		return
	}

	s.record(rec.ID, audit.ActionReportGenerated, "")
	s.log.Info("report generated", "case_id", rec.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"case_id":     rec.ID,
		"p3_pre_fill": rep,
	})
}

// handleRunPipeline executes all four stages on a case's uploaded audio.
func (s *Server) handleRunPipeline(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Cases.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if rec.AudioPath == "" {
		writeError(w, http.StatusConflict, fmt.Errorf("case %s has no uploaded audio", rec.ID))
		return
	}

	raw, err := s.deps.Artifacts.ReadFile(rec.AudioPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	result, err := s.deps.Orchestrator.Run(r.Context(), rec.ID, raw)
	if err != nil {
		var stageErr *pipeline.StageError
		if errors.As(err, &stageErr) {
			rec.Status = store.StatusFailed
			if uerr := s.deps.Cases.Update(r.Context(), rec); uerr != nil {
				s.log.Warn("failed to mark case failed", "case_id", rec.ID, "err", uerr)
			}
			s.record(rec.ID, audit.ActionPipelineFailed, string(stageErr.Stage))
			writeJSON(w, http.StatusBadGateway, map[string]string{
				"case_id": rec.ID,
				"stage":   string(stageErr.Stage),
				"error":   stageErr.Err.Error(),
			})
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	rec.Transcript = result.Transcript
	rec.Facts = &result.Facts
	rec.FactsDefaulted = result.FactsDefaulted
	rec.Report = &result.Report
	rec.Status = store.StatusCompleted
	if err := s.deps.Cases.Update(r.Context(), rec); err != nil {
		writeStoreError(w, err)
		return
	}

	s.record(rec.ID, audit.ActionPipelineRun, "")
	writeJSON(w, http.StatusOK, result)
}

type runBatchRequest struct {
	CaseIDs []string `json:"case_ids"`
}

type batchItemResponse struct {
	CaseID string           `json:"case_id"`
	Result *pipeline.Result `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// handleRunBatch executes the full pipeline over several cases at once.
// Every named case must already have uploaded audio. Per-case failures are
// reported in the response; they do not abort the batch.
func (s *Server) handleRunBatch(w http.ResponseWriter, r *http.Request) {
	var req runBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request body: %w", err))
		return
	}
	if len(req.CaseIDs) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("case_ids is required"))
		return
	}

	recs := make([]store.Record, len(req.CaseIDs))
	jobs := make([]pipeline.Job, len(req.CaseIDs))
	for i, id := range req.CaseIDs {
		rec, err := s.deps.Cases.Get(r.Context(), id)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		if rec.AudioPath == "" {
			writeError(w, http.StatusConflict, fmt.Errorf("case %s has no uploaded audio", id))
			return
		}
		raw, err := s.deps.Artifacts.ReadFile(rec.AudioPath)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		recs[i] = rec
		jobs[i] = pipeline.Job{CaseID: id, WAV: raw}
	}

	concurrency := s.deps.BatchConcurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	results, err := s.deps.Orchestrator.RunBatch(r.Context(), jobs, concurrency)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	items := make([]batchItemResponse, len(results))
	for i, jr := range results {
		rec := recs[i]
		item := batchItemResponse{CaseID: jr.CaseID}
		if jr.Err != nil {
			rec.Status = store.StatusFailed
			item.Error = jr.Err.Error()
			var stageErr *pipeline.StageError
			if errors.As(jr.Err, &stageErr) {
				s.record(rec.ID, audit.ActionPipelineFailed, string(stageErr.Stage))
			}
		} else {
			rec.Transcript = jr.Result.Transcript
			rec.Facts = &jr.Result.Facts
			rec.FactsDefaulted = jr.Result.FactsDefaulted
			rec.Report = &jr.Result.Report
			rec.Status = store.StatusCompleted
			item.Result = jr.Result
			s.record(rec.ID, audit.ActionPipelineRun, "")
		}
		if err := s.deps.Cases.Update(r.Context(), rec); err != nil {
			s.log.Warn("failed to persist batch result", "case_id", rec.ID, "err", err)
		}
		items[i] = item
	}

	s.log.Info("batch run complete", "cases", len(items), "concurrency", concurrency)
	writeJSON(w, http.StatusOK, map[string]any{
		"results": items,
		"count":   len(items),
	})
}

// ─── Evidence ────────────────────────────────────────────────────────────────

func (s *Server) handleUploadEvidence(w http.ResponseWriter, r *http.Request) {
	caseID := r.URL.Query().Get("case_id")
	if caseID == "" {
		writeError(w, http.StatusBadRequest, errors.New("case_id is required"))
		return
	}

	rec, err := s.deps.Cases.Get(r.Context(), caseID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse multipart form: %w", err))
		return
	}
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("at least one file is required"))
		return
	}

	var uploaded []string
	for _, fh := range files {
		data, err := readPart(fh)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		path, err := s.deps.Artifacts.SaveEvidence(rec.ID, fh.Filename, data)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		rec.Evidence = append(rec.Evidence, store.EvidenceItem{
			Filename:   fh.Filename,
			Path:       path,
			UploadedAt: s.now().UTC(),
		})
		uploaded = append(uploaded, fh.Filename)
		s.record(rec.ID, audit.ActionEvidenceAdded, path)
	}

	if err := s.deps.Cases.Update(r.Context(), rec); err != nil {
		writeStoreError(w, err)
		return
	}

	s.log.Info("evidence uploaded", "case_id", rec.ID, "files", len(uploaded))
	writeJSON(w, http.StatusOK, map[string]any{
		"case_id":        rec.ID,
		"uploaded_files": uploaded,
		"status":         "uploaded",
	})
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// record appends an event to the audit trail. Trail write failures are
// logged, never surfaced to the client.
func (s *Server) record(caseID, action, detail string) {
	if err := s.trail.Record(caseID, action, detail); err != nil {
		s.log.Warn("audit trail write failed", "case_id", caseID, "action", action, "err", err)
	}
}

// caseForUpload resolves the case to attach an upload to: the existing case
// named by the case_id query parameter, or a freshly created one when the
// parameter is absent. The second return reports whether a case was created.
func (s *Server) caseForUpload(r *http.Request) (store.Record, bool, error) {
	if id := r.URL.Query().Get("case_id"); id != "" {
		rec, err := s.deps.Cases.Get(r.Context(), id)
		return rec, false, err
	}
	rec, err := s.deps.Cases.Add(r.Context(), store.Record{})
	return rec, true, err
}

// requireCase fetches the case named by the case_id query parameter and
// writes the error response itself when the parameter is missing or the case
// does not exist.
func (s *Server) requireCase(w http.ResponseWriter, r *http.Request) (store.Record, bool) {
	id := r.URL.Query().Get("case_id")
	if id == "" {
		writeError(w, http.StatusBadRequest, errors.New("case_id is required"))
		return store.Record{}, false
	}
	rec, err := s.deps.Cases.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return store.Record{}, false
	}
	return rec, true
}

// readUpload extracts a single multipart file field from the request.
func readUpload(r *http.Request, field string) (data []byte, filename string, err error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, "", fmt.Errorf("parse multipart form: %w", err)
	}
	files := r.MultipartForm.File[field]
	if len(files) == 0 {
		return nil, "", fmt.Errorf("multipart field %q is required", field)
	}
	data, err = readPart(files[0])
	if err != nil {
		return nil, "", err
	}
	return data, files[0].Filename, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open uploaded file %q: %w", fh.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read uploaded file %q: %w", fh.Filename, err)
	}
	return data, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// writeStoreError maps store sentinel errors to HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, store.ErrDuplicateID):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

// writeJSON encodes v as JSON with the given status code. On encoding
// failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failure"}`, http.StatusInternalServerError)
	}
}
