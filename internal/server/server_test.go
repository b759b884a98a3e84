package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/njia-health/njia/internal/audit"
	"github.com/njia-health/njia/internal/extract"
	"github.com/njia-health/njia/internal/health"
	"github.com/njia-health/njia/internal/pipeline"
	"github.com/njia-health/njia/internal/report"
	"github.com/njia-health/njia/internal/server"
	"github.com/njia-health/njia/internal/store"
	"github.com/njia-health/njia/internal/transcribe"
	"github.com/njia-health/njia/pkg/audio"
	"github.com/njia-health/njia/pkg/provider/llm"
	llmmock "github.com/njia-health/njia/pkg/provider/llm/mock"
	"github.com/njia-health/njia/pkg/provider/stt"
	sttmock "github.com/njia-health/njia/pkg/provider/stt/mock"
)

const validFactsJSON = `{
	"injury_type": ["bruise"],
	"body_location": ["left wrist"],
	"injury_color_or_stage": "1-3 days",
	"mechanism_of_injury": "grabbed",
	"timing_of_assault": "two nights ago",
	"repeated_assault": "no",
	"drug_facilitated_indicators": null,
	"survivor_uncertainty_notes": null
}`

func testWAV(t *testing.T, seconds float64) []byte {
	t.Helper()
	const rate = 44100
	n := int(seconds * rate)
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.25 * math.Sin(2*math.Pi*220*float64(i)/rate))
	}
	return audio.EncodeWAV(&audio.Buffer{Samples: samples, SampleRate: rate, Channels: 1})
}

func newTestDeps(t *testing.T, sttP stt.Provider, llmP llm.Provider) server.Deps {
	t.Helper()

	artifacts, err := store.NewArtifacts(t.TempDir())
	if err != nil {
		t.Fatalf("NewArtifacts: %v", err)
	}

	normalizer := audio.NewNormalizer()
	transcriber := transcribe.NewWithProvider(sttP)
	extractor := extract.NewWithProvider(llmP)
	mapper := report.NewMapper(report.WithClock(func() time.Time {
		return time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)
	}))

	orch, err := pipeline.New(normalizer, transcriber, extractor, mapper)
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}

	return server.Deps{
		Cases:        store.NewMemStore(),
		Artifacts:    artifacts,
		Normalizer:   normalizer,
		Transcriber:  transcriber,
		Extractor:    extractor,
		Mapper:       mapper,
		Orchestrator: orch,
		Health:       health.New(),
	}
}

func startServer(t *testing.T, deps server.Deps) *httptest.Server {
	t.Helper()
	srv, err := server.New(deps)
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func newTestServer(t *testing.T, sttP stt.Provider, llmP llm.Provider) (*httptest.Server, store.Store) {
	t.Helper()
	deps := newTestDeps(t, sttP, llmP)
	return startServer(t, deps), deps.Cases
}

func defaultProviders() (*sttmock.Provider, *llmmock.Provider) {
	sttP := &sttmock.Provider{Result: &stt.Result{
		Text: "He grabbed my arm two nights ago. There is a bruise on my wrist.",
	}}
	llmP := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: validFactsJSON}}
	return sttP, llmP
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func postMultipart(t *testing.T, url, field string, files map[string][]byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, data := range files {
		part, err := mw.CreateFormFile(field, name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	resp, err := http.Post(url, mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func createCase(t *testing.T, baseURL string) string {
	t.Helper()
	resp := postJSON(t, baseURL+"/api/cases/create", map[string]string{})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create case status = %d", resp.StatusCode)
	}
	var body struct {
		CaseID string `json:"case_id"`
	}
	decodeBody(t, resp, &body)
	return body.CaseID
}

func TestRoot(t *testing.T) {
	sttP, llmP := defaultProviders()
	ts, _ := newTestServer(t, sttP, llmP)

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["message"] != "NJIA API" {
		t.Errorf("message = %q", body["message"])
	}
}

func TestCreateCase_GeneratesID(t *testing.T) {
	sttP, llmP := defaultProviders()
	ts, _ := newTestServer(t, sttP, llmP)

	id := createCase(t, ts.URL)
	if !regexp.MustCompile(`^NJ-\d{4}-[0-9A-F]{3}$`).MatchString(id) {
		t.Errorf("generated case id %q has unexpected shape", id)
	}
}

func TestCreateCase_ExplicitIDAndDuplicate(t *testing.T) {
	sttP, llmP := defaultProviders()
	ts, _ := newTestServer(t, sttP, llmP)

	resp := postJSON(t, ts.URL+"/api/cases/create", map[string]string{"case_id": "NJ-2026-XYZ"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		CaseID string `json:"case_id"`
		Status string `json:"status"`
	}
	decodeBody(t, resp, &body)
	if body.CaseID != "NJ-2026-XYZ" || body.Status != "created" {
		t.Errorf("body = %+v", body)
	}

	resp = postJSON(t, ts.URL+"/api/cases/create", map[string]string{"case_id": "NJ-2026-XYZ"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", resp.StatusCode)
	}
}

func TestGetCase_NotFound(t *testing.T) {
	sttP, llmP := defaultProviders()
	ts, _ := newTestServer(t, sttP, llmP)

	resp, err := http.Get(ts.URL + "/api/cases/NJ-2026-NOPE")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStageByStageFlow(t *testing.T) {
	sttP, llmP := defaultProviders()
	ts, _ := newTestServer(t, sttP, llmP)
	id := createCase(t, ts.URL)
	wav := testWAV(t, 1)

	// Upload.
	resp := postMultipart(t, ts.URL+"/api/audio/upload?case_id="+id, "file", map[string][]byte{"testimony.wav": wav})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}
	var upload struct {
		CaseID    string `json:"case_id"`
		AudioPath string `json:"audio_path"`
		Status    string `json:"status"`
	}
	decodeBody(t, resp, &upload)
	if upload.CaseID != id || upload.Status != "uploaded" || upload.AudioPath == "" {
		t.Fatalf("upload body = %+v", upload)
	}

	// Preprocess.
	resp = postJSON(t, ts.URL+"/api/audio/preprocess?case_id="+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("preprocess status = %d", resp.StatusCode)
	}
	var pre struct {
		CleanedAudioPath string `json:"cleaned_audio_path"`
	}
	decodeBody(t, resp, &pre)
	if !strings.HasSuffix(pre.CleanedAudioPath, id+"_cleaned.wav") {
		t.Errorf("cleaned path = %q", pre.CleanedAudioPath)
	}

	// Transcribe.
	resp = postJSON(t, ts.URL+"/api/transcribe?case_id="+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("transcribe status = %d", resp.StatusCode)
	}
	var tr struct {
		Transcript      string  `json:"transcript"`
		DurationSeconds float64 `json:"duration_seconds"`
	}
	decodeBody(t, resp, &tr)
	if tr.Transcript == "" || tr.DurationSeconds <= 0 {
		t.Errorf("transcription body = %+v", tr)
	}

	// Extract.
	resp = postJSON(t, ts.URL+"/api/extract-clinical-facts", map[string]string{"case_id": id})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("extract status = %d", resp.StatusCode)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	// Generate.
	resp = postJSON(t, ts.URL+"/api/generate-p3", map[string]string{"case_id": id})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("generate status = %d", resp.StatusCode)
	}
	var gen struct {
		P3 report.Report `json:"p3_pre_fill"`
	}
	decodeBody(t, resp, &gen)
	if !gen.P3.ClinicianReviewRequired {
		t.Error("clinician review flag must be raised")
	}
	if got := gen.P3.PhysicalExamination.InjuriesObserved; len(got) != 1 || got[0] != "bruise" {
		t.Errorf("injuries = %v", got)
	}

	// Final record state.
	resp, err := http.Get(ts.URL + "/api/cases/" + id)
	if err != nil {
		t.Fatalf("GET case: %v", err)
	}
	var rec store.Record
	decodeBody(t, resp, &rec)
	if rec.Status != store.StatusCompleted {
		t.Errorf("status = %q, want completed", rec.Status)
	}
	if rec.Transcript == nil || rec.Facts == nil || rec.Report == nil {
		t.Error("record missing persisted stage artifacts")
	}
}

func TestTranscribe_RequiresPreprocessedAudio(t *testing.T) {
	sttP, llmP := defaultProviders()
	ts, _ := newTestServer(t, sttP, llmP)
	id := createCase(t, ts.URL)

	resp := postJSON(t, ts.URL+"/api/transcribe?case_id="+id, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestProcessFull_CreatesCaseWhenUnnamed(t *testing.T) {
	sttP, llmP := defaultProviders()
	ts, cases := newTestServer(t, sttP, llmP)

	resp := postMultipart(t, ts.URL+"/api/audio/process-full", "file", map[string][]byte{"rec.wav": testWAV(t, 1)})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		CaseID     string `json:"case_id"`
		Transcript string `json:"transcript"`
	}
	decodeBody(t, resp, &body)
	if body.CaseID == "" || body.Transcript == "" {
		t.Fatalf("body = %+v", body)
	}

	rec, err := cases.Get(context.Background(), body.CaseID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != store.StatusTranscribed {
		t.Errorf("status = %q, want transcribed", rec.Status)
	}
	if rec.AudioPath == "" || rec.CleanedAudioPath == "" {
		t.Error("intake artifacts not recorded")
	}
}

func TestRunPipeline_CompletesCase(t *testing.T) {
	sttP, llmP := defaultProviders()
	ts, cases := newTestServer(t, sttP, llmP)
	id := createCase(t, ts.URL)

	resp := postMultipart(t, ts.URL+"/api/audio/upload?case_id="+id, "file", map[string][]byte{"rec.wav": testWAV(t, 1)})
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/api/cases/"+id+"/run", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("run status = %d", resp.StatusCode)
	}
	var result pipeline.Result
	decodeBody(t, resp, &result)
	if result.CaseID != id {
		t.Errorf("case id = %q", result.CaseID)
	}
	if result.Report.HistoryOfAssault.DrugFacilitatedSuspected != "no" {
		t.Errorf("drug flag = %q", result.Report.HistoryOfAssault.DrugFacilitatedSuspected)
	}

	rec, err := cases.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != store.StatusCompleted {
		t.Errorf("status = %q, want completed", rec.Status)
	}
}

func TestRunPipeline_StageFailureMarksCaseFailed(t *testing.T) {
	sttP, llmP := defaultProviders()
	ts, cases := newTestServer(t, sttP, llmP)
	id := createCase(t, ts.URL)

	resp := postMultipart(t, ts.URL+"/api/audio/upload?case_id="+id, "file", map[string][]byte{"rec.bin": []byte("not audio")})
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/api/cases/"+id+"/run", nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("run status = %d, want 502", resp.StatusCode)
	}
	var body struct {
		Stage string `json:"stage"`
	}
	decodeBody(t, resp, &body)
	if body.Stage != string(pipeline.StageNormalize) {
		t.Errorf("stage = %q, want normalize", body.Stage)
	}

	rec, err := cases.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != store.StatusFailed {
		t.Errorf("status = %q, want failed", rec.Status)
	}
}

func TestExtract_ExplicitTranscriptBypassesStoredOne(t *testing.T) {
	sttP, llmP := defaultProviders()
	ts, _ := newTestServer(t, sttP, llmP)
	id := createCase(t, ts.URL)

	resp := postJSON(t, ts.URL+"/api/extract-clinical-facts", map[string]string{
		"case_id":    id,
		"transcript": "He hit me with a belt last week.",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if llmP.CallCount() != 1 {
		t.Fatalf("llm calls = %d", llmP.CallCount())
	}
}

func TestExtract_NoTranscriptAnywhere(t *testing.T) {
	sttP, llmP := defaultProviders()
	ts, _ := newTestServer(t, sttP, llmP)
	id := createCase(t, ts.URL)

	resp := postJSON(t, ts.URL+"/api/extract-clinical-facts", map[string]string{"case_id": id})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestEvidenceUpload(t *testing.T) {
	sttP, llmP := defaultProviders()
	ts, cases := newTestServer(t, sttP, llmP)
	id := createCase(t, ts.URL)

	resp := postMultipart(t, ts.URL+"/api/evidence/upload?case_id="+id, "files", map[string][]byte{
		"photo1.jpg": []byte("jpeg bytes"),
		"photo2.jpg": []byte("more jpeg bytes"),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		UploadedFiles []string `json:"uploaded_files"`
	}
	decodeBody(t, resp, &body)
	if len(body.UploadedFiles) != 2 {
		t.Fatalf("uploaded = %v", body.UploadedFiles)
	}

	rec, err := cases.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(rec.Evidence) != 2 {
		t.Errorf("evidence items = %d", len(rec.Evidence))
	}
}

func TestEvidenceUpload_RequiresCaseID(t *testing.T) {
	sttP, llmP := defaultProviders()
	ts, _ := newTestServer(t, sttP, llmP)

	resp := postMultipart(t, ts.URL+"/api/evidence/upload", "files", map[string][]byte{"p.jpg": []byte("x")})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestListCases_StatusFilter(t *testing.T) {
	sttP, llmP := defaultProviders()
	ts, cases := newTestServer(t, sttP, llmP)

	for i := 0; i < 3; i++ {
		createCase(t, ts.URL)
	}
	recs, err := cases.List(context.Background(), store.ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	rec := recs[0]
	rec.Status = store.StatusCompleted
	if err := cases.Update(context.Background(), rec); err != nil {
		t.Fatalf("Update: %v", err)
	}

	resp, err := http.Get(ts.URL + "/api/cases?status=completed")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	var body struct {
		Count int            `json:"count"`
		Cases []store.Record `json:"cases"`
	}
	decodeBody(t, resp, &body)
	if body.Count != 1 || len(body.Cases) != 1 {
		t.Fatalf("filtered count = %d", body.Count)
	}
	if body.Cases[0].ID != rec.ID {
		t.Errorf("filtered case = %q, want %q", body.Cases[0].ID, rec.ID)
	}

	resp, err = http.Get(ts.URL + "/api/cases?status=bogus")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bogus status filter = %d, want 400", resp.StatusCode)
	}
}

func TestRemoveCase(t *testing.T) {
	sttP, llmP := defaultProviders()
	ts, _ := newTestServer(t, sttP, llmP)
	id := createCase(t, ts.URL)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/cases/"+id, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}

	getResp, err := http.Get(ts.URL + "/api/cases/" + id)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusNotFound {
		t.Errorf("after delete status = %d, want 404", getResp.StatusCode)
	}
}

func TestHealthRoutes(t *testing.T) {
	sttP, llmP := defaultProviders()
	ts, _ := newTestServer(t, sttP, llmP)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s status = %d", path, resp.StatusCode)
		}
	}
}

func TestRunBatch_MixedOutcomes(t *testing.T) {
	sttP, llmP := defaultProviders()
	ts, cases := newTestServer(t, sttP, llmP)

	good := createCase(t, ts.URL)
	bad := createCase(t, ts.URL)
	resp := postMultipart(t, ts.URL+"/api/audio/upload?case_id="+good, "file", map[string][]byte{"a.wav": testWAV(t, 1)})
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	resp = postMultipart(t, ts.URL+"/api/audio/upload?case_id="+bad, "file", map[string][]byte{"b.bin": []byte("not audio")})
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/api/cases/run-batch", map[string]any{"case_ids": []string{good, bad}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Count   int `json:"count"`
		Results []struct {
			CaseID string `json:"case_id"`
			Error  string `json:"error"`
		} `json:"results"`
	}
	decodeBody(t, resp, &body)
	if body.Count != 2 {
		t.Fatalf("count = %d", body.Count)
	}
	if body.Results[0].Error != "" {
		t.Errorf("good case errored: %s", body.Results[0].Error)
	}
	if body.Results[1].Error == "" {
		t.Error("bad case should carry an error")
	}

	goodRec, _ := cases.Get(context.Background(), good)
	badRec, _ := cases.Get(context.Background(), bad)
	if goodRec.Status != store.StatusCompleted {
		t.Errorf("good status = %q", goodRec.Status)
	}
	if badRec.Status != store.StatusFailed {
		t.Errorf("bad status = %q", badRec.Status)
	}
}

func TestRunBatch_UnknownCase(t *testing.T) {
	sttP, llmP := defaultProviders()
	ts, _ := newTestServer(t, sttP, llmP)

	resp := postJSON(t, ts.URL+"/api/cases/run-batch", map[string]any{"case_ids": []string{"NJ-2026-NOPE"}})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

type recordingTrail struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingTrail) Record(caseID, action, detail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, action)
	return nil
}

func TestAuditTrailRecordsCaseEvents(t *testing.T) {
	trail := &recordingTrail{}
	sttP, llmP := defaultProviders()
	deps := newTestDeps(t, sttP, llmP)
	deps.Audit = trail
	ts := startServer(t, deps)

	id := createCase(t, ts.URL)
	resp := postMultipart(t, ts.URL+"/api/audio/upload?case_id="+id, "file", map[string][]byte{"rec.wav": testWAV(t, 1)})
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	resp = postJSON(t, ts.URL+"/api/cases/"+id+"/run", nil)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	trail.mu.Lock()
	defer trail.mu.Unlock()
	want := []string{audit.ActionCaseCreated, audit.ActionAudioUploaded, audit.ActionPipelineRun}
	if len(trail.events) != len(want) {
		t.Fatalf("events = %v", trail.events)
	}
	for i, action := range want {
		if trail.events[i] != action {
			t.Errorf("event[%d] = %q, want %q", i, trail.events[i], action)
		}
	}
}

func TestServerNew_RequiresDeps(t *testing.T) {
	if _, err := server.New(server.Deps{}); err == nil {
		t.Fatal("expected error for empty deps")
	}
}
