// Package audit records an append-only trail of case processing events.
//
// Forensic case handling needs a chain of custody: every action taken on a
// case (intake, preprocessing, transcription, report generation, evidence
// upload) is written as one JSON line to a local file. The file is never
// rewritten or truncated by this package.
//
// For multi-node deployments, this should be replaced with a
// PostgreSQL-backed implementation.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Actions recorded by the processing server.
const (
	ActionCaseCreated     = "case_created"
	ActionCaseRemoved     = "case_removed"
	ActionAudioUploaded   = "audio_uploaded"
	ActionAudioCleaned    = "audio_cleaned"
	ActionTranscribed     = "transcribed"
	ActionFactsExtracted  = "facts_extracted"
	ActionReportGenerated = "report_generated"
	ActionPipelineRun     = "pipeline_run"
	ActionPipelineFailed  = "pipeline_failed"
	ActionEvidenceAdded   = "evidence_added"
)

// Event is a single entry in the case audit trail.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	CaseID    string    `json:"case_id"`
	Action    string    `json:"action"`

	// Detail carries action-specific context (a file path, a stage name,
	// an error message). Free-form.
	Detail string `json:"detail,omitempty"`
}

// Trail accepts case events. Implementations must be safe for concurrent use.
type Trail interface {
	Record(caseID, action, detail string) error
}

// Discard is a [Trail] that drops all events. Useful in tests and when no
// audit file is configured.
var Discard Trail = discard{}

type discard struct{}

func (discard) Record(string, string, string) error { return nil }

// FileTrail persists events as JSON lines in a local file.
// Thread-safe for concurrent use.
type FileTrail struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

var _ Trail = (*FileTrail)(nil)

// NewFileTrail creates a FileTrail that appends to the given path.
// The file is created on first write if it does not exist.
func NewFileTrail(path string) *FileTrail {
	return &FileTrail{path: path, now: time.Now}
}

// Record appends one event to the trail.
func (t *FileTrail) Record(caseID, action, detail string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	event := Event{
		Timestamp: t.now().UTC(),
		CaseID:    caseID,
		Action:    action,
		Detail:    detail,
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: marshal: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("audit: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("audit: write: %w", err)
	}
	return nil
}
