// Package store persists case records and their filesystem artifacts.
//
// A case record tracks one survivor testimony through the pipeline: the
// uploaded audio, the cleaned audio, the transcript, the extracted clinical
// facts, and the pre-filled report. Records live in a [Store] (in-memory or
// PostgreSQL); bulky artifacts (audio files, evidence photos) live on disk
// under an [Artifacts] root, referenced from the record by path.
//
// All store operations are safe for concurrent use.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/njia-health/njia/internal/facts"
	"github.com/njia-health/njia/internal/report"
	"github.com/njia-health/njia/internal/transcribe"
)

// ErrNotFound is returned by Get and Update when the requested case does not exist.
var ErrNotFound = errors.New("case not found")

// ErrDuplicateID is returned by Add when a case with the same ID already exists.
var ErrDuplicateID = errors.New("case with that ID already exists")

// Status tracks how far through the pipeline a case has progressed.
type Status string

const (
	StatusCreated       Status = "created"
	StatusAudioUploaded Status = "audio_uploaded"
	StatusPreprocessed  Status = "preprocessed"
	StatusTranscribed   Status = "transcribed"
	StatusExtracted     Status = "extracted"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
)

// IsValid reports whether s is a recognised case status.
func (s Status) IsValid() bool {
	switch s {
	case StatusCreated, StatusAudioUploaded, StatusPreprocessed,
		StatusTranscribed, StatusExtracted, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// EvidenceItem references one uploaded evidence file (e.g. a photo).
type EvidenceItem struct {
	Filename   string    `json:"filename"`
	Path       string    `json:"path"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Record is the persistent state of one case.
type Record struct {
	// ID is the case identifier (e.g. "NJ-2026-4F2"). Auto-generated by
	// [Store.Add] if empty.
	ID string `json:"case_id"`

	// Status is the furthest pipeline stage the case has completed.
	Status Status `json:"status"`

	// AudioPath is the raw uploaded audio file, relative to the artifact root.
	AudioPath string `json:"audio_path,omitempty"`

	// CleanedAudioPath is the normalized 16 kHz mono WAV.
	CleanedAudioPath string `json:"cleaned_audio_path,omitempty"`

	// Transcript is the transcription stage output, nil until transcribed.
	Transcript *transcribe.Result `json:"transcript,omitempty"`

	// Facts holds the extracted clinical facts, nil until extracted.
	Facts *facts.Set `json:"clinical_facts,omitempty"`

	// FactsDefaulted marks that extraction output was unparseable and the
	// fact set degraded to all-absent.
	FactsDefaulted bool `json:"facts_defaulted,omitempty"`

	// Report is the pre-filled P3 report, nil until mapped.
	Report *report.Report `json:"p3_pre_fill,omitempty"`

	// Evidence lists uploaded supporting files.
	Evidence []EvidenceItem `json:"evidence,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store manages case records.
//
// All implementations must be safe for concurrent use.
type Store interface {
	// Add creates a new case. Returns the record with a generated ID if the
	// provided record's ID is empty.
	// Returns [ErrDuplicateID] if a case with the same non-empty ID exists.
	Add(ctx context.Context, rec Record) (Record, error)

	// Get retrieves a case by ID.
	// Returns [ErrNotFound] when no case with that ID exists.
	Get(ctx context.Context, id string) (Record, error)

	// List returns all cases, optionally filtered by status.
	// Results are ordered by creation time, newest first.
	List(ctx context.Context, opts ListOptions) ([]Record, error)

	// Update replaces an existing case record and refreshes UpdatedAt.
	// The record's ID must be non-empty.
	// Returns [ErrNotFound] when no case with that ID exists.
	Update(ctx context.Context, rec Record) error

	// Remove deletes a case by ID.
	// Returns [ErrNotFound] when no case with that ID exists.
	Remove(ctx context.Context, id string) error
}

// ListOptions narrows the result set of [Store.List].
type ListOptions struct {
	// Status restricts results to cases with this status.
	// An empty value matches all statuses.
	Status Status
}
