// Package transcribe converts a canonical waveform into a verbatim text
// transcript via a speech-recognition capability.
//
// The adapter validates the waveform invariants, computes duration
// metadata, and delegates to an stt.Provider configured for deterministic
// decoding with an English language hint. Transcript text is returned
// exactly as produced — no rewriting, truncation, or summarization —
// except that whitespace is trimmed at the ends.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/njia-health/njia/pkg/audio"
	"github.com/njia-health/njia/pkg/provider/stt"
)

// defaultLanguage is the recognition hint passed to the capability.
const defaultLanguage = "en"

// ErrInvalidBuffer is returned when the input does not satisfy the canonical
// waveform invariants. This is a validation failure, not a transcription
// failure — the capability is never consulted.
var ErrInvalidBuffer = errors.New("transcribe: buffer violates canonical waveform invariants")

// Result is a completed transcription for one case. Produced once;
// immutable thereafter.
type Result struct {
	// CaseID is the opaque case identifier, threaded through unchanged.
	CaseID string `json:"case_id"`

	// Transcript is the verbatim text, disfluencies included. Empty when
	// the audio contained no recognizable speech.
	Transcript string `json:"transcript"`

	// DurationSeconds is the audio length computed from the buffer.
	DurationSeconds float64 `json:"duration_seconds"`

	// Language is the recognition language tag.
	Language string `json:"language"`

	// Model identifies the speech model that produced the transcript.
	Model string `json:"model"`
}

// AcquireFunc lazily constructs the speech-recognition capability. It is
// invoked at most once per Transcriber, on first use.
type AcquireFunc func() (stt.Provider, error)

// Option is a functional option for configuring a Transcriber.
type Option func(*Transcriber)

// WithLanguage overrides the recognition language hint. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(t *Transcriber) { t.language = lang }
}

// Transcriber converts canonical waveforms to transcripts. The underlying
// capability handle is acquired once, on first use, and shared across all
// subsequent calls; acquisition is safe to race from concurrent cases.
type Transcriber struct {
	acquire  AcquireFunc
	language string

	once     sync.Once
	provider stt.Provider
	initErr  error
}

// New creates a Transcriber with a lazily acquired capability.
func New(acquire AcquireFunc, opts ...Option) *Transcriber {
	t := &Transcriber{
		acquire:  acquire,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// NewWithProvider creates a Transcriber over an already-constructed
// capability. Used by tests and by callers that manage provider lifecycle
// themselves.
func NewWithProvider(p stt.Provider, opts ...Option) *Transcriber {
	return New(func() (stt.Provider, error) { return p, nil }, opts...)
}

// capability returns the shared provider handle, acquiring it on first
// call. A failed acquisition is sticky.
func (t *Transcriber) capability() (stt.Provider, error) {
	t.once.Do(func() {
		t.provider, t.initErr = t.acquire()
		if t.initErr == nil && t.provider == nil {
			t.initErr = fmt.Errorf("transcribe: acquire returned nil provider")
		}
	})
	return t.provider, t.initErr
}

// Transcribe validates the buffer and delegates to the speech capability.
// An empty transcript is a valid result, returned as an empty string — it
// is never silently substituted with placeholder text.
func (t *Transcriber) Transcribe(ctx context.Context, caseID string, buf *audio.Buffer) (*Result, error) {
	if buf == nil || len(buf.Samples) == 0 {
		return nil, fmt.Errorf("%w: empty buffer", ErrInvalidBuffer)
	}
	if !buf.IsCanonical() {
		return nil, fmt.Errorf("%w: got %d Hz / %d channels", ErrInvalidBuffer, buf.SampleRate, buf.Channels)
	}
	duration := buf.Seconds()
	if duration <= 0 {
		return nil, fmt.Errorf("%w: non-positive duration", ErrInvalidBuffer)
	}

	p, err := t.capability()
	if err != nil {
		return nil, fmt.Errorf("transcribe: capability unavailable: %w", err)
	}

	res, err := p.Transcribe(ctx, stt.Request{
		Samples:    buf.Samples,
		SampleRate: buf.SampleRate,
		Language:   t.language,
	})
	if err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}

	return &Result{
		CaseID:          caseID,
		Transcript:      strings.TrimSpace(res.Text),
		DurationSeconds: duration,
		Language:        res.Language,
		Model:           res.Model,
	}, nil
}
