// Package stt defines the Provider interface for speech-to-text backends.
//
// An STT provider wraps a speech-recognition capability (a local whisper.cpp
// model, a whisper-server instance, or a remote API) and exposes a uniform
// batch interface: one canonical waveform in, one verbatim transcript out.
// Decoding is deterministic — providers must request zero sampling
// temperature so repeated transcriptions of the same audio agree.
//
// Implementations must be safe for concurrent use; several cases may be
// transcribed at once through one shared provider handle.
package stt

import "context"

// Request carries one utterance to transcribe. Samples must be mono float32
// in [-1.0, 1.0] at SampleRate Hz — the canonical form produced by the audio
// normalizer.
type Request struct {
	// Samples is the mono waveform.
	Samples []float32

	// SampleRate in Hz. Providers may reject rates they do not support;
	// 16000 is accepted everywhere.
	SampleRate int

	// Language is the BCP-47 language hint for recognition (e.g. "en").
	// Empty lets the provider auto-detect, if supported.
	Language string
}

// Result is a completed transcription. Text is returned exactly as the
// capability produced it; callers own any trimming policy.
type Result struct {
	// Text is the verbatim transcript, disfluencies included. May be empty
	// when the audio contains no recognizable speech — that is a valid
	// result, not an error.
	Text string

	// Language is the language the provider recognized or was hinted.
	Language string

	// Model identifies the model that produced the transcript.
	Model string
}

// Provider is the abstraction over any speech-recognition backend.
//
// Transcribe blocks until the full transcript is available or ctx is
// cancelled. Providers must not retry internally; a capability failure is
// returned to the caller as-is.
type Provider interface {
	Transcribe(ctx context.Context, req Request) (*Result, error)
}
