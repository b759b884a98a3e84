// Package audio provides the canonical waveform type and the normalization
// pipeline that converts arbitrary decodable audio into the mono 16 kHz form
// every downstream stage assumes.
//
// The normalization order is fixed: decode → downmix → resample → noise
// suppression → loudness normalization. Each step is a pure transformation;
// a failed step never yields a partial buffer.
package audio

import "time"

// CanonicalSampleRate is the sample rate all normalized buffers carry, in Hz.
// 16 kHz mono is the standard input format for speech recognition models.
const CanonicalSampleRate = 16000

// CanonicalChannels is the channel count of a normalized buffer.
const CanonicalChannels = 1

// Buffer is a decoded audio signal: float samples in [-1.0, 1.0], a sample
// rate, and a channel count. After normalization the buffer always satisfies
// SampleRate == CanonicalSampleRate and Channels == CanonicalChannels.
type Buffer struct {
	// Samples holds the amplitude values. For multi-channel audio the
	// samples are interleaved; normalized buffers are always mono.
	Samples []float32

	// SampleRate in Hz.
	SampleRate int

	// Channels is the number of interleaved channels.
	Channels int
}

// Duration returns the playing time of the buffer. Returns 0 for buffers
// with a non-positive sample rate or channel count.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 || b.Channels <= 0 {
		return 0
	}
	frames := len(b.Samples) / b.Channels
	return time.Duration(float64(frames) / float64(b.SampleRate) * float64(time.Second))
}

// Seconds returns the duration as a float, the unit used in transcript
// metadata.
func (b *Buffer) Seconds() float64 {
	return b.Duration().Seconds()
}

// IsCanonical reports whether the buffer satisfies the normalized-form
// invariants: canonical rate, mono, and all samples within [-1.0, 1.0].
func (b *Buffer) IsCanonical() bool {
	if b == nil || b.SampleRate != CanonicalSampleRate || b.Channels != CanonicalChannels {
		return false
	}
	for _, s := range b.Samples {
		if s < -1.0 || s > 1.0 {
			return false
		}
	}
	return true
}
