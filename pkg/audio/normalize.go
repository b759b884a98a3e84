package audio

import (
	"fmt"
	"math"
)

const (
	// defaultTargetRMS is the loudness target: after normalization the
	// signal's root-mean-square energy equals this value (silent input
	// excepted).
	defaultTargetRMS = 0.1

	// defaultSuppression is the fraction of the estimated noise level
	// removed from the signal. Kept conservative so speech articulation
	// survives denoising.
	defaultSuppression = 0.3
)

// Option is a functional option for configuring a Normalizer.
type Option func(*Normalizer)

// WithTargetRate overrides the canonical output sample rate. Defaults to
// CanonicalSampleRate (16 kHz).
func WithTargetRate(rate int) Option {
	return func(n *Normalizer) { n.targetRate = rate }
}

// WithTargetRMS sets the loudness target. Defaults to 0.1.
func WithTargetRMS(rms float64) Option {
	return func(n *Normalizer) { n.targetRMS = rms }
}

// WithSuppression sets the noise suppression strength in [0, 1], where 0
// disables suppression entirely. Defaults to 0.3.
func WithSuppression(strength float64) Option {
	return func(n *Normalizer) { n.suppression = strength }
}

// Normalizer converts a decodable audio byte stream into the canonical
// waveform form. It holds no per-call state and is safe for concurrent use.
type Normalizer struct {
	targetRate  int
	targetRMS   float64
	suppression float64
}

// NewNormalizer creates a Normalizer with canonical defaults, applying any
// functional options.
func NewNormalizer(opts ...Option) *Normalizer {
	n := &Normalizer{
		targetRate:  CanonicalSampleRate,
		targetRMS:   defaultTargetRMS,
		suppression: defaultSuppression,
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Normalize decodes raw audio bytes and applies the full cleanup chain:
// mono downmix, resample to the target rate, adaptive noise suppression,
// and RMS loudness normalization with a hard clip to [-1.0, 1.0].
//
// The returned buffer always satisfies the canonical-form invariants. On any
// failure (undecodable or empty input) no buffer is returned.
func (n *Normalizer) Normalize(raw []byte) (*Buffer, error) {
	buf, err := DecodeWAV(raw)
	if err != nil {
		return nil, fmt.Errorf("audio: decode: %w", err)
	}

	samples := buf.Samples
	if buf.Channels > 1 {
		samples = DownmixMono(samples, buf.Channels)
	}
	if len(samples) == 0 {
		return nil, ErrEmptyAudio
	}

	if buf.SampleRate != n.targetRate {
		samples = Resample(samples, buf.SampleRate, n.targetRate)
		if len(samples) == 0 {
			return nil, fmt.Errorf("audio: resample %d→%d Hz produced no samples", buf.SampleRate, n.targetRate)
		}
	}

	if n.suppression > 0 {
		samples = suppressNoise(samples, n.targetRate, n.suppression)
	}

	samples = normalizeLoudness(samples, n.targetRMS)

	return &Buffer{
		Samples:    samples,
		SampleRate: n.targetRate,
		Channels:   CanonicalChannels,
	}, nil
}

// DownmixMono collapses interleaved multi-channel samples to mono by
// averaging each frame's channels.
func DownmixMono(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for c := range channels {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Resample converts mono samples from srcRate to dstRate using linear
// interpolation. The output length scales by the rate ratio so the signal
// duration is preserved. If srcRate == dstRate the input is returned
// unchanged.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	srcSamples := len(samples)
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]float32, dstSamples)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = samples[srcIdx+1]
		}
		out[i] = float32(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}

// RMS returns the root-mean-square energy of the samples. Returns 0 for an
// empty slice.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// suppressNoise applies a non-stationary noise gate. The signal is split into
// short frames; a running noise-floor estimate tracks the quietest recent
// frames, and frames close to the floor are attenuated by the suppression
// strength. Gains are smoothed across frames to avoid pumping artefacts.
func suppressNoise(samples []float32, sampleRate int, strength float64) []float32 {
	const frameMs = 20
	frameLen := sampleRate * frameMs / 1000
	if frameLen <= 0 || len(samples) <= frameLen {
		return samples
	}
	if strength > 1 {
		strength = 1
	}

	out := make([]float32, len(samples))
	copy(out, samples)

	// Seed the floor from the first frame, then let it decay toward each
	// frame's energy: fast downward (new quiet passage), slow upward.
	noiseFloor := frameRMS(samples[:frameLen])
	prevGain := 1.0

	for start := 0; start < len(samples); start += frameLen {
		end := min(start+frameLen, len(samples))
		energy := frameRMS(samples[start:end])

		if energy < noiseFloor {
			noiseFloor = energy
		} else {
			noiseFloor += 0.02 * (energy - noiseFloor)
		}

		// Frames within 2x of the floor are treated as noise.
		gain := 1.0
		if energy <= noiseFloor*2 {
			gain = 1.0 - strength
		}

		// One-pole smoothing between frames.
		gain = prevGain + 0.5*(gain-prevGain)
		prevGain = gain

		for i := start; i < end; i++ {
			out[i] = float32(float64(out[i]) * gain)
		}
	}
	return out
}

// frameRMS is RMS without the float64 slice conversion overhead of calling
// RMS on subslices in a hot loop.
func frameRMS(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(frame)))
}

// normalizeLoudness scales the whole signal so its RMS reaches target, then
// hard-clips into [-1.0, 1.0]. An all-zero signal is returned unchanged.
func normalizeLoudness(samples []float32, target float64) []float32 {
	rms := RMS(samples)
	if rms == 0 {
		return samples
	}
	scale := float32(target / rms)
	out := make([]float32, len(samples))
	for i, s := range samples {
		v := s * scale
		if v > 1.0 {
			v = 1.0
		} else if v < -1.0 {
			v = -1.0
		}
		out[i] = v
	}
	return out
}
