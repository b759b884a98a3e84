package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// bitsPerSample is fixed at 16 for the little-endian PCM audio written by
// EncodeWAV. DecodeWAV additionally accepts 32-bit IEEE float data.
const bitsPerSample = 16

// ErrEmptyAudio is returned when the input contains no sample data.
var ErrEmptyAudio = errors.New("audio: empty input")

// wavFormatPCM and wavFormatFloat are the "fmt " chunk audio format codes
// DecodeWAV understands.
const (
	wavFormatPCM   = 1
	wavFormatFloat = 3
)

// DecodeWAV parses a RIFF/WAV byte stream into a Buffer at its native sample
// rate and channel count. Supported sample encodings are 16-bit signed PCM
// and 32-bit IEEE float; samples are converted to float32 in [-1.0, 1.0].
//
// The chunk list is walked rather than assumed, so files with LIST/INFO or
// other metadata chunks before "data" decode correctly.
func DecodeWAV(raw []byte) (*Buffer, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyAudio
	}
	if len(raw) < 12 || string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return nil, errors.New("audio: not a RIFF/WAVE stream")
	}

	var (
		format     uint16
		channels   int
		sampleRate int
		bits       uint16
		data       []byte
		haveFmt    bool
	)

	// Walk chunks after the 12-byte RIFF header.
	off := 12
	for off+8 <= len(raw) {
		id := string(raw[off : off+4])
		size := int(binary.LittleEndian.Uint32(raw[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(raw) {
			// Truncated chunk: tolerate a short final data chunk, reject others.
			if id == "data" && body < len(raw) {
				size = len(raw) - body
			} else {
				return nil, fmt.Errorf("audio: truncated %q chunk", id)
			}
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, errors.New("audio: fmt chunk too short")
			}
			format = binary.LittleEndian.Uint16(raw[body : body+2])
			channels = int(binary.LittleEndian.Uint16(raw[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(raw[body+4 : body+8]))
			bits = binary.LittleEndian.Uint16(raw[body+14 : body+16])
			haveFmt = true
		case "data":
			data = raw[body : body+size]
		}

		// Chunks are word-aligned.
		off = body + size
		if size%2 == 1 {
			off++
		}
		if data != nil && haveFmt {
			break
		}
	}

	if !haveFmt {
		return nil, errors.New("audio: missing fmt chunk")
	}
	if channels <= 0 || sampleRate <= 0 {
		return nil, fmt.Errorf("audio: invalid format (%d channels, %d Hz)", channels, sampleRate)
	}
	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}

	var samples []float32
	switch {
	case format == wavFormatPCM && bits == 16:
		n := len(data) / 2
		samples = make([]float32, n)
		for i := range n {
			s := int16(binary.LittleEndian.Uint16(data[i*2 : i*2+2]))
			samples[i] = float32(s) / 32768.0
		}
	case format == wavFormatFloat && bits == 32:
		n := len(data) / 4
		samples = make([]float32, n)
		for i := range n {
			samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4 : i*4+4]))
		}
	default:
		return nil, fmt.Errorf("audio: unsupported encoding (format %d, %d bits)", format, bits)
	}

	if len(samples) == 0 {
		return nil, ErrEmptyAudio
	}

	return &Buffer{
		Samples:    samples,
		SampleRate: sampleRate,
		Channels:   channels,
	}, nil
}

// EncodeWAV wraps the buffer's samples in a standard RIFF/WAV container as
// 16-bit signed little-endian PCM. Samples outside [-1.0, 1.0] are clamped.
// The returned byte slice is suitable for persistence or multipart upload.
func EncodeWAV(b *Buffer) []byte {
	channels := b.Channels
	if channels <= 0 {
		channels = 1
	}
	byteRate := b.SampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(b.Samples) * 2

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                   // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], wavFormatPCM)         // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))     // num channels
	binary.LittleEndian.PutUint32(buf[24:28], uint32(b.SampleRate)) // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))     // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))   // block align
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)        // bits per sample

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))

	for i, s := range b.Samples {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		v := int16(s * 32767.0)
		binary.LittleEndian.PutUint16(buf[44+i*2:], uint16(v))
	}

	return buf
}
