// Package audio holds the sample-format plumbing shared by ingress,
// egress, and the transcriber/synthesizer adapters: frame sizing,
// PCM encode/decode, resampling, and WAV container writing.
package audio

import (
	"encoding/binary"
	"math"
)

const (
	// SampleRate is the fixed ingress sample rate: 16 kHz mono.
	SampleRate = 16000
	// FrameDurationMs is the fixed frame length fed to the segmenter.
	FrameDurationMs = 20
	// FrameSamples is FrameDurationMs of audio at SampleRate (320 samples).
	FrameSamples = SampleRate * FrameDurationMs / 1000
	// TTSSampleRate is the fixed egress synthesis rate: 22050 Hz mono PCM16LE.
	TTSSampleRate = 22050
)

// Frame is one fixed-size, sequenced slice of mono PCM float32 samples.
type Frame struct {
	Samples []float32
	Seq     uint64
}

// DecodePCM32LE decodes a little-endian float32 PCM byte slice, the wire
// format of the client's binary ingress frames.
func DecodePCM32LE(data []byte) []float32 {
	n := len(data) / 4
	samples := make([]float32, n)
	for i := range n {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		samples[i] = math.Float32frombits(bits)
	}
	return samples
}

// EncodePCM16LE encodes float32 samples in [-1, 1] as little-endian PCM16,
// the wire format of the server's binary egress frames.
func EncodePCM16LE(samples []float32) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		clamped := max(float32(-1.0), min(float32(1.0), s))
		val := int16(clamped * math.MaxInt16)
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(val))
	}
	return buf
}

// DecodePCM16LE decodes little-endian PCM16 bytes (e.g. a synthesizer's
// raw HTTP response) to float32 samples in [-1, 1].
func DecodePCM16LE(data []byte) []float32 {
	n := len(data) / 2
	samples := make([]float32, n)
	for i := range n {
		s := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float32(s) / math.MaxInt16
	}
	return samples
}

// Reframe splits a variable-length sample slice into fixed FrameSamples
// chunks, carrying any remainder forward via the returned leftover slice.
// Sequence numbers start at startSeq and increment per emitted frame.
func Reframe(samples []float32, startSeq uint64) (frames []Frame, leftover []float32, nextSeq uint64) {
	seq := startSeq
	i := 0
	for ; i+FrameSamples <= len(samples); i += FrameSamples {
		chunk := make([]float32, FrameSamples)
		copy(chunk, samples[i:i+FrameSamples])
		frames = append(frames, Frame{Samples: chunk, Seq: seq})
		seq++
	}
	if i < len(samples) {
		leftover = append(leftover, samples[i:]...)
	}
	return frames, leftover, seq
}

// EnergyDB computes the RMS energy of samples in decibels, floored at -100dB
// for silence/near-zero input.
func EnergyDB(samples []float32) float64 {
	if len(samples) == 0 {
		return -100
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms < 1e-10 {
		return -100
	}
	return 20 * math.Log10(rms)
}
