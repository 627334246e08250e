package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestEncodeDecodePCM16LERoundTrips(t *testing.T) {
	samples := []float32{0, 0.5, -0.5, 1, -1}
	encoded := EncodePCM16LE(samples)
	if len(encoded) != len(samples)*2 {
		t.Fatalf("expected %d bytes, got %d", len(samples)*2, len(encoded))
	}

	decoded := DecodePCM16LE(encoded)
	for i, want := range samples {
		if math.Abs(float64(decoded[i]-want)) > 0.01 {
			t.Fatalf("sample %d: want %f, got %f", i, want, decoded[i])
		}
	}
}

func TestEncodePCM16LEClampsOutOfRange(t *testing.T) {
	encoded := EncodePCM16LE([]float32{2.0, -2.0})
	v0 := int16(binary.LittleEndian.Uint16(encoded[0:2]))
	v1 := int16(binary.LittleEndian.Uint16(encoded[2:4]))
	if v0 != math.MaxInt16 {
		t.Fatalf("expected clamping to MaxInt16, got %d", v0)
	}
	if v1 != -math.MaxInt16 {
		t.Fatalf("expected clamping to -MaxInt16, got %d", v1)
	}
}

func TestDecodePCM32LERoundTripsWithFloat32Bits(t *testing.T) {
	want := []float32{0.25, -0.75, 1.5}
	buf := make([]byte, len(want)*4)
	for i, v := range want {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	got := DecodePCM32LE(buf)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d: want %f, got %f", i, want[i], got[i])
		}
	}
}

func TestReframeSplitsIntoFixedSizeChunksAndCarriesLeftover(t *testing.T) {
	samples := make([]float32, FrameSamples*2+10)
	frames, leftover, nextSeq := Reframe(samples, 5)

	if len(frames) != 2 {
		t.Fatalf("expected 2 full frames, got %d", len(frames))
	}
	if len(leftover) != 10 {
		t.Fatalf("expected 10 leftover samples, got %d", len(leftover))
	}
	if frames[0].Seq != 5 || frames[1].Seq != 6 {
		t.Fatalf("expected sequence numbers 5,6, got %d,%d", frames[0].Seq, frames[1].Seq)
	}
	if nextSeq != 7 {
		t.Fatalf("expected next seq 7, got %d", nextSeq)
	}
}

func TestReframeWithNoFullFrameReturnsAllAsLeftover(t *testing.T) {
	samples := make([]float32, FrameSamples-1)
	frames, leftover, nextSeq := Reframe(samples, 0)
	if len(frames) != 0 {
		t.Fatalf("expected no full frames, got %d", len(frames))
	}
	if len(leftover) != len(samples) {
		t.Fatalf("expected all samples carried as leftover")
	}
	if nextSeq != 0 {
		t.Fatalf("expected unchanged seq counter, got %d", nextSeq)
	}
}

func TestEnergyDBIsFlooredForSilence(t *testing.T) {
	if got := EnergyDB(nil); got != -100 {
		t.Fatalf("expected -100 for empty input, got %f", got)
	}
	if got := EnergyDB(make([]float32, 320)); got != -100 {
		t.Fatalf("expected -100 for exact silence, got %f", got)
	}
}

func TestEnergyDBIncreasesWithAmplitude(t *testing.T) {
	quiet := make([]float32, 320)
	for i := range quiet {
		quiet[i] = 0.01
	}
	loud := make([]float32, 320)
	for i := range loud {
		loud[i] = 0.5
	}
	if EnergyDB(loud) <= EnergyDB(quiet) {
		t.Fatalf("expected louder signal to have higher energy in dB")
	}
}

func TestResampleReturnsInputUnchangedWhenRatesMatch(t *testing.T) {
	samples := []float32{1, 2, 3}
	out := Resample(samples, 16000, 16000)
	if len(out) != len(samples) {
		t.Fatalf("expected unchanged length, got %d", len(out))
	}
}

func TestResampleDownsamplesToExpectedLength(t *testing.T) {
	samples := make([]float32, 320) // 20ms at 16kHz
	out := Resample(samples, 16000, 8000)
	if len(out) != 160 {
		t.Fatalf("expected 160 samples after halving the rate, got %d", len(out))
	}
}

func TestSamplesToWAVWritesRIFFHeader(t *testing.T) {
	data := SamplesToWAV([]float32{0.5, -0.5}, 16000)
	if len(data) != 44+4 {
		t.Fatalf("expected 48 bytes, got %d", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatalf("expected RIFF/WAVE container markers")
	}
	if rate := binary.LittleEndian.Uint32(data[24:28]); rate != 16000 {
		t.Fatalf("expected sample rate 16000 in header, got %d", rate)
	}
}
