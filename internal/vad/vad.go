// Package vad turns a frame of audio samples into a speech probability,
// the score the segmenter's state machine thresholds against.
package vad

import (
	"math"

	"github.com/hubenschmidt/voicedialog/internal/audio"
)

// Config controls the energy-to-probability mapping and noise-floor
// calibration.
type Config struct {
	// SpeechThresholdDB is the energy level (dBFS) that maps to score 0.5.
	SpeechThresholdDB float64
	// CalibrationFrames is how many leading frames are used to estimate
	// the noise floor before the adaptive margin is applied. 0 disables
	// calibration and SpeechThresholdDB is used as-is.
	CalibrationFrames int
	// AdaptiveMarginDB is added to the measured noise floor; the result
	// replaces SpeechThresholdDB if it is stricter (higher).
	AdaptiveMarginDB float64
}

// DefaultConfig mirrors the energy thresholds used across the example
// voice pipelines this segmenter is derived from.
func DefaultConfig() Config {
	return Config{
		SpeechThresholdDB: -30,
		CalibrationFrames: 25, // ~500ms at 20ms frames
		AdaptiveMarginDB:  10,
	}
}

// Scorer computes a per-frame speech probability, calibrating its
// effective threshold against ambient noise during the first
// CalibrationFrames frames.
type Scorer struct {
	cfg         Config
	threshold   float64
	calibrating bool
	readings    []float64
}

// NewScorer builds a Scorer from cfg.
func NewScorer(cfg Config) *Scorer {
	return &Scorer{
		cfg:         cfg,
		threshold:   cfg.SpeechThresholdDB,
		calibrating: cfg.CalibrationFrames > 0,
	}
}

// Score returns a speech probability in [0, 1] for one frame of samples.
// A logistic curve centered on the threshold turns the hard-cutoff energy
// comparison the teacher pipelines use into a genuine probability, so the
// segmenter's `speech_threshold` config field is meaningful rather than
// always comparing against 0.5.
func (s *Scorer) Score(samples []float32) float64 {
	db := audio.EnergyDB(samples)

	if s.calibrating {
		s.calibrate(db)
	}

	return sigmoid(db - s.threshold)
}

func (s *Scorer) calibrate(db float64) {
	s.readings = append(s.readings, db)
	if len(s.readings) < s.cfg.CalibrationFrames {
		return
	}

	var sum float64
	for _, r := range s.readings {
		sum += r
	}
	noiseFloor := sum / float64(len(s.readings))

	adaptive := noiseFloor + s.cfg.AdaptiveMarginDB
	if adaptive > s.cfg.SpeechThresholdDB {
		s.threshold = adaptive
	}

	s.calibrating = false
	s.readings = nil
}

// sigmoid maps a dB delta centered on the threshold to [0, 1], with a
// slope tuned so +/-6dB around the threshold spans most of the range.
// Beyond +/-40 on the scaled axis (about +/-133dB) it returns exactly 1 or 0.
func sigmoid(deltaDB float64) float64 {
	const slope = 0.3
	x := deltaDB * slope
	if x > 40 {
		return 1
	}
	if x < -40 {
		return 0
	}
	return 1 / (1 + math.Exp(-x))
}
