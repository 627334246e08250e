// Package segmenter implements the utterance segmenter: it converts an
// unbounded stream of fixed-size audio frames into a lazy sequence of
// bounded utterances, driven by a per-frame voice-activity score.
package segmenter

import "github.com/hubenschmidt/voicedialog/internal/audio"

// State is the segmenter's finite-state-machine state.
type State int

const (
	Idle State = iota
	Speaking
)

// Config holds the segmenter's tunables; see spec §4.1 for the defaults'
// provenance.
type Config struct {
	SpeechThreshold       float64
	SilenceFramesRequired int
	MinUtteranceFrames    int
	MaxUtteranceFrames    int
	PrerollFrames         int
}

// DefaultConfig returns the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		SpeechThreshold:       0.45,
		SilenceFramesRequired: 10,
		MinUtteranceFrames:    5,
		MaxUtteranceFrames:    1500, // ~30s at 20ms frames
		PrerollFrames:         5,
	}
}

// Scorer produces a speech probability for one frame of samples.
type Scorer interface {
	Score(samples []float32) float64
}

// Utterance is a contiguous, bounded span of speech frames, including the
// preroll that precedes detected speech onset and the trailing silence
// that helped end-point it.
type Utterance struct {
	ID     uint64
	Frames []audio.Frame
}

// Samples flattens the utterance's frames into one contiguous sample slice.
func (u Utterance) Samples() []float32 {
	out := make([]float32, 0, len(u.Frames)*audio.FrameSamples)
	for _, f := range u.Frames {
		out = append(out, f.Samples...)
	}
	return out
}

// Segmenter runs the IDLE/SPEAKING state machine described in spec §4.1.
type Segmenter struct {
	cfg    Config
	scorer Scorer

	state        State
	preroll      []audio.Frame
	utterance    []audio.Frame
	silenceCount int
	nextID       uint64
}

// New builds a Segmenter. scorer is called once per frame to obtain its
// VAD probability.
func New(cfg Config, scorer Scorer) *Segmenter {
	return &Segmenter{
		cfg:     cfg,
		scorer:  scorer,
		preroll: make([]audio.Frame, 0, cfg.PrerollFrames),
	}
}

// Process feeds one fixed-size frame through the state machine. It returns
// a completed Utterance and true when a speech span ends (by silence
// hysteresis or by the max-length forced cut); otherwise it returns
// (Utterance{}, false).
func (s *Segmenter) Process(frame audio.Frame) (Utterance, bool) {
	score := s.scorer.Score(frame.Samples)
	isSpeech := score >= s.cfg.SpeechThreshold

	switch s.state {
	case Idle:
		if isSpeech {
			s.state = Speaking
			s.utterance = append(s.utterance, s.preroll...)
			s.utterance = append(s.utterance, frame)
			s.silenceCount = 0
			return Utterance{}, false
		}
		s.pushPreroll(frame)
		return Utterance{}, false

	case Speaking:
		s.utterance = append(s.utterance, frame)
		if isSpeech {
			s.silenceCount = 0
		} else {
			s.silenceCount++
		}

		if len(s.utterance) >= s.cfg.MaxUtteranceFrames {
			return s.emit(), true
		}
		if s.silenceCount >= s.cfg.SilenceFramesRequired {
			if len(s.utterance) < s.cfg.MinUtteranceFrames {
				s.reset()
				return Utterance{}, false
			}
			return s.emit(), true
		}
		return Utterance{}, false
	}

	return Utterance{}, false
}

// Flush forces emission of any in-progress utterance, e.g. on disconnect.
// It returns (Utterance{}, false) if nothing was in progress or the
// buffered speech never reached MinUtteranceFrames.
func (s *Segmenter) Flush() (Utterance, bool) {
	if s.state != Speaking || len(s.utterance) < s.cfg.MinUtteranceFrames {
		s.reset()
		return Utterance{}, false
	}
	return s.emit(), true
}

func (s *Segmenter) pushPreroll(frame audio.Frame) {
	s.preroll = append(s.preroll, frame)
	if len(s.preroll) > s.cfg.PrerollFrames {
		s.preroll = s.preroll[len(s.preroll)-s.cfg.PrerollFrames:]
	}
}

func (s *Segmenter) emit() Utterance {
	s.nextID++
	u := Utterance{ID: s.nextID, Frames: s.utterance}
	s.reset()
	return u
}

func (s *Segmenter) reset() {
	s.state = Idle
	s.utterance = nil
	s.silenceCount = 0
	s.preroll = s.preroll[:0]
}
