// Package session implements spec §4.7's interrupt-aware per-connection
// pipeline: one Session exclusively owns its segmenter, dialog engine,
// sentence/prefetch pipeline, and InterruptToken, driving exactly one
// turn at a time (§4.2's concurrency contract). Pipeline stages hold
// only the session id and a read-only token snapshot, never the Session
// itself, following spec §9's "cyclic ownership" note. Grounded on the
// gateway's pipeline.Pipeline (ProcessChunk/Flush/ProcessTextMessage
// driving one call at a time per session) and trace.Tracer's per-run
// latency bookkeeping, generalized to the segmenter/dialog/prefetch
// stages this domain adds.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hubenschmidt/voicedialog/internal/apperrors"
	"github.com/hubenschmidt/voicedialog/internal/audio"
	"github.com/hubenschmidt/voicedialog/internal/config"
	"github.com/hubenschmidt/voicedialog/internal/dialog"
	"github.com/hubenschmidt/voicedialog/internal/llmclient"
	"github.com/hubenschmidt/voicedialog/internal/metrics"
	"github.com/hubenschmidt/voicedialog/internal/segmenter"
	"github.com/hubenschmidt/voicedialog/internal/sentence"
	"github.com/hubenschmidt/voicedialog/internal/store"
	"github.com/hubenschmidt/voicedialog/internal/supervisor"
	"github.com/hubenschmidt/voicedialog/internal/telemetry"
	"github.com/hubenschmidt/voicedialog/internal/transcriber"
	"github.com/hubenschmidt/voicedialog/internal/tts"
	"github.com/hubenschmidt/voicedialog/internal/vad"
	"github.com/hubenschmidt/voicedialog/internal/workerpool"
)

// Event is one server-to-client text control frame.
type Event struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

// EventSender delivers a text control frame to the client. Implementations
// must be safe for concurrent use: the turn loop and Interrupt can both
// call it.
type EventSender func(Event)

// AudioSender delivers one binary PCM16LE audio chunk to the client.
// Implementations must be safe for concurrent use.
type AudioSender func([]byte)

// Deps holds the shared, process-wide collaborators a Session is built
// from. All fields are read-only from the Session's perspective.
type Deps struct {
	Transcriber transcriber.Transcriber
	Synthesizer tts.Synthesizer
	Supervisor  *supervisor.Supervisor
	LLMClient   *llmclient.Client
	Store       *store.Store
	Telemetry   telemetry.Recorder
	WorkerPool  *workerpool.Pool
	Config      config.Config
}

// Session owns one connection's conversation and audio pipeline state.
type Session struct {
	id        string
	deps      Deps
	sendEvent EventSender
	sendAudio AudioSender

	srcSampleRate int

	seg       *segmenter.Segmenter
	engine    *dialog.Engine
	createdAt time.Time

	mu         sync.Mutex
	token      uint64
	turnCancel context.CancelFunc
	ttsStarted bool
	turnIndex  int
	pending    []float32 // leftover samples not yet a full frame
	nextSeq    uint64

	utterances   chan segmenter.Utterance
	loadRequests chan string
}

// New builds a Session identified by id. sourceSampleRate is the rate the
// client declared in its hello frame (spec §6); if it differs from
// audio.SampleRate, IngestAudio resamples incoming audio down/up to
// audio.SampleRate before reframing, so a client recording at e.g. 48kHz
// or 8kHz still segments correctly. A zero sourceSampleRate (tests,
// callers that never saw a hello) is treated as already-16kHz. If a
// persisted record exists for id, history is restored from it immediately
// (the hello-carries-id restore path).
func New(id string, deps Deps, sourceSampleRate int, sendEvent EventSender, sendAudio AudioSender) *Session {
	if sourceSampleRate <= 0 {
		sourceSampleRate = audio.SampleRate
	}
	s := &Session{
		id:            id,
		deps:          deps,
		sendEvent:     sendEvent,
		sendAudio:     sendAudio,
		srcSampleRate: sourceSampleRate,
		seg:           segmenter.New(deps.Config.SegmenterConfig, vad.NewScorer(vad.DefaultConfig())),
		engine:        dialog.New(deps.LLMClient, deps.Supervisor, deps.Config.SystemPrompt, deps.Config.MaxHistoryTurns, deps.Config.LLMMaxTokens, deps.Config.LLMChunkTimeout),
		createdAt:     time.Now(),
		utterances:    make(chan segmenter.Utterance, 4),
		loadRequests:  make(chan string, 1),
	}

	if id != "" && deps.Store != nil {
		if rec, err := deps.Store.Load(id); err == nil && rec != nil {
			s.engine.LoadHistory(rec.Turns)
		}
	}
	return s
}

// ID returns the session's identifier.
func (s *Session) ID() string { return s.id }

// Run drives the turn loop: it processes utterances one at a time and
// applies queued load_session requests between turns, until ctx is done.
func (s *Session) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-s.loadRequests:
			if ok {
				s.applyLoadSession(id)
			}
		case utt, ok := <-s.utterances:
			if !ok {
				return
			}
			s.processUtterance(ctx, utt)
			select {
			case id := <-s.loadRequests:
				s.applyLoadSession(id)
			default:
			}
		}
	}
}

// IngestAudio decodes a binary PCM float32 frame, reframes it to
// fixed-size segmenter frames, and feeds each through the segmenter,
// enqueuing any emitted utterance for processing.
func (s *Session) IngestAudio(data []byte) {
	samples := audio.DecodePCM32LE(data)
	if s.srcSampleRate != audio.SampleRate {
		samples = audio.Resample(samples, s.srcSampleRate, audio.SampleRate)
	}

	s.mu.Lock()
	combined := append(s.pending, samples...)
	startSeq := s.nextSeq
	s.mu.Unlock()

	frames, leftover, nextSeq := audio.Reframe(combined, startSeq)

	s.mu.Lock()
	s.pending = leftover
	s.nextSeq = nextSeq
	s.mu.Unlock()

	for _, f := range frames {
		metrics.AudioFramesIngested.Inc()
		if utt, ok := s.seg.Process(f); ok {
			metrics.UtterancesEmitted.Inc()
			select {
			case s.utterances <- utt:
			default:
				slog.Warn("utterance queue full, dropping", "session_id", s.id)
			}
		}
	}
}

// Interrupt implements spec §4.7's barge-in protocol: bump the
// InterruptToken, cancel the in-flight turn, and emit tts_stop if one had
// started. Cancelling the turn's context causes the in-flight
// transcription/LLM stream/prefetch pipeline to unwind on its own and,
// for an interrupted LLM stream, to record the partial reply via
// RewindOnInterrupt before exiting — see the goroutine in
// processUtterance.
func (s *Session) Interrupt() {
	s.mu.Lock()
	s.token++
	cancel := s.turnCancel
	wasStarted := s.ttsStarted
	s.ttsStarted = false
	s.mu.Unlock()

	metrics.Interrupts.Inc()

	if cancel != nil {
		cancel()
	}
	if wasStarted {
		s.sendEvent(Event{Type: "tts_stop"})
	}
}

// RequestLoadSession queues a mid-connection load_session request. If the
// current turn is in progress the load is applied once it ends; if
// another load is already queued, ErrBusy is returned immediately per
// spec §9's open-question resolution.
func (s *Session) RequestLoadSession(id string) error {
	select {
	case s.loadRequests <- id:
		return nil
	default:
		return apperrors.ErrBusy
	}
}

func (s *Session) applyLoadSession(id string) {
	if s.deps.Store == nil {
		s.sendEvent(Event{Type: "error", Code: apperrors.Code(apperrors.ErrSessionNotFound), Message: "no session store configured"})
		return
	}
	rec, err := s.deps.Store.Load(id)
	if err != nil || rec == nil {
		s.sendEvent(Event{Type: "error", Code: apperrors.Code(apperrors.ErrSessionNotFound), Message: "session not found: " + id})
		return
	}
	s.engine.LoadHistory(rec.Turns)
}

// Close persists final history on disconnect. The shared Telemetry
// Recorder lives for the whole process and is closed by the server on
// shutdown, not here.
func (s *Session) Close() {
	s.persist()
}

func (s *Session) persist() {
	if s.deps.Store == nil {
		return
	}
	turns := s.engine.History()
	if len(turns) <= 1 {
		return // nothing beyond the system prompt to save
	}
	if err := s.deps.Store.Save(s.id, s.createdAt, turns[1:]); err != nil {
		slog.Error("persist session", "session_id", s.id, "error", err)
	}
}

func (s *Session) currentToken() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *Session) tokenStale(token uint64) bool {
	return s.currentToken() != token
}

func (s *Session) setTurnCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	s.turnCancel = cancel
	s.mu.Unlock()
}

// processUtterance runs exactly one turn: transcribe, stream a reply
// while splitting it into sentences, and synthesize+deliver audio for
// each sentence in order, stopping early and cleanly if interrupted.
func (s *Session) processUtterance(parent context.Context, utt segmenter.Utterance) {
	token := s.currentToken()
	turnCtx, cancel := context.WithCancel(parent)
	s.setTurnCancel(cancel)
	defer func() {
		cancel()
		s.setTurnCancel(nil)
	}()

	turnStart := time.Now()
	s.mu.Lock()
	s.turnIndex++
	turnIdx := s.turnIndex
	s.mu.Unlock()

	txResult, err := workerpool.Submit(turnCtx, s.deps.WorkerPool, func(ctx context.Context) (transcriber.Result, error) {
		return s.deps.Transcriber.Transcribe(ctx, utt.Samples())
	})
	if err != nil {
		if errors.Is(turnCtx.Err(), context.Canceled) {
			return // interrupted before any text existed; nothing to rewind
		}
		metrics.Errors.WithLabelValues("asr", "transcribe").Inc()
		s.sendEvent(Event{Type: "error", Code: "backend_transient", Message: err.Error()})
		return
	}
	if strings.TrimSpace(txResult.Text) == "" {
		return // zero-length transcription: no turn appended, no LLM call
	}
	if s.tokenStale(token) {
		return
	}

	s.sendEvent(Event{Type: "transcription", Text: txResult.Text})
	s.engine.AppendUser(txResult.Text)

	sentences := make(chan string, 4)
	var assistantText string
	var ttsStartedLocal bool
	var firstAudioAt time.Time
	llmStart := time.Now()
	var llmEnd time.Time

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		buf := &sentence.Buffer{}
		onDelta := func(delta string) {
			if out, ok := buf.Add(delta); ok {
				select {
				case sentences <- out:
				case <-turnCtx.Done():
				}
			}
		}

		text, streamErr := s.engine.StreamReply(turnCtx, onDelta)
		assistantText = text
		llmEnd = time.Now()

		if last, ok := buf.Flush(); ok {
			select {
			case sentences <- last:
			case <-turnCtx.Done():
			}
		}
		close(sentences)

		if streamErr != nil {
			if errors.Is(streamErr, apperrors.ErrInterrupted) {
				s.engine.RewindOnInterrupt(text)
				return
			}
			metrics.Errors.WithLabelValues("llm", "stream").Inc()
			s.sendEvent(Event{Type: "error", Code: apperrors.Code(streamErr), Message: streamErr.Error()})
			return
		}
		if s.tokenStale(token) {
			return
		}
		s.sendEvent(Event{Type: "llm_response", Text: text})
	}()

	pf := sentence.New(s.deps.Config.PrefetchDepth, s.deps.Synthesizer, s.currentToken)
	go func() {
		defer wg.Done()
		pf.Run(turnCtx, sentences, func(_ context.Context, _ sentence.Chunk, audioBytes []byte, synthErr error) {
			if synthErr != nil {
				metrics.Errors.WithLabelValues("tts", "synthesize").Inc()
				s.sendEvent(Event{Type: "error", Code: "backend_transient", Message: synthErr.Error()})
				return
			}
			if s.tokenStale(token) {
				return
			}
			s.mu.Lock()
			started := s.ttsStarted
			s.ttsStarted = true
			s.mu.Unlock()
			if !started {
				ttsStartedLocal = true
				firstAudioAt = time.Now()
				s.sendEvent(Event{Type: "tts_start", SampleRate: audio.TTSSampleRate})
			}
			s.sendAudio(audioBytes)
		})
	}()

	wg.Wait()

	s.mu.Lock()
	stillStarted := s.ttsStarted
	s.ttsStarted = false
	s.mu.Unlock()

	if !s.tokenStale(token) && stillStarted {
		s.sendEvent(Event{Type: "tts_stop"})
	}

	s.persist()

	if s.deps.Telemetry != nil {
		e2e := time.Since(turnStart)
		var ttsFirstMs float64
		if ttsStartedLocal && !firstAudioAt.IsZero() {
			e2e = firstAudioAt.Sub(turnStart)
			ttsFirstMs = float64(firstAudioAt.Sub(llmStart).Milliseconds())
			metrics.E2EDuration.Observe(e2e.Seconds())
		}
		s.deps.Telemetry.RecordTurn(telemetry.Turn{
			SessionID:   s.id,
			TurnIndex:   turnIdx,
			Transcript:  txResult.Text,
			Response:    assistantText,
			SttMs:       txResult.LatencyMs,
			LlmMs:       float64(llmEnd.Sub(llmStart).Milliseconds()),
			TtsFirstMs:  ttsFirstMs,
			E2EMs:       float64(e2e.Milliseconds()),
			Interrupted: s.tokenStale(token),
		})
	}
}
