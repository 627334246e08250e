package session

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/voicedialog/internal/apperrors"
	"github.com/hubenschmidt/voicedialog/internal/audio"
	"github.com/hubenschmidt/voicedialog/internal/config"
	"github.com/hubenschmidt/voicedialog/internal/dialog"
	"github.com/hubenschmidt/voicedialog/internal/segmenter"
	"github.com/hubenschmidt/voicedialog/internal/store"
	"github.com/hubenschmidt/voicedialog/internal/supervisor"
)

func testConfig() config.Config {
	return config.Config{
		SystemPrompt:    "be helpful",
		MaxHistoryTurns: 10,
		LLMMaxTokens:    200,
		PrefetchDepth:   2,
		SegmenterConfig: segmenter.DefaultConfig(),
	}
}

func newTestSession(t *testing.T, st *store.Store) (*Session, *eventRecorder) {
	t.Helper()
	rec := &eventRecorder{}
	deps := Deps{
		Supervisor: supervisor.New(supervisor.Config{}),
		Store:      st,
		Config:     testConfig(),
	}
	sess := New("sess-1", deps, audio.SampleRate, rec.sendEvent, func([]byte) {})
	return sess, rec
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) sendEvent(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) last() (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return Event{}, false
	}
	return r.events[len(r.events)-1], true
}

func TestInterruptWithNoActiveTurnIsANoop(t *testing.T) {
	sess, rec := newTestSession(t, nil)
	sess.Interrupt()

	_, ok := rec.last()
	assert.False(t, ok, "no tts_stop should be sent when no turn was in flight")
}

func TestInterruptSendsTTSStopWhenTurnWasSpeaking(t *testing.T) {
	sess, rec := newTestSession(t, nil)

	sess.mu.Lock()
	sess.ttsStarted = true
	sess.mu.Unlock()

	sess.Interrupt()

	ev, ok := rec.last()
	require.True(t, ok)
	assert.Equal(t, "tts_stop", ev.Type)
}

func TestInterruptBumpsTokenAndCancelsTurn(t *testing.T) {
	sess, _ := newTestSession(t, nil)

	before := sess.currentToken()

	var cancelled bool
	sess.setTurnCancel(func() { cancelled = true })

	sess.Interrupt()

	assert.Equal(t, before+1, sess.currentToken())
	assert.True(t, cancelled)
}

func TestRequestLoadSessionQueuesThenReportsBusy(t *testing.T) {
	sess, _ := newTestSession(t, nil)

	require.NoError(t, sess.RequestLoadSession("other-session"))
	err := sess.RequestLoadSession("yet-another")
	assert.ErrorIs(t, err, apperrors.ErrBusy)
}

func TestIngestAudioResamplesNonNativeSourceRate(t *testing.T) {
	rec := &eventRecorder{}
	deps := Deps{
		Supervisor: supervisor.New(supervisor.Config{}),
		Config:     testConfig(),
	}
	// 8kHz is half of the native 16kHz rate, so 100 input samples should
	// become 200 samples after IngestAudio resamples them up.
	sess := New("sess-rate", deps, 8000, rec.sendEvent, func([]byte) {})

	samples := make([]float32, 100)
	data := make([]byte, len(samples)*4)
	for i, v := range samples {
		putFloat32LE(data[i*4:], v)
	}

	sess.IngestAudio(data)

	sess.mu.Lock()
	pending := len(sess.pending)
	sess.mu.Unlock()

	if pending != 200 {
		t.Fatalf("expected 200 resampled samples carried as leftover, got %d", pending)
	}
}

func TestIngestAudioReframesAndEmitsNoUtteranceForSilence(t *testing.T) {
	sess, _ := newTestSession(t, nil)

	silence := make([]float32, audio.FrameSamples*3)
	data := make([]byte, len(silence)*4)
	for i, v := range silence {
		putFloat32LE(data[i*4:], v)
	}

	sess.IngestAudio(data)

	select {
	case <-sess.utterances:
		t.Fatal("silence should not emit an utterance")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestPersistSkipsWhenOnlySystemPromptPresent(t *testing.T) {
	st, err := store.New(t.TempDir())
	require.NoError(t, err)

	sess, _ := newTestSession(t, st)
	sess.Close() // persist() with only the system prompt should write nothing

	rec, err := st.Load("sess-1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestPersistWritesHistoryAfterATurn(t *testing.T) {
	st, err := store.New(t.TempDir())
	require.NoError(t, err)

	sess, _ := newTestSession(t, st)
	sess.engine.AppendUser("hello")
	sess.Close()

	rec, err := st.Load("sess-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Len(t, rec.Turns, 1)
	assert.Equal(t, dialog.RoleUser, rec.Turns[0].Role)
}

// putFloat32LE writes v into b as little-endian IEEE-754, matching
// audio.DecodePCM32LE's wire format.
func putFloat32LE(b []byte, v float32) {
	bits := math.Float32bits(v)
	b[0] = byte(bits)
	b[1] = byte(bits >> 8)
	b[2] = byte(bits >> 16)
	b[3] = byte(bits >> 24)
}
