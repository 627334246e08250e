// Package tts implements the synthesizer adapter of spec §4.5: given
// text, produce PCM16LE mono audio at a fixed sample rate. The primary
// backend invokes the Piper binary over stdin/an output file, the real
// protocol `services/piper/main.go`'s runPiper demonstrates; an HTTP
// fallback (POST text, receive raw audio bytes) is available for
// deployments exposing Piper as a network service instead, matching the
// gateway's TTSClient.
package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/hubenschmidt/voicedialog/internal/audio"
	"github.com/hubenschmidt/voicedialog/internal/metrics"
	"github.com/hubenschmidt/voicedialog/internal/retry"
)

// Result is one synthesized sentence's audio.
type Result struct {
	Audio     []byte // PCM16LE mono at SampleRate
	LatencyMs float64
}

// Synthesizer produces speech audio from text.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (Result, error)
}

// ProcessSynthesizer invokes the configured TTS executable as a
// subprocess per call, writing text to stdin and reading the WAV it
// produces at a temp output path.
type ProcessSynthesizer struct {
	ExePath        string
	ModelPath      string
	SampleRate     int
	PerCallTimeout time.Duration
}

// NewProcessSynthesizer builds a subprocess-backed Synthesizer.
func NewProcessSynthesizer(exePath, modelPath string, perCallTimeout time.Duration) *ProcessSynthesizer {
	return &ProcessSynthesizer{
		ExePath:        exePath,
		ModelPath:      modelPath,
		SampleRate:     audio.TTSSampleRate,
		PerCallTimeout: perCallTimeout,
	}
}

// Synthesize runs the subprocess once per call; wrapped by Retrying for
// the connection/timeout fault policy spec §4.5 requires.
func (p *ProcessSynthesizer) Synthesize(ctx context.Context, text string) (Result, error) {
	start := time.Now()

	callCtx, cancel := context.WithTimeout(ctx, p.PerCallTimeout)
	defer cancel()

	out, err := os.CreateTemp("", "tts-*.wav")
	if err != nil {
		return Result{}, fmt.Errorf("create temp output: %w", err)
	}
	outPath := out.Name()
	out.Close()
	defer os.Remove(outPath)

	cmd := exec.CommandContext(callCtx, p.ExePath,
		"--model", p.ModelPath,
		"--output_file", outPath,
	)
	cmd.Stdin = bytes.NewBufferString(text)

	if combined, err := cmd.CombinedOutput(); err != nil {
		metrics.Errors.WithLabelValues("tts", "process").Inc()
		if ctxErr := callCtx.Err(); ctxErr != nil {
			return Result{}, fmt.Errorf("tts process: %w: %w: %s", ctxErr, err, string(combined))
		}
		return Result{}, fmt.Errorf("tts process: %w: %s", err, string(combined))
	}

	wavBytes, err := os.ReadFile(outPath)
	if err != nil {
		return Result{}, fmt.Errorf("read tts output: %w", err)
	}

	pcm := wavBytes
	if len(wavBytes) > 44 {
		pcm = wavBytes[44:] // strip the RIFF/WAVE header
	}

	latency := time.Since(start)
	metrics.StageDuration.WithLabelValues("tts").Observe(latency.Seconds())

	return Result{Audio: pcm, LatencyMs: float64(latency.Milliseconds())}, nil
}

// HTTPSynthesizer calls an HTTP TTS service (e.g. a networked Piper
// server) instead of spawning a local subprocess per call.
type HTTPSynthesizer struct {
	url    string
	voice  string
	client *http.Client
}

// NewHTTPSynthesizer builds an HTTP-backed Synthesizer.
func NewHTTPSynthesizer(url, voice string, timeout time.Duration) *HTTPSynthesizer {
	return &HTTPSynthesizer{url: url, voice: voice, client: &http.Client{Timeout: timeout}}
}

func (h *HTTPSynthesizer) Synthesize(ctx context.Context, text string) (Result, error) {
	start := time.Now()

	payload := fmt.Sprintf(`{"text":%q,"voice":%q}`, text, h.voice)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url+"/synthesize", bytes.NewBufferString(payload))
	if err != nil {
		return Result{}, fmt.Errorf("build tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("tts", "http").Inc()
		return Result{}, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		metrics.Errors.WithLabelValues("tts", "status").Inc()
		return Result{}, fmt.Errorf("tts status %d: %s", resp.StatusCode, string(body))
	}

	audioBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read tts response: %w", err)
	}

	latency := time.Since(start)
	metrics.StageDuration.WithLabelValues("tts").Observe(latency.Seconds())

	return Result{Audio: audioBytes, LatencyMs: float64(latency.Milliseconds())}, nil
}

// Retrying wraps a Synthesizer with spec §4.5's retry policy: 2 retries,
// fixed 0.5s delay, connection/timeout faults only.
type Retrying struct {
	inner Synthesizer
}

// NewRetrying wraps inner with the fixed-delay retry policy.
func NewRetrying(inner Synthesizer) *Retrying {
	return &Retrying{inner: inner}
}

func (r *Retrying) Synthesize(ctx context.Context, text string) (Result, error) {
	return retry.Do(ctx, retry.Policy{
		MaxAttempts: 3, // one initial attempt + 2 retries
		Backoff:     retry.Fixed(500 * time.Millisecond),
		Retryable:   isConnFault,
	}, func(ctx context.Context) (Result, error) {
		return r.inner.Synthesize(ctx, text)
	})
}

func isConnFault(err error) bool {
	return err != nil && (errors.Is(err, context.DeadlineExceeded) || isNetError(err))
}

func isNetError(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te)
}
