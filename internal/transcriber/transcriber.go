// Package transcriber implements spec §4.2's single-operation contract:
// transcribe(utterance) -> text, against an HTTP multipart STT backend
// (the shape whisper.cpp's server exposes). Grounded directly on the
// gateway's ASRClient.
package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/hubenschmidt/voicedialog/internal/audio"
	"github.com/hubenschmidt/voicedialog/internal/metrics"
)

// Result is one transcription's output.
type Result struct {
	Text      string
	LatencyMs float64
}

// Transcriber is the single-operation STT contract of spec §4.2.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32) (Result, error)
}

// HTTPTranscriber posts WAV-wrapped audio to a whisper.cpp-server-shaped
// `/inference` endpoint.
type HTTPTranscriber struct {
	url    string
	client *http.Client
}

// New builds an HTTPTranscriber.
func New(url string, timeout time.Duration) *HTTPTranscriber {
	return &HTTPTranscriber{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Transcribe sends float32 samples (16kHz mono) and returns the best
// hypothesis as a trimmed string, possibly empty. It never blocks the
// caller's event loop directly — callers are expected to invoke it
// through internal/workerpool.
func (c *HTTPTranscriber) Transcribe(ctx context.Context, samples []float32) (Result, error) {
	start := time.Now()

	body, contentType, err := buildMultipartAudio(samples)
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/inference", body)
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("asr", "http").Inc()
		return Result{}, fmt.Errorf("asr request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		metrics.Errors.WithLabelValues("asr", "status").Inc()
		return Result{}, fmt.Errorf("asr status %d: %s", resp.StatusCode, string(respBody))
	}

	var decoded sttResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Result{}, fmt.Errorf("decode asr response: %w", err)
	}

	latency := time.Since(start)
	metrics.StageDuration.WithLabelValues("asr").Observe(latency.Seconds())

	return Result{Text: strings.TrimSpace(decoded.Text), LatencyMs: float64(latency.Milliseconds())}, nil
}

type sttResponse struct {
	Text string `json:"text"`
}

func buildMultipartAudio(samples []float32) (*bytes.Buffer, string, error) {
	wavData := audio.SamplesToWAV(samples, audio.SampleRate)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err = part.Write(wavData); err != nil {
		return nil, "", fmt.Errorf("write wav data: %w", err)
	}
	if err = writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close writer: %w", err)
	}

	return &body, writer.FormDataContentType(), nil
}
