// Package llmclient streams chat completions from the supervised LLM
// backend, which speaks the OpenAI chat-completions wire format (the
// shape llama.cpp's server and Ollama's OpenAI-compat endpoint both
// expose). It mirrors the gateway's NDJSON streaming consumption shape
// (token callback, latency/time-to-first-token bookkeeping) but drives it
// through go-openai's SSE streaming client rather than a hand-rolled
// bufio.Scanner parser.
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Message is one chat turn handed to the backend.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// TokenCallback receives each text delta as it streams in.
type TokenCallback func(delta string)

// Result summarizes one completed (or interrupted) streaming call.
type Result struct {
	Text               string
	LatencyMs          float64
	TimeToFirstTokenMs float64
}

// Client talks to one OpenAI-chat-completions-compatible backend.
type Client struct {
	api   *openai.Client
	model string
}

// New builds a Client pointed at baseURL (e.g. http://127.0.0.1:8081/v1).
// The backend does not require a real API key, but go-openai's client
// insists on a non-empty token.
func New(baseURL, model string) *Client {
	cfg := openai.DefaultConfig("not-needed")
	cfg.BaseURL = baseURL
	return &Client{api: openai.NewClientWithConfig(cfg), model: model}
}

// ErrChunkTimeout is returned when no token arrives within chunkTimeout of
// the previous one; the caller treats this as a transient backend fault.
var ErrChunkTimeout = errors.New("llm chunk read timed out")

// StreamChat streams a reply for the given history, invoking onToken for
// each delta. It returns once the backend signals completion, ctx is
// cancelled (e.g. by an interrupt), or an error occurs; in all cases the
// partial text accumulated so far is returned alongside the error so
// rewind_on_interrupt can use it. chunkTimeout bounds the gap between
// successive chunks (the inactivity timeout that marks the backend
// unhealthy); zero disables it.
func (c *Client) StreamChat(ctx context.Context, history []Message, maxTokens int, chunkTimeout time.Duration, onToken TokenCallback) (Result, error) {
	start := time.Now()

	req := openai.ChatCompletionRequest{
		Model:     c.model,
		Messages:  toOpenAIMessages(history),
		MaxTokens: maxTokens,
		Stream:    true,
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.api.CreateChatCompletionStream(streamCtx, req)
	if err != nil {
		return Result{}, fmt.Errorf("start chat stream: %w", err)
	}
	defer stream.Close()

	type recvResult struct {
		resp openai.ChatCompletionStreamResponse
		err  error
	}
	recvCh := make(chan recvResult, 1)

	var text string
	var firstTokenAt time.Time

	for {
		go func() {
			resp, err := stream.Recv()
			recvCh <- recvResult{resp: resp, err: err}
		}()

		var timer *time.Timer
		var timeoutCh <-chan time.Time
		if chunkTimeout > 0 {
			timer = time.NewTimer(chunkTimeout)
			timeoutCh = timer.C
		}

		select {
		case <-timeoutCh:
			cancel()
			return Result{Text: text}, ErrChunkTimeout
		case r := <-recvCh:
			if timer != nil {
				timer.Stop()
			}
			if errors.Is(r.err, io.EOF) {
				result := Result{
					Text:      text,
					LatencyMs: float64(time.Since(start).Milliseconds()),
				}
				if !firstTokenAt.IsZero() {
					result.TimeToFirstTokenMs = float64(firstTokenAt.Sub(start).Milliseconds())
				}
				return result, nil
			}
			if r.err != nil {
				if ctx.Err() != nil {
					return Result{Text: text}, ctx.Err()
				}
				return Result{Text: text}, fmt.Errorf("stream recv: %w", r.err)
			}
			if len(r.resp.Choices) == 0 {
				continue
			}
			delta := r.resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			if firstTokenAt.IsZero() {
				firstTokenAt = time.Now()
			}
			text += delta
			onToken(delta)
		}
	}
}

func toOpenAIMessages(history []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(history))
	for i, m := range history {
		out[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return out
}
