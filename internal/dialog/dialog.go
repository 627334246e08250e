// Package dialog implements spec §4.3's dialog engine: rolling
// conversation history with a pinned system prompt, streamed replies
// against the supervised LLM backend, and rewind-on-interrupt. Grounded
// on team-hashing-lokutor-orchestrator's ConversationSession shape,
// corrected so eviction happens in (user, assistant) pairs and never
// touches the system prompt, which that teacher's flat cap does not do.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hubenschmidt/voicedialog/internal/apperrors"
	"github.com/hubenschmidt/voicedialog/internal/llmclient"
	"github.com/hubenschmidt/voicedialog/internal/retry"
	"github.com/hubenschmidt/voicedialog/internal/supervisor"
)

// Role identifies who spoke a Turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one utterance in the conversation.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"ts"`
}

// Engine owns one session's conversation history and drives the backend.
type Engine struct {
	client       *llmclient.Client
	super        *supervisor.Supervisor
	maxTurns     int
	maxTokens    int
	chunkTimeout time.Duration

	history []Turn // index 0 is always the system prompt
}

// New builds an Engine seeded with systemPrompt at history position 0.
func New(client *llmclient.Client, super *supervisor.Supervisor, systemPrompt string, maxHistoryTurns, maxTokens int, chunkTimeout time.Duration) *Engine {
	return &Engine{
		client:       client,
		super:        super,
		maxTurns:     maxHistoryTurns,
		maxTokens:    maxTokens,
		chunkTimeout: chunkTimeout,
		history:      []Turn{{Role: RoleSystem, Text: systemPrompt, Timestamp: time.Now()}},
	}
}

// History returns a copy of the full turn history, including the system
// prompt at index 0.
func (e *Engine) History() []Turn {
	out := make([]Turn, len(e.history))
	copy(out, e.history)
	return out
}

// LoadHistory replaces the conversation history, keeping the existing
// system prompt at index 0 and appending the loaded turns after it.
func (e *Engine) LoadHistory(turns []Turn) {
	system := e.history[0]
	e.history = append([]Turn{system}, turns...)
}

// AppendUser appends a user turn.
func (e *Engine) AppendUser(text string) {
	e.history = append(e.history, Turn{Role: RoleUser, Text: text, Timestamp: time.Now()})
	e.evictIfNeeded()
}

// StreamReply streams a reply from the backend, invoking onDelta per text
// delta. On successful completion it finalizes an assistant Turn. On
// interruption (ctx cancelled) it does not finalize — the caller is
// expected to call RewindOnInterrupt with whatever partial text it
// tracked, since spec.md requires the partial reply to be recorded as
// what the user actually heard.
func (e *Engine) StreamReply(ctx context.Context, onDelta func(string)) (string, error) {
	if err := e.super.AwaitHealthy(ctx); err != nil {
		return "", err
	}

	result, err := retry.Do(ctx, retry.Policy{
		MaxAttempts: 3,
		Backoff:     retry.Exponential{Base: time.Second, Cap: 4 * time.Second},
		Retryable:   isTransient,
	}, func(ctx context.Context) (llmclient.Result, error) {
		return e.client.StreamChat(ctx, e.toMessages(), e.maxTokens, e.chunkTimeout, onDelta)
	})

	if err != nil {
		if ctx.Err() != nil {
			return result.Text, fmt.Errorf("%w: %v", apperrors.ErrInterrupted, ctx.Err())
		}
		return result.Text, fmt.Errorf("stream reply: %w: %w", apperrors.ErrBackendUnhealthy, err)
	}

	e.history = append(e.history, Turn{Role: RoleAssistant, Text: result.Text, Timestamp: time.Now()})
	e.evictIfNeeded()
	return result.Text, nil
}

// RewindOnInterrupt records whatever partial assistant text had been
// generated before an interrupt as the assistant turn, so the model's
// next turn sees what the user actually heard rather than nothing.
func (e *Engine) RewindOnInterrupt(partialText string) {
	if partialText == "" {
		return
	}
	e.history = append(e.history, Turn{Role: RoleAssistant, Text: partialText, Timestamp: time.Now()})
	e.evictIfNeeded()
}

// evictIfNeeded performs FIFO eviction of the oldest (user, assistant)
// pair once turn count (excluding the system prompt) exceeds maxTurns*2,
// never touching the system prompt at index 0.
func (e *Engine) evictIfNeeded() {
	nonSystem := len(e.history) - 1
	limit := e.maxTurns * 2
	for nonSystem > limit {
		// Drop the oldest user/assistant pair starting right after the
		// system prompt.
		drop := 2
		if nonSystem < 2 {
			drop = nonSystem
		}
		e.history = append([]Turn{e.history[0]}, e.history[1+drop:]...)
		nonSystem = len(e.history) - 1
	}
}

func (e *Engine) toMessages() []llmclient.Message {
	out := make([]llmclient.Message, len(e.history))
	for i, t := range e.history {
		out[i] = llmclient.Message{Role: string(t.Role), Content: t.Text}
	}
	return out
}

// isTransient reports whether err should be retried: 4xx-shaped backend
// responses are bad-request errors and are not retried; everything else
// (network timeout, 5xx, a broken stream) is.
func isTransient(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode >= 500 || apiErr.HTTPStatusCode == 0
	}
	return true
}
