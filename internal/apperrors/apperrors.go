// Package apperrors holds the sentinel errors making up the error
// taxonomy of spec §7: transient external, permanent external, backend
// unavailable, protocol, cancellation, and fatal.
package apperrors

import "errors"

var (
	// ErrEmptyTranscription is returned when the transcriber produces no
	// usable text; the turn is dropped silently, not surfaced as an error.
	ErrEmptyTranscription = errors.New("empty transcription")

	// ErrBackendUnavailable is raised once the supervisor has exhausted
	// its restart budget; subsequent LLM calls fail immediately with this.
	ErrBackendUnavailable = errors.New("llm backend permanently unavailable")

	// ErrBackendUnhealthy means the health gate reports unhealthy right
	// now; callers should not invoke the backend until it clears.
	ErrBackendUnhealthy = errors.New("llm backend unhealthy")

	// ErrInterrupted marks a stage result that lost the race against an
	// interrupt; it is cancellation, not failure, and must never be
	// logged at error level.
	ErrInterrupted = errors.New("cancelled by interrupt")

	// ErrStaleResult is returned when a stage's completion carries an
	// InterruptToken generation older than the session's current one.
	ErrStaleResult = errors.New("stale result discarded")

	// ErrProtocol marks a malformed client frame; the frame is dropped,
	// an error frame is sent, the session continues.
	ErrProtocol = errors.New("protocol error")

	// ErrBusy is sent to the client when a load_session arrives while one
	// is already queued mid-turn.
	ErrBusy = errors.New("session busy")

	// ErrSessionNotFound means a load_session/hello named a session id
	// with no persisted file. On hello the session simply starts empty; on
	// load_session an error frame is sent and the current history is kept.
	ErrSessionNotFound = errors.New("session not found")
)

// Code maps a sentinel error (or a wrapped one) to the wire-level error
// frame code sent to the client.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrBackendUnavailable):
		return "backend_unavailable"
	case errors.Is(err, ErrBackendUnhealthy):
		return "backend_transient"
	case errors.Is(err, ErrProtocol):
		return "protocol_error"
	case errors.Is(err, ErrBusy):
		return "busy"
	default:
		return "internal_error"
	}
}
