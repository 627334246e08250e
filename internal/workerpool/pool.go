// Package workerpool offers an "await on handle" primitive: blocking work
// submitted here runs on a bounded pool shared across all sessions. The
// session submits STT transcription through it; TTS synthesis and VAD
// scoring are not submitted here and run on the session's own goroutines.
package workerpool

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool bounds concurrent blocking work server-wide.
type Pool struct {
	sem *semaphore.Weighted
}

// New creates a Pool that allows at most size concurrent tasks.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

// Submit blocks until a slot is free (or ctx is cancelled), runs fn, and
// returns its result. This is the uniform synchronous "await on handle"
// call site; callers that need concurrency call Submit from their own
// goroutine.
func Submit[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}
	defer p.sem.Release(1)
	return fn(ctx)
}
