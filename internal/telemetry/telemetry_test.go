package telemetry

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoopRecorderDiscardsSilently(t *testing.T) {
	var r Recorder = NewNoop()
	r.RecordTurn(Turn{SessionID: "abc", TurnIndex: 1})
	r.Close() // must not panic
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecordTurnDropsWhenQueueFull(t *testing.T) {
	s := &Store{
		turns:  make(chan Turn, 1),
		done:   make(chan struct{}),
		logger: discardLogger(),
	}

	s.RecordTurn(Turn{SessionID: "a", TurnIndex: 0})
	s.RecordTurn(Turn{SessionID: "b", TurnIndex: 1}) // queue full, should be dropped, not block

	assert.Len(t, s.turns, 1)
	queued := <-s.turns
	assert.Equal(t, "a", queued.SessionID, "the first enqueued turn should survive, the second should be dropped")
}
