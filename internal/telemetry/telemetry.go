// Package telemetry records per-turn latency breakdowns (the
// supplemented metric of spec §8) to an optional Postgres database.
// Grounded on the gateway's internal/trace/store.go: same
// sql.Open("pgx", ...)/schema_version migration shape, trimmed from
// Session/Run/Span to a single flat turns table, since this domain has
// no nested span tree, only the fixed STT/LLM/TTS/E2E breakdown spec.md
// names. Recording never sits on the request's critical path: Recorder
// hands turns to a bounded background worker and drops them under
// backpressure rather than block the caller.
package telemetry

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Turn is one turn's latency breakdown, recorded after the reply (or
// the interrupt) completes.
type Turn struct {
	SessionID   string
	TurnIndex   int
	Transcript  string
	Response    string
	SttMs       float64
	TTFTMs      float64 // time to first LLM token
	LlmMs       float64 // full LLM completion latency
	TtsFirstMs  float64 // time to first synthesized audio chunk
	E2EMs       float64 // utterance end to first audio out (whole turn if no audio was sent)
	Interrupted bool
}

// Recorder accepts completed turns for durable recording. It is always
// safe to call, even when telemetry is disabled: RecordTurn never
// blocks and never returns an error to the caller.
type Recorder interface {
	RecordTurn(t Turn)
	Close()
}

// noop is the Recorder used when TRACE_DATABASE_URL is unset.
type noop struct{}

func (noop) RecordTurn(Turn) {}
func (noop) Close()          {}

// NewNoop returns a Recorder that discards everything.
func NewNoop() Recorder { return noop{} }

// Store is a Postgres-backed Recorder.
type Store struct {
	db     *sql.DB
	turns  chan Turn
	done   chan struct{}
	logger *slog.Logger
}

const queueDepth = 64

// Open connects to a Postgres trace database at connStr, migrates it,
// and starts the background writer. The caller must call Close on
// shutdown to drain in-flight writes.
func Open(connStr string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("telemetry open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("telemetry ping: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("telemetry migrate: %w", err)
	}

	s := &Store{
		db:     db,
		turns:  make(chan Turn, queueDepth),
		done:   make(chan struct{}),
		logger: logger,
	}
	go s.run()
	return s, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`)
	if err != nil {
		return err
	}

	var current int
	row := db.QueryRow(`SELECT COALESCE(MAX(version), -1) FROM schema_version`)
	if err := row.Scan(&current); err != nil {
		return err
	}

	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	for i := current + 1; i < len(entries); i++ {
		data, readErr := migrationFS.ReadFile("migrations/" + entries[i].Name())
		if readErr != nil {
			return fmt.Errorf("read migration %d: %w", i, readErr)
		}
		if _, execErr := db.Exec(string(data)); execErr != nil {
			return fmt.Errorf("migration %d: %w", i, execErr)
		}
		if _, execErr := db.Exec(`INSERT INTO schema_version (version) VALUES ($1)`, i); execErr != nil {
			return fmt.Errorf("migration %d record: %w", i, execErr)
		}
	}
	return nil
}

// RecordTurn enqueues t for durable recording. If the queue is full the
// turn is dropped and logged: telemetry is best-effort and must never
// make the caller wait on a database write.
func (s *Store) RecordTurn(t Turn) {
	select {
	case s.turns <- t:
	default:
		s.logger.Warn("telemetry queue full, dropping turn", "session_id", t.SessionID, "turn_index", t.TurnIndex)
	}
}

// Close drains the queue and closes the database connection.
func (s *Store) Close() {
	close(s.turns)
	<-s.done
	s.db.Close()
}

func (s *Store) run() {
	defer close(s.done)
	for t := range s.turns {
		if err := s.insert(context.Background(), t); err != nil {
			s.logger.Warn("telemetry insert failed", "session_id", t.SessionID, "error", err)
		}
	}
}

func (s *Store) insert(ctx context.Context, t Turn) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turns (session_id, turn_index, transcript, response, stt_ms, ttft_ms, llm_ms, tts_first_ms, e2e_ms, interrupted, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.SessionID, t.TurnIndex, t.Transcript, t.Response,
		t.SttMs, t.TTFTMs, t.LlmMs, t.TtsFirstMs, t.E2EMs, t.Interrupted,
		time.Now().UTC(),
	)
	return err
}
