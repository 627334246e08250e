// Command server runs the voice dialogue gateway: it supervises the LLM
// backend, accepts WebSocket audio sessions at /ws/audio, and exposes
// /health and /metrics. Grounded on the gateway's cmd/gateway/main.go
// (slog setup, env-driven wiring, signal-driven graceful shutdown),
// trimmed of the multi-provider agent router and service orchestrator
// this domain has no use for, and extended with the process supervisor
// spec.md's exit-code contract requires.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hubenschmidt/voicedialog/internal/config"
	"github.com/hubenschmidt/voicedialog/internal/llmclient"
	"github.com/hubenschmidt/voicedialog/internal/session"
	"github.com/hubenschmidt/voicedialog/internal/store"
	"github.com/hubenschmidt/voicedialog/internal/supervisor"
	"github.com/hubenschmidt/voicedialog/internal/telemetry"
	"github.com/hubenschmidt/voicedialog/internal/transcriber"
	"github.com/hubenschmidt/voicedialog/internal/tts"
	"github.com/hubenschmidt/voicedialog/internal/workerpool"
	"github.com/hubenschmidt/voicedialog/internal/wsserver"
)

const (
	exitOK                   = 0
	exitConfigError          = 2
	exitBackendDeadAtStartup = 3
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("loading .env", "error", err)
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("configuration invalid", "error", err)
		os.Exit(exitConfigError)
	}

	sess, err := sessionFactory(cfg)
	if err != nil {
		slog.Error("startup failed", "error", err)
		os.Exit(exitBackendDeadAtStartup)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws/audio", wsserver.New(sess.newSession))
	mux.HandleFunc("/health", sess.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	addr := cfg.ServerHost + ":" + cfg.ServerPort
	srv := &http.Server{Addr: addr, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if runErr := sess.supervisor.Run(ctx); runErr != nil {
			slog.Warn("supervisor stopped", "error", runErr)
		}
	}()

	startupCtx, cancelStartup := context.WithTimeout(ctx, cfg.StartupTimeout+5*time.Second)
	startupErr := sess.supervisor.AwaitHealthy(startupCtx)
	cancelStartup()
	if startupErr != nil {
		slog.Error("llm backend failed to become healthy at startup", "error", startupErr)
		os.Exit(exitBackendDeadAtStartup)
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("server starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(exitConfigError)
	}

	if sess.telemetry != nil {
		if closer, ok := sess.telemetry.(*telemetry.Store); ok {
			closer.Close()
		}
	}

	slog.Info("server stopped")
	os.Exit(exitOK)
}

// factory holds the process-wide collaborators and builds one Session
// per accepted WebSocket connection.
type factory struct {
	deps       session.Deps
	supervisor *supervisor.Supervisor
	telemetry  telemetry.Recorder
}

func sessionFactory(cfg config.Config) (*factory, error) {
	super := supervisor.New(supervisor.Config{
		ExePath:             cfg.LlamaExePath,
		ModelPath:           cfg.LlamaModelPath,
		Args:                splitArgs(cfg.LlamaArgs),
		HealthURL:           cfg.LlamaHealthURL,
		StartupTimeout:      cfg.StartupTimeout,
		HealthInterval:      cfg.HealthInterval,
		HealthTimeout:       cfg.HealthTimeout,
		MaxConsecutiveFail:  cfg.MaxConsecutiveFail,
		MaxRestarts:         cfg.MaxRestarts,
		GracefulStopTimeout: 5 * time.Second,
	})

	llmClient := llmclient.New(cfg.LlamaChatURL, "local")

	sttClient := transcriber.New(cfg.WhisperServerURL, 30*time.Second)

	var synth tts.Synthesizer
	if cfg.PiperHTTPURL != "" {
		synth = tts.NewRetrying(tts.NewHTTPSynthesizer(cfg.PiperHTTPURL, "en_US-lessac-medium", cfg.TTSSentenceTimeout))
	} else {
		synth = tts.NewRetrying(tts.NewProcessSynthesizer(cfg.PiperExePath, cfg.PiperModelPath, cfg.TTSSentenceTimeout))
	}

	sessionStore, err := store.New(cfg.SessionStoreDir)
	if err != nil {
		return nil, err
	}

	var rec telemetry.Recorder = telemetry.NewNoop()
	if cfg.TraceDatabaseURL != "" {
		tstore, openErr := telemetry.Open(cfg.TraceDatabaseURL, slog.Default())
		if openErr != nil {
			slog.Warn("telemetry disabled: open failed", "error", openErr)
		} else {
			rec = tstore
		}
	}

	f := &factory{
		deps: session.Deps{
			Transcriber: sttClient,
			Synthesizer: synth,
			Supervisor:  super,
			LLMClient:   llmClient,
			Store:       sessionStore,
			Telemetry:   rec,
			WorkerPool:  workerpool.New(cfg.WorkerPoolSize),
			Config:      cfg,
		},
		supervisor: super,
		telemetry:  rec,
	}
	return f, nil
}

func (f *factory) newSession(id string, sourceSampleRate int, sendEvent session.EventSender, sendAudio session.AudioSender) *session.Session {
	return session.New(id, f.deps, sourceSampleRate, sendEvent, sendAudio)
}

type healthResponse struct {
	Status  string `json:"status"`
	Backend string `json:"backend"`
}

func (f *factory) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if !f.supervisor.IsHealthy() {
		status = "degraded"
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{Status: status, Backend: f.supervisor.Summary()})
}

func splitArgs(s string) []string {
	return strings.Fields(s)
}
