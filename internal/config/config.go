// Package config loads the server's typed configuration from environment
// variables, following the gateway's envStr/envInt/envFloat convention:
// every setting is a named struct field, never a dynamic map, so unknown
// environment variables are silently ignored rather than producing a
// surprise dictionary entry.
package config

import (
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/hubenschmidt/voicedialog/internal/prompts"
	"github.com/hubenschmidt/voicedialog/internal/segmenter"
)

// Config is the fully resolved server configuration.
type Config struct {
	ServerHost string
	ServerPort string

	LlamaExePath   string
	LlamaModelPath string
	LlamaArgs      string
	LlamaHealthURL string
	LlamaChatURL   string

	WhisperServerURL string

	PiperExePath   string
	PiperModelPath string
	PiperHTTPURL   string // optional HTTP fallback instead of subprocess

	SystemPrompt     string
	MaxHistoryTurns  int
	LLMMaxTokens     int
	PrefetchDepth    int
	WorkerPoolSize   int
	SessionStoreDir  string
	TraceDatabaseURL string

	SegmenterConfig segmenter.Config

	StartupTimeout     time.Duration
	HealthInterval     time.Duration
	HealthTimeout      time.Duration
	MaxConsecutiveFail int
	MaxRestarts        int

	TTSSentenceTimeout time.Duration
	LLMChunkTimeout    time.Duration
}

// Load resolves configuration from the current environment. Callers
// should load a .env file (if present) into the environment before
// calling Load, so real environment variables still take precedence.
func Load() Config {
	seg := segmenter.DefaultConfig()
	seg.SpeechThreshold = envFloat("VAD_SPEECH_THRESHOLD", seg.SpeechThreshold)
	seg.SilenceFramesRequired = envInt("VAD_SILENCE_FRAMES_REQUIRED", seg.SilenceFramesRequired)
	seg.MinUtteranceFrames = envInt("VAD_MIN_UTTERANCE_FRAMES", seg.MinUtteranceFrames)
	seg.MaxUtteranceFrames = envInt("VAD_MAX_UTTERANCE_FRAMES", seg.MaxUtteranceFrames)
	seg.PrerollFrames = envInt("VAD_PREROLL_FRAMES", seg.PrerollFrames)

	return Config{
		ServerHost: envStr("SERVER_HOST", "0.0.0.0"),
		ServerPort: envStr("SERVER_PORT", "8080"),

		LlamaExePath:   envStr("LLAMA_EXE_PATH", ""),
		LlamaModelPath: envStr("LLAMA_MODEL_PATH", ""),
		LlamaArgs:      envStr("LLAMA_ARGS", ""),
		LlamaHealthURL: envStr("LLAMA_HEALTH_URL", "http://127.0.0.1:8081/health"),
		LlamaChatURL:   envStr("LLAMA_CHAT_URL", "http://127.0.0.1:8081/v1"),

		WhisperServerURL: envStr("WHISPER_SERVER_URL", "http://127.0.0.1:8082"),

		PiperExePath:   envStr("PIPER_EXE_PATH", ""),
		PiperModelPath: envStr("PIPER_MODEL_PATH", ""),
		PiperHTTPURL:   envStr("PIPER_HTTP_URL", ""),

		SystemPrompt:     envStr("LLM_SYSTEM_PROMPT", prompts.DefaultSystem),
		MaxHistoryTurns:  envInt("MAX_HISTORY_TURNS", 20),
		LLMMaxTokens:     envInt("LLM_MAX_TOKENS", 300),
		PrefetchDepth:    envInt("PREFETCH_DEPTH", 2),
		WorkerPoolSize:   envInt("WORKER_POOL_SIZE", 2*runtime.NumCPU()),
		SessionStoreDir:  envStr("SESSION_STORE_DIR", "sessions"),
		TraceDatabaseURL: envStr("TRACE_DATABASE_URL", ""),

		SegmenterConfig: seg,

		StartupTimeout:     envDuration("SUPERVISOR_STARTUP_TIMEOUT", 60*time.Second),
		HealthInterval:     envDuration("SUPERVISOR_HEALTH_INTERVAL", 30*time.Second),
		HealthTimeout:      envDuration("SUPERVISOR_HEALTH_TIMEOUT", 5*time.Second),
		MaxConsecutiveFail: envInt("SUPERVISOR_MAX_CONSECUTIVE_FAIL", 3),
		MaxRestarts:        envInt("SUPERVISOR_MAX_RESTARTS", 5),

		TTSSentenceTimeout: envDuration("TTS_SENTENCE_TIMEOUT", 15*time.Second),
		LLMChunkTimeout:    envDuration("LLM_CHUNK_TIMEOUT", 30*time.Second),
	}
}

// Validate checks the configuration invariants the server cannot start
// without: an LLM backend and a TTS backend must each be reachable
// somehow (subprocess or HTTP fallback).
func (c Config) Validate() error {
	if c.LlamaExePath == "" || c.LlamaModelPath == "" {
		return errMissingPath("LLAMA_EXE_PATH/LLAMA_MODEL_PATH")
	}
	if c.PiperHTTPURL == "" && (c.PiperExePath == "" || c.PiperModelPath == "") {
		return errMissingPath("PIPER_EXE_PATH/PIPER_MODEL_PATH or PIPER_HTTP_URL")
	}
	return nil
}

type configError string

func (e configError) Error() string { return string(e) }

func errMissingPath(which string) error {
	return configError("missing required configuration: " + which)
}

func envStr(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}
