// Package metrics holds the server's Prometheus collectors. Trimmed from
// the gateway's metrics set to the stages this domain actually has: no
// retrieval/embedding pipeline exists here, so those collectors are gone.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voicedialog_sessions_active",
		Help: "Currently connected voice sessions",
	})

	SessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicedialog_sessions_total",
		Help: "Total voice sessions accepted",
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voicedialog_stage_duration_seconds",
		Help:    "Per-stage latency (asr, llm, tts)",
		Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 2.0, 5.0},
	}, []string{"stage"})

	E2EDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voicedialog_e2e_duration_seconds",
		Help:    "End-to-end latency from speech-end to first TTS audio",
		Buckets: []float64{0.1, 0.2, 0.5, 0.8, 1.0, 1.5, 2.0, 3.0, 5.0},
	})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicedialog_errors_total",
		Help: "Error counts by stage and error kind",
	}, []string{"stage", "error_type"})

	AudioFramesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicedialog_audio_frames_ingested_total",
		Help: "Total fixed-size audio frames processed by the segmenter",
	})

	UtterancesEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicedialog_utterances_emitted_total",
		Help: "Utterances emitted by the segmenter",
	})

	Interrupts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicedialog_interrupts_total",
		Help: "Barge-in interrupts handled",
	})

	SupervisorRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicedialog_supervisor_restarts_total",
		Help: "LLM backend process restarts performed by the supervisor",
	})

	PrefetchQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voicedialog_prefetch_queue_depth",
		Help: "Current depth of the sentence prefetch queue",
	})
)
