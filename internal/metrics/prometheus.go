package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice gateway
type Metrics struct {
	// Connection metrics
	ActiveSessions      prometheus.Gauge
	SessionsAdmitted    prometheus.Counter
	HandshakeRejections *prometheus.CounterVec

	// Inbound traffic
	FramesReceived    prometheus.Counter
	FramesDropped     prometheus.Counter
	MalformedMessages prometheus.Counter
	Flushes           *prometheus.CounterVec
	FlushSize         prometheus.Histogram

	// Responses
	ResponsesStarted  prometheus.Counter
	ResponsesAborted  prometheus.Counter
	ResponsesRejected prometheus.Counter
	AudioFramesSent   prometheus.Counter

	// Pipeline
	StageDuration *prometheus.HistogramVec
	StageFailures *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh
// prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_active_sessions",
			Help: "Current number of admitted sessions",
		}),
		SessionsAdmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_sessions_admitted_total",
			Help: "Total number of sessions admitted after handshake",
		}),
		HandshakeRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_handshake_rejections_total",
			Help: "Total number of rejected handshakes by reason",
		}, []string{"reason"}),

		FramesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_audio_frames_received_total",
			Help: "Total number of audio frames accepted into session buffers",
		}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_audio_frames_dropped_total",
			Help: "Total number of audio frames received while not listening",
		}),
		MalformedMessages: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_malformed_messages_total",
			Help: "Total number of inbound messages rejected by the codec",
		}),
		Flushes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_buffer_flushes_total",
			Help: "Total number of audio buffer flushes by trigger",
		}, []string{"trigger"}),
		FlushSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_buffer_flush_frames",
			Help:    "Number of frames handed to the pipeline per flush",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8), // 1 to 128 frames
		}),

		ResponsesStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_responses_started_total",
			Help: "Total number of responses taken off the session queue",
		}),
		ResponsesAborted: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_responses_aborted_total",
			Help: "Total number of responses cancelled by abort",
		}),
		ResponsesRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_responses_rejected_total",
			Help: "Total number of responses rejected because the session queue was full",
		}),
		AudioFramesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_audio_frames_sent_total",
			Help: "Total number of synthesized audio frames sent to clients",
		}),

		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_pipeline_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		}, []string{"stage"}),
		StageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_pipeline_stage_failures_total",
			Help: "Total number of pipeline stage failures",
		}, []string{"stage"}),
	}
}

// NewNop returns metrics registered on a private registry, for tests and tools
func NewNop() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
