package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Chunk outcomes
const (
	OutcomeDispatched     = "dispatched"
	OutcomeEmpty          = "empty"
	OutcomeFallback       = "fallback"
	OutcomeFallbackFailed = "fallback_failed"
	OutcomeDiscarded      = "discarded"
	OutcomeDispatchFailed = "dispatch_failed"
	OutcomePanic          = "panic"
)

// Metrics holds all application metrics
type Metrics struct {
	ChunkLatency         prometheus.Histogram
	StageDuration        *prometheus.HistogramVec
	LatencyBudgetOverrun prometheus.Counter
	StageErrors          *prometheus.CounterVec
	ChunksProcessed      *prometheus.CounterVec
	ChunksRejected       *prometheus.CounterVec
	DoubleCompletions    prometheus.Counter
	PipelinePanics       prometheus.Counter

	ActiveCalls      prometheus.Gauge
	OrphanedContexts prometheus.Gauge
	SessionsStarted  prometheus.Counter
	SessionsEnded    *prometheus.CounterVec
	SessionErrors    *prometheus.CounterVec

	ToolInvocations *prometheus.CounterVec

	NotificationsSent    *prometheus.CounterVec
	NotificationsDropped *prometheus.CounterVec

	WebSocketClients   prometheus.Gauge
	MediaStreams       prometheus.Gauge
	WebSocketMessages  *prometheus.CounterVec
	RecordSaveFailures prometheus.Counter

	gatherer prometheus.Gatherer
}

// New registers all collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{
		ChunkLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "convo_chunk_latency_seconds",
			Help:    "Wall-clock time from chunk receipt to reply audio ready",
			Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.75, 1, 2, 5},
		}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "convo_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		LatencyBudgetOverrun: f.NewCounter(prometheus.CounterOpts{
			Name: "convo_latency_budget_overruns_total",
			Help: "Chunks whose end-to-end latency exceeded the target budget",
		}),
		StageErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "convo_stage_errors_total",
			Help: "Adapter failures by stage and kind",
		}, []string{"stage", "kind", "timeout"}),
		ChunksProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "convo_chunks_processed_total",
			Help: "Audio chunks by terminal outcome",
		}, []string{"outcome"}),
		ChunksRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "convo_chunks_rejected_total",
			Help: "Audio chunks refused before processing",
		}, []string{"reason"}),
		DoubleCompletions: f.NewCounter(prometheus.CounterOpts{
			Name: "convo_turn_double_completions_total",
			Help: "Attempts to complete an already terminal turn",
		}),
		PipelinePanics: f.NewCounter(prometheus.CounterOpts{
			Name: "convo_pipeline_panics_total",
			Help: "Recovered panics in chunk processing",
		}),
		ActiveCalls: f.NewGauge(prometheus.GaugeOpts{
			Name: "convo_active_calls",
			Help: "Calls with a live conversation context",
		}),
		OrphanedContexts: f.NewGauge(prometheus.GaugeOpts{
			Name: "convo_orphaned_contexts",
			Help: "Contexts with no activity past the orphan threshold and no end event",
		}),
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "convo_sessions_started_total",
			Help: "Conversations started",
		}),
		SessionsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "convo_sessions_ended_total",
			Help: "Conversations ended by reason",
		}, []string{"reason"}),
		SessionErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "convo_session_errors_total",
			Help: "Session start failures by error",
		}, []string{"error"}),
		ToolInvocations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "convo_tool_invocations_total",
			Help: "Tool invocations by tool and result",
		}, []string{"tool", "success"}),
		NotificationsSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "convo_notifications_sent_total",
			Help: "Notifications accepted for delivery by type",
		}, []string{"type"}),
		NotificationsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "convo_notifications_dropped_total",
			Help: "Notifications dropped by sink",
		}, []string{"sink"}),
		WebSocketClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "convo_websocket_clients",
			Help: "Connected dashboard clients",
		}),
		MediaStreams: f.NewGauge(prometheus.GaugeOpts{
			Name: "convo_media_streams",
			Help: "Connected telephony media streams",
		}),
		WebSocketMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "convo_websocket_messages_total",
			Help: "WebSocket frames by direction",
		}, []string{"direction"}),
		RecordSaveFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "convo_record_save_failures_total",
			Help: "Conversation records that failed to persist",
		}),
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}
	return m
}

// Handler returns an HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
