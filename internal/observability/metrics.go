package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	ActiveSessions     prometheus.Gauge
	SessionEvents      *prometheus.CounterVec
	WSMessages         *prometheus.CounterVec
	Evaluations        *prometheus.CounterVec
	Assessments        *prometheus.CounterVec
	UnderstandingCalls *prometheus.CounterVec
	EvaluationLatency  prometheus.Histogram

	stages *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active triage conversations.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		Evaluations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Conversation turn evaluations by outcome.",
		}, []string{"outcome"}),
		Assessments: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assessments_total",
			Help:      "Triage assessments by severity and urgency.",
		}, []string{"severity", "urgency"}),
		UnderstandingCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "understanding_calls_total",
			Help:      "Text understanding calls by purpose and result.",
		}, []string{"purpose", "result"}),
		EvaluationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_latency_ms",
			Help:      "Latency of a full conversation turn evaluation in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}),
		stages: newStageWindow(256),
	}
}

func (m *Metrics) ObserveEvaluation(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Evaluations.WithLabelValues(outcome).Inc()
	m.EvaluationLatency.Observe(float64(d.Microseconds()) / 1000)
	m.stages.Observe("evaluate_"+outcome, float64(d.Microseconds())/1000)
}

func (m *Metrics) ObserveAssessment(severity, urgency string) {
	if m == nil {
		return
	}
	m.Assessments.WithLabelValues(severity, urgency).Inc()
}

// ObserveUnderstanding counts a provider call. result is ok, fallback, or disabled.
func (m *Metrics) ObserveUnderstanding(purpose, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.UnderstandingCalls.WithLabelValues(purpose, result).Inc()
	if result != "disabled" {
		m.stages.Observe("understanding_"+purpose, float64(d.Microseconds())/1000)
	}
	if result == "fallback" {
		m.stages.ObserveIndicator("understanding_fallback")
	}
}

// ObserveStage records a named stage latency in the rolling window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stages.Observe(stage, float64(d.Microseconds())/1000)
}

func (m *Metrics) ObserveIndicator(name string) {
	if m == nil {
		return
	}
	m.stages.ObserveIndicator(name)
}

func (m *Metrics) SnapshotStages() StageSnapshot {
	if m == nil {
		return StageSnapshot{GeneratedAt: time.Now().UTC()}
	}
	return m.stages.Snapshot()
}

func (m *Metrics) ObserveSessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// ResetStages clears the rolling latency window.
func (m *Metrics) ResetStages() {
	if m == nil {
		return
	}
	m.stages.Reset()
}
