package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting Orchestrator
// runtime metrics, registered with Prometheus's default registry and served
// at /metrics.
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.IterationCompleted("success")
//	defer metrics.ManagerCallDuration("fetch_events").Observe(time.Since(start).Seconds())
type Metrics struct {
	// IterationCounter counts completed iterations by outcome.
	// Labels: outcome (completed|error)
	IterationCounter *prometheus.CounterVec

	// IterationDuration measures one FetchingEvents->Aggregating pass.
	// Buckets: 1s, 5s, 15s, 30s, 1m, 5m, 15m, 30m
	IterationDuration prometheus.Histogram

	// ManagerCallDuration measures one Manager Gateway round-trip.
	// Labels: operation (clarify|plan|fetch_events|aggregate|brief|...)
	ManagerCallDuration *prometheus.HistogramVec

	// ManagerCallCounter counts Manager Gateway round-trips by outcome.
	// Labels: operation, status (success|error)
	ManagerCallCounter *prometheus.CounterVec

	// AssistantTaskCounter counts dispatched Assistant tasks by outcome.
	// Labels: status (succeeded|failed|cancelled)
	AssistantTaskCounter *prometheus.CounterVec

	// AssistantTaskDuration measures one Assistant task's Run call.
	// Buckets: 1s, 5s, 15s, 30s, 1m, 5m, 10m
	AssistantTaskDuration prometheus.Histogram

	// AssistantRetryCounter counts per-task retry attempts.
	AssistantRetryCounter prometheus.Counter

	// QueueDepth is a gauge of the Assistant Pool's pending task count.
	QueueDepth prometheus.Gauge

	// ActiveAssistants is a gauge of currently-running Assistant tasks.
	ActiveAssistants prometheus.Gauge

	// PhaseGauge is a 0/1 gauge per Orchestrator phase, set by setPhase so
	// the current phase can be read off /metrics without scraping events.
	// Labels: phase
	PhaseGauge *prometheus.GaugeVec

	// RestDuration measures how long each rest period actually ran before
	// it ended (normally, overridden, or woken early).
	// Buckets: 1s, 5s, 30s, 1m, 5m, 15m, 30m, 1h
	RestDuration prometheus.Histogram

	// ManagerReconnectCounter counts Manager-session reconnect attempts.
	// Labels: outcome (success|error)
	ManagerReconnectCounter *prometheus.CounterVec

	// LearningsRecorded counts newly-recorded learnings across iterations.
	LearningsRecorded prometheus.Counter
}

// NewMetrics registers and returns a fresh Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		IterationCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opscore_iterations_total",
				Help: "Total number of iterations completed by outcome",
			},
			[]string{"outcome"},
		),
		IterationDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "opscore_iteration_duration_seconds",
				Help:    "Duration of a FetchingEvents through Aggregating pass",
				Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800},
			},
		),
		ManagerCallDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "opscore_manager_call_duration_seconds",
				Help:    "Duration of a Manager Gateway round-trip",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"operation"},
		),
		ManagerCallCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opscore_manager_calls_total",
				Help: "Total Manager Gateway round-trips by operation and status",
			},
			[]string{"operation", "status"},
		),
		AssistantTaskCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opscore_assistant_tasks_total",
				Help: "Total Assistant tasks dispatched by outcome",
			},
			[]string{"status"},
		),
		AssistantTaskDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "opscore_assistant_task_duration_seconds",
				Help:    "Duration of one Assistant task's Run call",
				Buckets: []float64{1, 5, 15, 30, 60, 300, 600},
			},
		),
		AssistantRetryCounter: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "opscore_assistant_retries_total",
				Help: "Total Assistant task retry attempts",
			},
		),
		QueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "opscore_queue_depth",
				Help: "Current number of pending Assistant tasks",
			},
		),
		ActiveAssistants: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "opscore_active_assistants",
				Help: "Current number of running Assistant tasks",
			},
		),
		PhaseGauge: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "opscore_phase",
				Help: "1 for the Orchestrator's current phase, 0 otherwise",
			},
			[]string{"phase"},
		),
		RestDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "opscore_rest_duration_seconds",
				Help:    "Duration a rest period actually ran before ending",
				Buckets: []float64{1, 5, 30, 60, 300, 900, 1800, 3600},
			},
		),
		ManagerReconnectCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opscore_manager_reconnects_total",
				Help: "Total Manager session reconnect attempts by outcome",
			},
			[]string{"outcome"},
		),
		LearningsRecorded: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "opscore_learnings_recorded_total",
				Help: "Total newly-recorded learnings across iterations",
			},
		),
	}
}

// IterationCompleted records one iteration's outcome.
func (m *Metrics) IterationCompleted(outcome string) {
	m.IterationCounter.WithLabelValues(outcome).Inc()
}

// ManagerCall records one Manager Gateway round-trip's outcome and latency.
func (m *Metrics) ManagerCall(operation, status string, durationSeconds float64) {
	m.ManagerCallCounter.WithLabelValues(operation, status).Inc()
	m.ManagerCallDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// AssistantTaskFinished records one Assistant task's outcome and duration.
func (m *Metrics) AssistantTaskFinished(status string, durationSeconds float64) {
	m.AssistantTaskCounter.WithLabelValues(status).Inc()
	m.AssistantTaskDuration.Observe(durationSeconds)
}

// AssistantRetried records a single retry attempt.
func (m *Metrics) AssistantRetried() {
	m.AssistantRetryCounter.Inc()
}

// SetQueueDepth reports the Assistant Pool's current pending count.
func (m *Metrics) SetQueueDepth(n int) {
	m.QueueDepth.Set(float64(n))
}

// SetActiveAssistants reports the Assistant Pool's current running count.
func (m *Metrics) SetActiveAssistants(n int) {
	m.ActiveAssistants.Set(float64(n))
}

// PhaseChanged zeroes the previous phase's gauge and sets the new one.
func (m *Metrics) PhaseChanged(from, to string) {
	if from != "" {
		m.PhaseGauge.WithLabelValues(from).Set(0)
	}
	m.PhaseGauge.WithLabelValues(to).Set(1)
}

// RestEnded records how long a rest period actually ran.
func (m *Metrics) RestEnded(durationSeconds float64) {
	m.RestDuration.Observe(durationSeconds)
}

// ManagerReconnect records one reconnect attempt's outcome.
func (m *Metrics) ManagerReconnect(outcome string) {
	m.ManagerReconnectCounter.WithLabelValues(outcome).Inc()
}

// LearningRecorded records one newly-folded-in learning.
func (m *Metrics) LearningRecorded() {
	m.LearningsRecorded.Inc()
}
