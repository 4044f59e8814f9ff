package analysis

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricMessagesAnalyzedTotal    = "analysis_messages_total"
	MetricAnalysisDurationSeconds  = "analysis_duration_seconds"
	MetricAnalysisQueueDepth       = "analysis_queue_depth"
	MetricAnalysisPushesTotal      = "analysis_pushes_total"
	MetricPersistenceFailuresTotal = "analysis_persistence_failures_total"
)

// Outcome labels for analyzed messages.
const (
	OutcomePrimary  = "primary"
	OutcomeFallback = "fallback"
)

// Trigger labels for pushes.
const (
	TriggerThreshold = "threshold"
	TriggerInterval  = "interval"
	TriggerSweep     = "sweep"
	TriggerManual    = "manual"
)

// Metrics contains Prometheus metrics for the analysis pipeline.
// All operations are thread-safe.
type Metrics struct {
	messagesAnalyzed    *prometheus.CounterVec
	analysisDuration    *prometheus.HistogramVec
	queueDepth          prometheus.Gauge
	pushesTotal         *prometheus.CounterVec
	persistenceFailures prometheus.Counter
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register
// them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		messagesAnalyzed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricMessagesAnalyzedTotal,
				Help: "Total number of analyzed messages by analyzer outcome",
			},
			[]string{"outcome"},
		),
		analysisDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricAnalysisDurationSeconds,
				Help:    "Histogram of per-message analysis duration in seconds",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"outcome"},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: MetricAnalysisQueueDepth,
				Help: "Current number of messages waiting in the analysis queue",
			},
		),
		pushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricAnalysisPushesTotal,
				Help: "Total number of stat pushes by trigger",
			},
			[]string{"trigger"},
		),
		persistenceFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricPersistenceFailuresTotal,
				Help: "Total number of failed analysis event or record writes",
			},
		),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.messagesAnalyzed,
		m.analysisDuration,
		m.queueDepth,
		m.pushesTotal,
		m.persistenceFailures,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// RecordAnalyzed records one completed analysis.
func (m *Metrics) RecordAnalyzed(outcome string, seconds float64) {
	m.messagesAnalyzed.WithLabelValues(outcome).Inc()
	m.analysisDuration.WithLabelValues(outcome).Observe(seconds)
}

// SetQueueDepth updates the queue depth gauge.
func (m *Metrics) SetQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

// RecordPush records one stat push.
func (m *Metrics) RecordPush(trigger string) {
	m.pushesTotal.WithLabelValues(trigger).Inc()
}

// RecordPersistenceFailure records one failed durable write.
func (m *Metrics) RecordPersistenceFailure() {
	m.persistenceFailures.Inc()
}
