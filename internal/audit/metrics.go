package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics observes the audit pipeline.
type Metrics struct {
	EntriesAppended *prometheus.CounterVec
	PersistFailures prometheus.Counter
	PersistDuration prometheus.Histogram
	StreamDropped   prometheus.Counter
	StreamFailures  prometheus.Counter
}

// NewMetrics registers audit metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EntriesAppended: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "remitgate_audit_entries_total",
			Help: "Audit entries durably appended by stage and outcome",
		}, []string{"stage", "success"}),
		PersistFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "remitgate_audit_persist_failures_total",
			Help: "Audit appends that failed to persist",
		}),
		PersistDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "remitgate_audit_persist_duration_seconds",
			Help:    "Latency of durable audit appends",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
		StreamDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "remitgate_audit_stream_dropped_total",
			Help: "Committed entries not streamed because the buffer was full",
		}),
		StreamFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "remitgate_audit_stream_failures_total",
			Help: "Streaming batches that failed to publish",
		}),
	}
}

func (m *Metrics) incAppended(stage Stage, success bool) {
	if m == nil {
		return
	}
	label := "false"
	if success {
		label = "true"
	}
	m.EntriesAppended.WithLabelValues(string(stage), label).Inc()
}

func (m *Metrics) incPersistFailures() {
	if m != nil {
		m.PersistFailures.Inc()
	}
}

func (m *Metrics) observePersist(seconds float64) {
	if m != nil {
		m.PersistDuration.Observe(seconds)
	}
}

func (m *Metrics) incStreamDropped() {
	if m != nil {
		m.StreamDropped.Inc()
	}
}

func (m *Metrics) incStreamFailures() {
	if m != nil {
		m.StreamFailures.Inc()
	}
}
