package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the compliance gate.
type Metrics struct {
	Decisions       *prometheus.CounterVec
	RiskScore       prometheus.Histogram
	LookupLatency   *prometheus.HistogramVec
	EvaluateLatency prometheus.Histogram
}

// New registers compliance metrics on the default registerer.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers compliance metrics on reg.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "remitgate_compliance_decisions_total",
			Help: "Compliance verdicts by stage and outcome",
		}, []string{"stage", "outcome"}), // outcome: "allow", "deny"

		RiskScore: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "remitgate_compliance_risk_score",
			Help:    "Distribution of computed AML risk scores",
			Buckets: []float64{0, 15, 20, 25, 40, 55, 70, 85, 100},
		}),

		LookupLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "remitgate_compliance_lookup_duration_seconds",
			Help:    "Duration of profile and flag lookups by source",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		}, []string{"source"}), // source: "profile", "sender_flag", "recipient_flag"

		EvaluateLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "remitgate_compliance_evaluate_duration_seconds",
			Help:    "Duration of a full gate evaluation",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// IncrementDecision records a verdict.
func (m *Metrics) IncrementDecision(stage string, allowed bool) {
	if m == nil {
		return
	}
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	m.Decisions.WithLabelValues(stage, outcome).Inc()
}

// ObserveRiskScore records a computed score.
func (m *Metrics) ObserveRiskScore(score int) {
	if m != nil {
		m.RiskScore.Observe(float64(score))
	}
}

// ObserveLookupLatency records the duration of a lookup against source.
func (m *Metrics) ObserveLookupLatency(source string, d time.Duration) {
	if m != nil {
		m.LookupLatency.WithLabelValues(source).Observe(d.Seconds())
	}
}

// ObserveEvaluateLatency records the total evaluation duration.
func (m *Metrics) ObserveEvaluateLatency(d time.Duration) {
	if m != nil {
		m.EvaluateLatency.Observe(d.Seconds())
	}
}
