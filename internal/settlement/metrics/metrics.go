package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for settlement, reconciliation and the
// ledger event relay.
type Metrics struct {
	Outcomes      *prometheus.CounterVec
	Latency       *prometheus.HistogramVec
	LedgerWait    *prometheus.HistogramVec
	Indeterminate *prometheus.CounterVec
	Reconciled    *prometheus.CounterVec
	PendingGauge  prometheus.Gauge
	QueueFailures *prometheus.CounterVec
	RelayedEvents *prometheus.CounterVec
	RelayCursor   prometheus.Gauge
}

// New registers settlement metrics on the default registerer.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers settlement metrics on reg.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "remitgate_settlement_outcomes_total",
			Help: "Settlement results by operation, outcome and terminal stage",
		}, []string{"operation", "outcome", "stage"}), // operation: "settle", "release"

		Latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "remitgate_settlement_duration_seconds",
			Help:    "End-to-end duration of settle and release calls",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"operation"}),

		LedgerWait: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "remitgate_ledger_confirmation_duration_seconds",
			Help:    "Time spent waiting for ledger finality by step",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"step"}), // step: "authorize", "deposit", "withdraw"

		Indeterminate: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "remitgate_ledger_indeterminate_total",
			Help: "Submissions whose confirmation wait expired",
		}, []string{"step"}),

		Reconciled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "remitgate_reconciled_submissions_total",
			Help: "Indeterminate submissions resolved by the reconciler",
		}, []string{"op", "status"}), // status: "success", "reverted"

		PendingGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "remitgate_pending_submissions",
			Help: "Submissions awaiting reconciliation at the last pass",
		}),

		QueueFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "remitgate_pending_queue_failures_total",
			Help: "Indeterminate submissions that could not be queued for reconciliation",
		}, []string{"op"}),

		RelayedEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "remitgate_ledger_events_relayed_total",
			Help: "Ledger notifications relayed by kind",
		}, []string{"kind"}),

		RelayCursor: factory.NewGauge(prometheus.GaugeOpts{
			Name: "remitgate_ledger_event_cursor",
			Help: "Ledger position the event relay resumes from",
		}),
	}
}

func (m *Metrics) IncrementOutcome(operation, outcome, stage string) {
	if m != nil {
		m.Outcomes.WithLabelValues(operation, outcome, stage).Inc()
	}
}

func (m *Metrics) ObserveLatency(operation string, d time.Duration) {
	if m != nil {
		m.Latency.WithLabelValues(operation).Observe(d.Seconds())
	}
}

// ObserveLedgerWait records how long a confirmation wait took.
func (m *Metrics) ObserveLedgerWait(step string, d time.Duration) {
	if m != nil {
		m.LedgerWait.WithLabelValues(step).Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementIndeterminate(step string) {
	if m != nil {
		m.Indeterminate.WithLabelValues(step).Inc()
	}
}

func (m *Metrics) IncrementReconciled(op, status string) {
	if m != nil {
		m.Reconciled.WithLabelValues(op, status).Inc()
	}
}

func (m *Metrics) SetPending(n int) {
	if m != nil {
		m.PendingGauge.Set(float64(n))
	}
}

func (m *Metrics) IncrementRelayed(kind string) {
	if m != nil {
		m.RelayedEvents.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) SetRelayCursor(cursor uint64) {
	if m != nil {
		m.RelayCursor.Set(float64(cursor))
	}
}

func (m *Metrics) IncrementQueueFailure(op string) {
	if m != nil {
		m.QueueFailures.WithLabelValues(op).Inc()
	}
}
