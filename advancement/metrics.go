package advancement

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the engine.
// A nil *Metrics or an unregistered one is a no-op.
type Metrics struct {
	runsTotal        prometheus.Counter
	runFailures      prometheus.Counter
	runDuration      prometheus.Histogram
	skippedTotal     prometheus.Counter
	recordsByStatus  *prometheus.GaugeVec
	transitionsTotal *prometheus.CounterVec

	registerOnce sync.Once
	registered   bool
}

// Register registers the collectors with registry. Subsequent calls are no-ops.
func (m *Metrics) Register(registry prometheus.Registerer) {
	if m == nil || registry == nil {
		return
	}

	m.registerOnce.Do(func() {
		factory := promauto.With(registry)

		m.runsTotal = factory.NewCounter(prometheus.CounterOpts{
			Name: "echelon_detection_runs_total",
			Help: "Total number of advancement detection runs",
		})
		m.runFailures = factory.NewCounter(prometheus.CounterOpts{
			Name: "echelon_detection_run_failures_total",
			Help: "Total number of detection runs that failed to persist",
		})
		m.runDuration = factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "echelon_detection_run_duration_seconds",
			Help:    "Duration of advancement detection runs",
			Buckets: prometheus.DefBuckets,
		})
		m.skippedTotal = factory.NewCounter(prometheus.CounterOpts{
			Name: "echelon_detection_skipped_employees_total",
			Help: "Total number of employees skipped because of computation errors",
		})
		m.recordsByStatus = factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "echelon_advancement_records",
			Help: "Advancement records of the last detection run by status",
		}, []string{"status"})
		m.transitionsTotal = factory.NewCounterVec(prometheus.CounterOpts{
			Name: "echelon_advancement_transitions_total",
			Help: "Operator status transitions by target status",
		}, []string{"status"})
		m.registered = true
	})
}

func (m *Metrics) observeRun(report *Report, took time.Duration, failed bool) {
	if m == nil || !m.registered {
		return
	}
	m.runsTotal.Inc()
	m.runDuration.Observe(took.Seconds())
	if failed {
		m.runFailures.Inc()
		return
	}
	m.skippedTotal.Add(float64(len(report.Skipped)))
	for _, st := range Statuses {
		m.recordsByStatus.WithLabelValues(string(st)).Set(float64(report.Counts[st]))
	}
}

func (m *Metrics) observeTransition(to Status) {
	if m == nil || !m.registered {
		return
	}
	m.transitionsTotal.WithLabelValues(string(to)).Inc()
}
