package collector

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts collector runs and their per-loan results. A nil *Metrics
// records nothing.
type Metrics struct {
	runs        *prometheus.CounterVec
	loans       *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
}

// NewMetrics creates the collector metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "microlend",
			Subsystem: "collector",
			Name:      "runs_total",
			Help:      "Collector runs by outcome.",
		}, []string{"collector", "outcome"}),
		loans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "microlend",
			Subsystem: "collector",
			Name:      "loans_total",
			Help:      "Loans examined by collectors, by result.",
		}, []string{"collector", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "microlend",
			Subsystem: "collector",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a collector run.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"collector"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "microlend",
			Subsystem: "collector",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last collector run that completed.",
		}, []string{"collector"}),
	}
	reg.MustRegister(m.runs, m.loans, m.duration, m.lastSuccess)
	return m
}

// Observe records a finished run.
func (m *Metrics) Observe(summary *RunSummary, runErr error) {
	if m == nil {
		return
	}
	name := summary.Collector

	outcome := "ok"
	if runErr != nil {
		outcome = "error"
	}
	m.runs.WithLabelValues(name, outcome).Inc()
	m.loans.WithLabelValues(name, "succeeded").Add(float64(summary.Succeeded))
	m.loans.WithLabelValues(name, "skipped").Add(float64(summary.Skipped))
	m.loans.WithLabelValues(name, "failed").Add(float64(summary.Failed))
	m.duration.WithLabelValues(name).Observe(summary.Duration().Seconds())
	if runErr == nil {
		m.lastSuccess.WithLabelValues(name).Set(float64(summary.FinishedAt.Unix()))
	}
}
