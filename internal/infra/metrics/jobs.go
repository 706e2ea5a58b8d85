package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		submissionsTotal,
		pollsTotal,
		pollLatencyMs,
		anomaliesTotal,
		jobOutcomesTotal,
		jobProgress,
	)
}

var (
	submissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neuroforge_submissions_total",
			Help: "Training submissions, labeled by result.",
		},
		[]string{"result"}, // 'ok', 'failed'
	)

	pollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neuroforge_polls_total",
			Help: "Status polls, labeled by result.",
		},
		[]string{"result"}, // 'ok', 'error'
	)

	pollLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "neuroforge_poll_latency_ms",
			Help:    "Status poll latency distribution in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		},
	)

	anomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neuroforge_anomalies_total",
			Help: "Snapshot values rejected during reconciliation, labeled by kind.",
		},
		[]string{"kind"},
	)

	jobOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neuroforge_job_outcomes_total",
			Help: "Finished job lifecycles, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	jobProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "neuroforge_job_progress",
			Help: "Reconciled progress of the active job (0-100).",
		},
	)
)

func IncSubmission(ok bool) {
	if ok {
		submissionsTotal.WithLabelValues("ok").Inc()
		return
	}
	submissionsTotal.WithLabelValues("failed").Inc()
}

func ObservePoll(err error, d time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	pollsTotal.WithLabelValues(result).Inc()
	pollLatencyMs.Observe(float64(d.Milliseconds()))
}

func IncAnomaly(kind string) {
	anomaliesTotal.WithLabelValues(norm(kind)).Inc()
}

func IncJobOutcome(outcome string) {
	jobOutcomesTotal.WithLabelValues(norm(outcome)).Inc()
}

func SetJobProgress(p int) {
	jobProgress.Set(float64(p))
}
