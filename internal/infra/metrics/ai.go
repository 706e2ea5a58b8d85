package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		trainerJobsStarted,
		trainerJobsFinished,
		chatRequestsTotal,
		chatLatencyMs,
	)
}

var (
	trainerJobsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trainer_jobs_started_total",
			Help: "Simulated training runs accepted by the training service.",
		},
	)

	trainerJobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trainer_jobs_finished_total",
			Help: "Simulated training runs finished, labeled by status.",
		},
		[]string{"status"}, // 'completed', 'failed'
	)

	chatRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trainer_chat_requests_total",
			Help: "Chat requests answered by the training service per responder.",
		},
		[]string{"responder", "success"},
	)

	chatLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trainer_chat_latency_ms",
			Help:    "Chat responder latency distribution in milliseconds.",
			Buckets: []float64{10, 25, 50, 100, 200, 400, 800, 1600, 3000, 5000},
		},
		[]string{"responder"},
	)
)

func IncTrainerJobStarted() {
	trainerJobsStarted.Inc()
}

func IncTrainerJobFinished(status string) {
	trainerJobsFinished.WithLabelValues(norm(status)).Inc()
}

func ObserveChat(responder string, latencyMs int, success bool) {
	chatRequestsTotal.WithLabelValues(norm(responder), strconv.FormatBool(success)).Inc()
	chatLatencyMs.WithLabelValues(norm(responder)).Observe(float64(latencyMs))
}
