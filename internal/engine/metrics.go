package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dstauffer/kiln/internal/model"
)

var (
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiln_jobs_total",
			Help: "Total number of jobs that reached a terminal status.",
		},
		[]string{"model_kind", "status"},
	)

	duplicateSubmissions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kiln_duplicate_submissions_total",
			Help: "Submissions answered with an existing equivalent job.",
		},
	)

	jobsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kiln_jobs_running",
			Help: "Number of jobs currently executing.",
		},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kiln_queue_depth",
			Help: "Number of accepted jobs waiting for a worker.",
		},
	)

	trainDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kiln_train_duration_seconds",
			Help:    "Wall-clock training duration per job, in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"model_kind"},
	)

	observersConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kiln_observers_connected",
			Help: "Number of currently registered status observers.",
		},
	)

	eventsBroadcast = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kiln_events_broadcast_total",
			Help: "Status events delivered to observers.",
		},
	)
)

func init() {
	prometheus.MustRegister(jobsTotal)
	prometheus.MustRegister(duplicateSubmissions)
	prometheus.MustRegister(jobsRunning)
	prometheus.MustRegister(queueDepth)
	prometheus.MustRegister(trainDuration)
	prometheus.MustRegister(observersConnected)
	prometheus.MustRegister(eventsBroadcast)

	// Pre-initialize counter label combinations so they appear in /metrics
	// with value 0 from startup, rather than only after first observation.
	for _, kind := range model.ModelKinds {
		for _, status := range []string{model.StatusCompleted, model.StatusFailed, model.StatusCancelled} {
			jobsTotal.WithLabelValues(kind, status)
		}
	}
}
