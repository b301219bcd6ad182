package scheduler

import "github.com/prometheus/client_golang/prometheus"

var (
	executionsScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "verdict_executions_scheduled_total",
			Help: "Total number of suite executions accepted by the scheduler.",
		},
	)

	executionsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verdict_executions_completed_total",
			Help: "Total number of suite executions that reached a terminal state.",
		},
		[]string{"status"},
	)

	activeExecutions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "verdict_active_executions",
			Help: "Number of suite executions currently running.",
		},
	)

	testRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verdict_test_runs_total",
			Help: "Total number of individual test runs by outcome.",
		},
		[]string{"outcome"},
	)

	testRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "verdict_test_run_seconds",
			Help:    "Duration of individual test runs in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(executionsScheduled)
	prometheus.MustRegister(executionsCompleted)
	prometheus.MustRegister(activeExecutions)
	prometheus.MustRegister(testRuns)
	prometheus.MustRegister(testRunDuration)
}
