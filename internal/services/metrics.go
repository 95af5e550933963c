// Package services – Prometheus collectors
//
// Domain counters for task lifecycle and digest delivery. Labels are small
// fixed enums so cardinality stays bounded:
//
//   - outcome: close outcome (success, not_found, already_closed, forbidden)
//   - result:  digest delivery result (sent, failed, skipped)
package services

import "github.com/prometheus/client_golang/prometheus"

// Digest delivery results.
const (
	resultSent    = "sent"
	resultFailed  = "failed"
	resultSkipped = "skipped"
)

var (
	// tasksCreated counts tasks inserted from /task commands.
	tasksCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tasks_created_total",
			Help: "Total number of tasks created.",
		},
	)

	// tasksClosed counts close attempts by outcome.
	tasksClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_close_attempts_total",
			Help: "Total number of task close attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// digestRuns counts digest runs that completed phase 1.
	digestRuns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "digest_runs_total",
			Help: "Total number of daily digest runs.",
		},
	)

	// digestMessages counts per-recipient digest results.
	digestMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "digest_messages_total",
			Help: "Digest messages by delivery result.",
		},
		[]string{"result"},
	)

	// digestDuration records the wall time of a full digest run.
	digestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "digest_run_duration_seconds",
			Help:    "Duration of daily digest runs in seconds.",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)
)

func init() {
	prometheus.MustRegister(tasksCreated, tasksClosed, digestRuns, digestMessages, digestDuration)
}
