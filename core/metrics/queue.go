package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrymomot/docrelay/core/queue"
)

// RegisterWorker exposes a queue worker's counters. Values are read from
// stats at scrape time.
func RegisterWorker(reg prometheus.Registerer, stats func() queue.WorkerStats) {
	reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "tasks_processed_total",
			Help:      "Total number of tasks completed by the worker.",
		}, func() float64 { return float64(stats().TasksProcessed) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "tasks_failed_total",
			Help:      "Total number of task attempts that failed.",
		}, func() float64 { return float64(stats().TasksFailed) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "active_tasks",
			Help:      "Number of tasks currently running.",
		}, func() float64 { return float64(stats().ActiveTasks) }),
	)
}
