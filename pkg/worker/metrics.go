package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// tasksTotal counts finished tasks by worker kind and outcome
	tasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "durable_worker_tasks_total",
			Help: "Total tasks finished by worker kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	timeoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "durable_worker_timeouts_total",
			Help: "Total action timeouts by type and measurement",
		},
		[]string{"type", "measurement"},
	)

	poolInUse = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "durable_worker_pool_in_use",
			Help: "Pool slots currently executing a task",
		},
		[]string{"kind"},
	)

	taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "durable_worker_task_duration_seconds",
			Help:    "Task execution time by worker kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
)

const (
	kindAction   = "action"
	kindInstance = "instance"
)

func recordTask(kind, outcome string, seconds float64) {
	tasksTotal.WithLabelValues(kind, outcome).Inc()
	taskDuration.WithLabelValues(kind).Observe(seconds)
}

func recordTimeout(typ, measurement string) {
	timeoutsTotal.WithLabelValues(typ, measurement).Inc()
}
