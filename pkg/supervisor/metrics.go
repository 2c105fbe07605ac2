package supervisor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	childrenRunning = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "durable_supervisor_children",
		Help: "Worker processes currently running, by kind.",
	}, []string{"kind"})

	restartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "durable_supervisor_restarts_total",
		Help: "Worker process exits followed by a restart, by kind and reason.",
	}, []string{"kind", "reason"})

	workersReclaimedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "durable_supervisor_workers_reclaimed_total",
		Help: "Dead workers whose rows were handed back to the queue.",
	})

	rowsReclaimedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "durable_supervisor_rows_reclaimed_total",
		Help: "IN_PROGRESS rows re-queued after their worker died, by table.",
	}, []string{"table"})

	promotedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "durable_supervisor_instances_promoted_total",
		Help: "SCHEDULED instances promoted to QUEUED.",
	})

	launchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "durable_supervisor_recurring_launched_total",
		Help: "Instances launched by recurring schedules, by entry.",
	}, []string{"entry"})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "durable_queue_depth",
		Help: "Rows per table, queue and status at the last snapshot.",
	}, []string{"table", "queue", "status"})
)
