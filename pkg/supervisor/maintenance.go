package supervisor

import (
	"context"
	"time"

	"github.com/jdziat/simple-durable-workflows/pkg/core"
	"github.com/jdziat/simple-durable-workflows/pkg/storage"
)

// ReclaimDead hands the IN_PROGRESS rows of every worker whose last ping is
// older than DeadAfter back to the queue and marks the worker cleaned up.
// It returns how many workers were reclaimed.
func (s *Supervisor) ReclaimDead(ctx context.Context) (int, error) {
	dead, err := s.store.DeadWorkers(ctx, time.Now().Add(-s.cfg.DeadAfter))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, w := range dead {
		instances, actions, err := s.store.ReclaimWorker(ctx, w.ID)
		if err != nil {
			s.logger.Error("failed to reclaim worker", "worker_id", w.ID, "error", err)
			continue
		}
		n++
		workersReclaimedTotal.Inc()
		rowsReclaimedTotal.WithLabelValues(core.TableWorkflowInstances).Add(float64(instances))
		rowsReclaimedTotal.WithLabelValues(core.TableDaemonActions).Add(float64(actions))
		s.logger.Info("reclaimed dead worker",
			"worker_id", w.ID,
			"last_ping", w.LastPing,
			"instances", instances,
			"actions", actions)
		s.cfg.Hub.Emit(&core.WorkerReclaimed{
			WorkerID:  w.ID,
			Instances: instances,
			Actions:   actions,
			Timestamp: time.Now(),
		})
	}
	return n, nil
}

// PromoteDue moves SCHEDULED instances whose launch time has passed to
// QUEUED.
func (s *Supervisor) PromoteDue(ctx context.Context) (int, error) {
	n, err := s.store.PromoteScheduled(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		promotedTotal.Add(float64(n))
		s.logger.Debug("promoted scheduled instances", "count", n)
	}
	return n, nil
}

// Purge deletes DONE instances and status events older than the retention.
func (s *Supervisor) Purge(ctx context.Context) error {
	cutoff := time.Now().Add(-s.cfg.Retention)
	instances, err := s.store.PurgeCompleted(ctx, cutoff)
	if err != nil {
		return err
	}
	events, err := s.store.PruneEvents(ctx, cutoff)
	if err != nil {
		return err
	}
	if instances > 0 || events > 0 {
		s.logger.Info("purged old rows", "instances", instances, "events", events)
	}
	return nil
}

// SnapshotDepths counts rows by table, queue and status and publishes them
// as the durable_queue_depth gauges. Series that emptied since the last
// snapshot are dropped.
func (s *Supervisor) SnapshotDepths(ctx context.Context) ([]storage.QueueDepth, error) {
	depths, err := s.store.QueueDepths(ctx)
	if err != nil {
		return nil, err
	}
	queueDepth.Reset()
	for _, d := range depths {
		queueDepth.WithLabelValues(d.Table, d.Queue, string(d.Status)).Set(float64(d.Count))
	}
	return depths, nil
}
