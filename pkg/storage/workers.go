package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jdziat/simple-durable-workflows/pkg/core"
)

// RegisterWorker records a newly launched worker process.
func (s *Store) RegisterWorker(ctx context.Context, w *core.WorkerStatus) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	now := time.Now()
	if w.InternalProcessID == 0 {
		w.InternalProcessID = os.Getpid()
	}
	if w.Hostname == "" {
		w.Hostname, _ = os.Hostname()
	}
	if w.LaunchTime.IsZero() {
		w.LaunchTime = now
	}
	w.LastPing = now
	return s.db.WithContext(ctx).Create(w).Error
}

// PingWorker refreshes a worker's last_ping and draining flag.
func (s *Store) PingWorker(ctx context.Context, id string, draining bool) error {
	res := s.db.WithContext(ctx).
		Model(&core.WorkerStatus{}).
		Where("id = ?", id).
		Updates(map[string]any{"last_ping": time.Now(), "is_draining": draining})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: worker %s", core.ErrNotFound, id)
	}
	return nil
}

// GetWorker retrieves a worker status by ID.
func (s *Store) GetWorker(ctx context.Context, id string) (*core.WorkerStatus, error) {
	var w core.WorkerStatus
	err := s.db.WithContext(ctx).First(&w, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: worker %s", core.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// ListWorkers returns workers not yet cleaned up.
func (s *Store) ListWorkers(ctx context.Context) ([]*core.WorkerStatus, error) {
	var out []*core.WorkerStatus
	err := s.db.WithContext(ctx).
		Where("cleaned_up = ?", false).
		Order("launch_time ASC").
		Find(&out).Error
	return out, err
}

// DeadWorkers returns workers whose last ping is older than cutoff and whose
// assignments have not been reclaimed.
func (s *Store) DeadWorkers(ctx context.Context, cutoff time.Time) ([]*core.WorkerStatus, error) {
	var out []*core.WorkerStatus
	err := s.db.WithContext(ctx).
		Where("cleaned_up = ? AND last_ping < ?", false, cutoff).
		Order("last_ping ASC").
		Find(&out).Error
	return out, err
}

// ReclaimWorker re-queues every IN_PROGRESS instance and action assigned to
// workerID and marks the worker cleaned up.
func (s *Store) ReclaimWorker(ctx context.Context, workerID string) (instances, actions int, err error) {
	err = s.transaction(ctx, func(tx *gorm.DB, events *eventBatch) error {
		var insts []*core.WorkflowInstance
		if err := tx.Where("assigned_worker_status_id = ? AND status = ?", workerID, core.StatusInProgress).
			Find(&insts).Error; err != nil {
			return err
		}
		var acts []*core.DaemonAction
		if err := tx.Where("assigned_worker_status_id = ? AND status = ?", workerID, core.StatusInProgress).
			Find(&acts).Error; err != nil {
			return err
		}

		now := time.Now()
		requeue := map[string]any{"status": core.StatusQueued, "assigned_worker_status_id": nil, "updated_at": now}
		if len(insts) > 0 {
			if err := tx.Model(&core.WorkflowInstance{}).
				Where("assigned_worker_status_id = ? AND status = ?", workerID, core.StatusInProgress).
				Updates(requeue).Error; err != nil {
				return err
			}
		}
		if len(acts) > 0 {
			if err := tx.Model(&core.DaemonAction{}).
				Where("assigned_worker_status_id = ? AND status = ?", workerID, core.StatusInProgress).
				Updates(requeue).Error; err != nil {
				return err
			}
		}
		if err := tx.Model(&core.WorkerStatus{}).
			Where("id = ?", workerID).
			Update("cleaned_up", true).Error; err != nil {
			return err
		}

		// Events go last so the advisory lock is taken after all row locks.
		for _, inst := range insts {
			inst.Status = core.StatusQueued
			if err := s.appendEvent(tx, events, inst, inst.WorkflowName); err != nil {
				return err
			}
		}
		for _, a := range acts {
			a.Status = core.StatusQueued
			queue, err := queueFor(tx, a)
			if err != nil {
				return err
			}
			if err := s.appendEvent(tx, events, a, queue); err != nil {
				return err
			}
		}
		instances, actions = len(insts), len(acts)
		return nil
	})
	return instances, actions, err
}

// PruneEvents deletes status events older than cutoff. Streams opened
// afterwards replay from current row state; streams already open may miss
// transitions older than cutoff.
func (s *Store) PruneEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&core.StatusEvent{})
	return res.RowsAffected, res.Error
}
