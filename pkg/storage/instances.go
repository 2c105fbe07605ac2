package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jdziat/simple-durable-workflows/pkg/core"
	"github.com/jdziat/simple-durable-workflows/pkg/security"
)

// QueueInstance persists a new workflow instance. Instances whose LaunchTime
// lies in the future are stored SCHEDULED, all others QUEUED.
func (s *Store) QueueInstance(ctx context.Context, inst *core.WorkflowInstance) error {
	if inst.ID == "" {
		inst.ID = uuid.New().String()
	}
	if err := security.ValidateQueueName(inst.WorkflowName); err != nil {
		return err
	}
	now := time.Now()
	if inst.LaunchTime == nil {
		inst.LaunchTime = &now
	}
	if inst.LaunchTime.After(now) {
		inst.Status = core.StatusScheduled
	} else {
		inst.Status = core.StatusQueued
	}

	return s.transaction(ctx, func(tx *gorm.DB, events *eventBatch) error {
		if err := tx.Create(inst).Error; err != nil {
			return err
		}
		return s.appendEvent(tx, events, inst, inst.WorkflowName)
	})
}

// ClaimInstance flips a QUEUED instance to IN_PROGRESS for workerID. It
// returns core.ErrNotQueued when the instance is no longer claimable and
// core.ErrClaimConflict when another transaction holds it.
func (s *Store) ClaimInstance(ctx context.Context, id, workerID string) (*core.WorkflowInstance, error) {
	return WithObject(ctx, s, id, func(_ *gorm.DB, inst *core.WorkflowInstance) error {
		if inst.Status != core.StatusQueued {
			return core.ErrNotQueued
		}
		inst.Status = core.StatusInProgress
		inst.AssignedWorkerStatusID = &workerID
		return nil
	})
}

// CompleteInstance writes the terminal fields of an instance held by
// workerID. A non-empty exception marks it failed.
func (s *Store) CompleteInstance(ctx context.Context, id, workerID string, result []byte, exception, stack string) (*core.WorkflowInstance, error) {
	return WithObject(ctx, s, id, func(_ *gorm.DB, inst *core.WorkflowInstance) error {
		if err := owned(inst.Status, inst.AssignedWorkerStatusID, workerID); err != nil {
			return err
		}
		now := time.Now()
		inst.Status = core.StatusDone
		inst.EndTime = &now
		inst.AssignedWorkerStatusID = nil
		inst.ResultBody = result
		inst.Exception = security.SanitizeErrorMessage(exception)
		inst.ExceptionStack = security.SanitizeStack(stack)
		return nil
	})
}

// ReleaseInstance hands an instance held by workerID back to the queue.
func (s *Store) ReleaseInstance(ctx context.Context, id, workerID string) error {
	_, err := WithObject(ctx, s, id, func(_ *gorm.DB, inst *core.WorkflowInstance) error {
		if err := owned(inst.Status, inst.AssignedWorkerStatusID, workerID); err != nil {
			return err
		}
		inst.Status = core.StatusQueued
		inst.AssignedWorkerStatusID = nil
		return nil
	})
	return err
}

// GetInstance retrieves an instance by ID.
func (s *Store) GetInstance(ctx context.Context, id string) (*core.WorkflowInstance, error) {
	var inst core.WorkflowInstance
	err := s.db.WithContext(ctx).First(&inst, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: workflow instance %s", core.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

// ListInstances returns instances in status, oldest first. An empty status
// lists all.
func (s *Store) ListInstances(ctx context.Context, status core.Status, limit int) ([]*core.WorkflowInstance, error) {
	var out []*core.WorkflowInstance
	q := s.db.WithContext(ctx).Order("created_at ASC, id ASC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// PromoteScheduled moves SCHEDULED instances whose launch time has passed to
// QUEUED.
func (s *Store) PromoteScheduled(ctx context.Context, now time.Time) (int, error) {
	promoted := 0
	err := s.transaction(ctx, func(tx *gorm.DB, events *eventBatch) error {
		var due []*core.WorkflowInstance
		if err := tx.Where("status = ? AND launch_time <= ?", core.StatusScheduled, now).
			Order("launch_time ASC, id ASC").
			Find(&due).Error; err != nil {
			return err
		}
		if len(due) == 0 {
			return nil
		}
		ids := make([]string, len(due))
		for i, inst := range due {
			ids[i] = inst.ID
		}
		if err := tx.Model(&core.WorkflowInstance{}).
			Where("id IN ? AND status = ?", ids, core.StatusScheduled).
			Updates(map[string]any{"status": core.StatusQueued, "updated_at": time.Now()}).Error; err != nil {
			return err
		}
		for _, inst := range due {
			inst.Status = core.StatusQueued
			if err := s.appendEvent(tx, events, inst, inst.WorkflowName); err != nil {
				return err
			}
		}
		promoted = len(due)
		return nil
	})
	return promoted, err
}

// PurgeCompleted deletes DONE instances that ended before cutoff, with their
// actions, results and status events.
func (s *Store) PurgeCompleted(ctx context.Context, cutoff time.Time) (int64, error) {
	var purged int64
	err := s.transaction(ctx, func(tx *gorm.DB, _ *eventBatch) error {
		var ids []string
		if err := tx.Model(&core.WorkflowInstance{}).
			Where("status = ? AND end_time < ?", core.StatusDone, cutoff).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		var actionIDs []string
		if err := tx.Model(&core.DaemonAction{}).Where("instance_id IN ?", ids).Pluck("id", &actionIDs).Error; err != nil {
			return err
		}
		if err := tx.Where("instance_id IN ?", ids).Delete(&core.DaemonActionResult{}).Error; err != nil {
			return err
		}
		if err := tx.Where("instance_id IN ?", ids).Delete(&core.DaemonAction{}).Error; err != nil {
			return err
		}
		rowIDs := append(ids, actionIDs...)
		if err := tx.Where("row_id IN ?", rowIDs).Delete(&core.StatusEvent{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&core.WorkflowInstance{})
		purged = res.RowsAffected
		return res.Error
	})
	return purged, err
}

func owned(status core.Status, assigned *string, workerID string) error {
	if status != core.StatusInProgress || assigned == nil || *assigned != workerID {
		return core.ErrNotOwned
	}
	return nil
}
