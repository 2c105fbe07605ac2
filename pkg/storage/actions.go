package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jdziat/simple-durable-workflows/pkg/core"
	"github.com/jdziat/simple-durable-workflows/pkg/retry"
	"github.com/jdziat/simple-durable-workflows/pkg/security"
)

// QueueAction persists a QUEUED action for its instance. The call is
// idempotent on (InstanceID, State): when a row already exists it is
// returned unchanged with created=false.
func (s *Store) QueueAction(ctx context.Context, action *core.DaemonAction) (stored *core.DaemonAction, created bool, err error) {
	if action.ID == "" {
		action.ID = uuid.New().String()
	}
	if err := security.ValidateRegistryID(action.RegistryID); err != nil {
		return nil, false, err
	}
	if err := security.ValidateInputSize(action.InputBody); err != nil {
		return nil, false, err
	}
	action.Status = core.StatusQueued

	err = s.transaction(ctx, func(tx *gorm.DB, events *eventBatch) error {
		existing, err := findAction(tx, action.InstanceID, action.State)
		if err != nil {
			return err
		}
		if existing != nil {
			stored = existing
			return nil
		}
		if err := tx.Create(action).Error; err != nil {
			return err
		}
		queue, err := queueFor(tx, action)
		if err != nil {
			return err
		}
		stored, created = action, true
		return s.appendEvent(tx, events, action, queue)
	})
	if err != nil && IsDuplicate(err) {
		// A concurrent replay of the same instance won the insert.
		existing, ferr := s.FindAction(ctx, action.InstanceID, action.State)
		if ferr != nil {
			return nil, false, ferr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

func findAction(tx *gorm.DB, instanceID, state string) (*core.DaemonAction, error) {
	var a core.DaemonAction
	err := tx.Where("instance_id = ? AND state = ?", instanceID, state).Take(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// FindAction returns the action an instance dispatched at state.
func (s *Store) FindAction(ctx context.Context, instanceID, state string) (*core.DaemonAction, error) {
	a, err := findAction(s.db.WithContext(ctx), instanceID, state)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("%w: action %s@%s", core.ErrNotFound, instanceID, state)
	}
	return a, nil
}

// ClaimAction flips a QUEUED action to IN_PROGRESS for workerID.
func (s *Store) ClaimAction(ctx context.Context, id, workerID string) (*core.DaemonAction, error) {
	return WithObject(ctx, s, id, func(_ *gorm.DB, a *core.DaemonAction) error {
		if a.Status != core.StatusQueued {
			return core.ErrNotQueued
		}
		now := time.Now()
		a.Status = core.StatusInProgress
		a.StartedDatetime = &now
		a.EndedDatetime = nil
		a.AssignedWorkerStatusID = &workerID
		return nil
	})
}

// Outcome is the result of one execution attempt.
type Outcome struct {
	Result    []byte
	Exception string
	Stack     string
	NoRetry   bool
}

// Failed reports whether the attempt raised.
func (o Outcome) Failed() bool { return o.Exception != "" }

// RecordActionResult appends the attempt's result and advances the action:
// DONE on success or exhausted retries, otherwise QUEUED again with
// schedule_after set by the retry policy.
func (s *Store) RecordActionResult(ctx context.Context, id, workerID string, out Outcome) (*core.DaemonAction, *core.DaemonActionResult, error) {
	var result *core.DaemonActionResult
	action, err := WithObject(ctx, s, id, func(tx *gorm.DB, a *core.DaemonAction) error {
		if err := owned(a.Status, a.AssignedWorkerStatusID, workerID); err != nil {
			return err
		}
		now := time.Now()
		result = &core.DaemonActionResult{
			ID:             uuid.New().String(),
			ActionID:       a.ID,
			InstanceID:     a.InstanceID,
			AttemptNum:     a.RetryCurrentAttempt + 1,
			FinishedAt:     now,
			Exception:      security.SanitizeErrorMessage(out.Exception),
			ExceptionStack: security.SanitizeStack(out.Stack),
			ResultBody:     out.Result,
		}
		if err := tx.Create(result).Error; err != nil {
			return err
		}

		a.EndedDatetime = &now
		a.AssignedWorkerStatusID = nil
		if out.Failed() && !out.NoRetry && retry.IsAllowed(a) {
			next := retry.Calculate(a, s.rnd)
			a.ScheduleAfter = &next
			a.RetryCurrentAttempt++
			a.Status = core.StatusQueued
			return nil
		}
		a.Status = core.StatusDone
		a.FinalResultID = &result.ID
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return action, result, nil
}

// GetAction retrieves an action by ID.
func (s *Store) GetAction(ctx context.Context, id string) (*core.DaemonAction, error) {
	var a core.DaemonAction
	err := s.db.WithContext(ctx).First(&a, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: daemon action %s", core.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetResult retrieves an action result by ID.
func (s *Store) GetResult(ctx context.Context, id string) (*core.DaemonActionResult, error) {
	var r core.DaemonActionResult
	err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: action result %s", core.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// FinalResult returns the result a DONE action settled on.
func (s *Store) FinalResult(ctx context.Context, a *core.DaemonAction) (*core.DaemonActionResult, error) {
	if a.Status != core.StatusDone || a.FinalResultID == nil {
		return nil, fmt.Errorf("%w: action %s has no final result", core.ErrNotFound, a.ID)
	}
	return s.GetResult(ctx, *a.FinalResultID)
}

// ListActions returns an instance's actions in dispatch order.
func (s *Store) ListActions(ctx context.Context, instanceID string) ([]*core.DaemonAction, error) {
	var out []*core.DaemonAction
	err := s.db.WithContext(ctx).
		Where("instance_id = ?", instanceID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// ListResults returns every attempt recorded for an action.
func (s *Store) ListResults(ctx context.Context, actionID string) ([]*core.DaemonActionResult, error) {
	var out []*core.DaemonActionResult
	err := s.db.WithContext(ctx).
		Where("action_id = ?", actionID).
		Order("attempt_num ASC").
		Find(&out).Error
	return out, err
}
