package workflows

import (
	"context"
	"time"

	"github.com/jdziat/simple-durable-workflows/pkg/core"
	"github.com/jdziat/simple-durable-workflows/pkg/queue"
)

type (
	// InstanceHandle refers to a started workflow instance.
	InstanceHandle = queue.InstanceHandle

	// QueueOption modifies how QueueNew starts an instance.
	QueueOption = queue.Option

	// Hub fans worker events out to subscribers and hooks.
	Hub = queue.Hub

	// Event is the interface for all worker events.
	Event = core.Event

	// ActionStarted is emitted when an action attempt begins.
	ActionStarted = core.ActionStarted

	// ActionCompleted is emitted when an attempt returns without error.
	ActionCompleted = core.ActionCompleted

	// ActionFailed is emitted when an action is DONE with an exception.
	ActionFailed = core.ActionFailed

	// ActionRetrying is emitted when a failed attempt is re-queued.
	ActionRetrying = core.ActionRetrying

	// ActionTimedOut is emitted when a soft or hard limit fires.
	ActionTimedOut = core.ActionTimedOut

	// InstanceStarted is emitted when an instance worker claims an instance.
	InstanceStarted = core.InstanceStarted

	// InstanceCompleted is emitted when an instance reaches DONE.
	InstanceCompleted = core.InstanceCompleted

	// WorkerReclaimed is emitted when a dead worker's rows are re-queued.
	WorkerReclaimed = core.WorkerReclaimed
)

// QueueNew starts a new instance of def with payload.
func QueueNew(ctx context.Context, store *Store, def *Workflow, payload any, opts ...QueueOption) (*InstanceHandle, error) {
	return queue.QueueNew(ctx, store, def, payload, opts...)
}

// Handle returns a handle for an existing instance.
func Handle(store *Store, id string) *InstanceHandle {
	return queue.Handle(store, id)
}

// WaitResult waits for h and decodes the workflow's result.
func WaitResult[R any](ctx context.Context, h *InstanceHandle) (R, error) {
	return queue.WaitResult[R](ctx, h)
}

// NewHub creates an event hub for workers and supervisors.
func NewHub() *Hub {
	return queue.NewHub()
}

// Queue option functions

// OnQueue runs the instance on name instead of the workflow's queue.
func OnQueue(name string) QueueOption {
	return queue.Queue(name)
}

// At schedules the instance to start at t.
func At(t time.Time) QueueOption {
	return queue.At(t)
}

// Delay schedules the instance to start after d.
func Delay(d time.Duration) QueueOption {
	return queue.Delay(d)
}

// InstanceID sets the instance id. Queueing an id twice fails.
func InstanceID(id string) QueueOption {
	return queue.WithID(id)
}
