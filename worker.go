package workflows

import (
	"context"
	"log/slog"
	"time"

	"github.com/jdziat/simple-durable-workflows/pkg/actionctx"
	"github.com/jdziat/simple-durable-workflows/pkg/worker"
)

type (
	// ActionWorker executes actions, one attempt per pool slot.
	ActionWorker = worker.ActionWorker

	// InstanceWorker hosts workflow instances as coroutines.
	InstanceWorker = worker.InstanceWorker

	// WorkerOption configures a worker.
	WorkerOption = worker.WorkerOption

	// ExitError carries the exit code a worker process should use.
	ExitError = worker.ExitError
)

// NewActionWorker creates an action worker over store.
func NewActionWorker(store *Store, reg *Registry, opts ...WorkerOption) *ActionWorker {
	return worker.NewActionWorker(store, reg, opts...)
}

// NewInstanceWorker creates an instance worker over store.
func NewInstanceWorker(store *Store, reg *Registry, opts ...WorkerOption) *InstanceWorker {
	return worker.NewInstanceWorker(store, reg, opts...)
}

// ExitCode maps a worker's Run error to a process exit code.
func ExitCode(err error) int {
	return worker.ExitCode(err)
}

// Worker option functions

// Concurrency sets the worker's pool size.
func Concurrency(n int) WorkerOption {
	return worker.Concurrency(n)
}

// Queues restricts the worker to the named queues.
func Queues(names ...string) WorkerOption {
	return worker.Queues(names...)
}

// TasksBeforeRecycle makes the worker exit for replacement after n tasks.
func TasksBeforeRecycle(n int) WorkerOption {
	return worker.TasksBeforeRecycle(n)
}

// GracePeriod bounds how long a draining worker waits for running tasks.
func GracePeriod(d time.Duration) WorkerOption {
	return worker.GracePeriod(d)
}

// WithLogger sets the worker's logger.
func WithLogger(l *slog.Logger) WorkerOption {
	return worker.WithLogger(l)
}

// WithHub emits the worker's events on h.
func WithHub(h *Hub) WorkerOption {
	return worker.WithHub(h)
}

// Action context helpers

// ActionIDFromContext returns the running action's id, or "" outside an
// action.
func ActionIDFromContext(ctx context.Context) string {
	return actionctx.ActionID(ctx)
}

// InstanceIDFromContext returns the id of the instance that requested the
// running action.
func InstanceIDFromContext(ctx context.Context) string {
	return actionctx.InstanceID(ctx)
}

// AttemptFromContext returns the running action's attempt number.
func AttemptFromContext(ctx context.Context) int {
	return actionctx.Attempt(ctx)
}

// LoggerFromContext returns a logger tagged with the running action.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	return actionctx.Logger(ctx)
}
