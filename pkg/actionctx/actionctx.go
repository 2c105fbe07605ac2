// Package actionctx gives action functions access to the task they are
// running as.
package actionctx

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jdziat/simple-durable-workflows/pkg/core"
	intctx "github.com/jdziat/simple-durable-workflows/pkg/internal/context"
)

// Task returns the descriptor of the running task, or nil outside a worker.
func Task(ctx context.Context) *core.TaskDescriptor {
	ac := intctx.GetActionContext(ctx)
	if ac == nil {
		return nil
	}
	return ac.Task
}

// ActionID returns the id of the running DaemonAction, or "".
func ActionID(ctx context.Context) string {
	if t := Task(ctx); t != nil {
		return t.ActionID
	}
	return ""
}

// InstanceID returns the id of the workflow instance that dispatched the
// running action, or "".
func InstanceID(ctx context.Context) string {
	if t := Task(ctx); t != nil {
		return t.InstanceID
	}
	return ""
}

// Attempt returns the zero-based retry attempt of the running action.
func Attempt(ctx context.Context) int {
	if t := Task(ctx); t != nil {
		return t.Attempt
	}
	return 0
}

// WorkerID returns the id of the worker executing the action, or "".
func WorkerID(ctx context.Context) string {
	if ac := intctx.GetActionContext(ctx); ac != nil {
		return ac.WorkerID
	}
	return ""
}

// Logger returns a logger tagged with the action and instance ids. Outside a
// worker it returns slog.Default().
func Logger(ctx context.Context) *slog.Logger {
	if ac := intctx.GetActionContext(ctx); ac != nil && ac.Logger != nil {
		return ac.Logger
	}
	return slog.Default()
}

// SoftTimedOut reports whether ctx was cancelled by a soft timeout and
// returns it.
func SoftTimedOut(ctx context.Context) (*core.SoftTimeoutError, bool) {
	var st *core.SoftTimeoutError
	if errors.As(context.Cause(ctx), &st) {
		return st, true
	}
	return nil, false
}
