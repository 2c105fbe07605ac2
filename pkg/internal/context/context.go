package context

import (
	"context"
	"log/slog"

	"github.com/jdziat/simple-durable-workflows/pkg/core"
)

// ActionContextKey is the key for storing the action context in
// context.Context.
type ActionContextKey struct{}

// ActionContext describes the task a worker is executing.
type ActionContext struct {
	Task     *core.TaskDescriptor
	WorkerID string
	Logger   *slog.Logger
}

// GetActionContext retrieves the action context from a context.Context.
func GetActionContext(ctx context.Context) *ActionContext {
	if ac, ok := ctx.Value(ActionContextKey{}).(*ActionContext); ok {
		return ac
	}
	return nil
}

// WithActionContext adds the action context to a context.Context.
func WithActionContext(ctx context.Context, ac *ActionContext) context.Context {
	return context.WithValue(ctx, ActionContextKey{}, ac)
}
