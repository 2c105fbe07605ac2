package context

import (
	"context"
	"testing"

	"github.com/jdziat/simple-durable-workflows/pkg/core"
)

func TestWithActionContextAndGetActionContext(t *testing.T) {
	t.Run("stores and retrieves action context", func(t *testing.T) {
		// Arrange
		task := &core.TaskDescriptor{ActionID: "a-1", InstanceID: "i-1"}
		ctx := WithActionContext(context.Background(), &ActionContext{Task: task, WorkerID: "w-1"})

		// Act
		ac := GetActionContext(ctx)

		// Assert
		if ac == nil {
			t.Fatal("expected action context, got nil")
		}
		if ac.Task.ActionID != "a-1" {
			t.Errorf("expected action ID %q, got %q", "a-1", ac.Task.ActionID)
		}
		if ac.WorkerID != "w-1" {
			t.Errorf("expected worker ID %q, got %q", "w-1", ac.WorkerID)
		}
	})

	t.Run("returns nil for bare context", func(t *testing.T) {
		if ac := GetActionContext(context.Background()); ac != nil {
			t.Errorf("expected nil, got %v", ac)
		}
	})

	t.Run("survives derived contexts", func(t *testing.T) {
		// Arrange
		parent := WithActionContext(context.Background(), &ActionContext{WorkerID: "w-2"})
		child, cancel := context.WithCancel(parent)
		defer cancel()

		// Act
		ac := GetActionContext(child)

		// Assert
		if ac == nil || ac.WorkerID != "w-2" {
			t.Errorf("expected worker w-2, got %v", ac)
		}
	})
}
