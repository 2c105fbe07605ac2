package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jdziat/simple-durable-workflows/pkg/core"
	"github.com/jdziat/simple-durable-workflows/pkg/registry"
	"github.com/jdziat/simple-durable-workflows/pkg/storage"
)

// InstanceHandle refers to a started workflow instance.
type InstanceHandle struct {
	ID    string
	Queue string
	store *storage.Store
}

// QueueNew starts a new instance of def with payload.
func QueueNew(ctx context.Context, store *storage.Store, def *registry.Workflow, payload any, opts ...Option) (*InstanceHandle, error) {
	options := &Options{Queue: def.Queue()}
	for _, opt := range opts {
		opt.Apply(options)
	}

	body, err := def.Encode(payload)
	if err != nil {
		return nil, err
	}
	inst := &core.WorkflowInstance{
		ID:           options.ID,
		WorkflowName: options.Queue,
		RegistryID:   def.ID(),
		InputBody:    body,
		LaunchTime:   options.RunAt,
	}
	if err := store.QueueInstance(ctx, inst); err != nil {
		return nil, fmt.Errorf("workflows: failed to queue %s: %w", def.ID(), err)
	}
	return &InstanceHandle{ID: inst.ID, Queue: inst.WorkflowName, store: store}, nil
}

// Handle returns a handle for an existing instance.
func Handle(store *storage.Store, id string) *InstanceHandle {
	return &InstanceHandle{ID: id, store: store}
}

// Instance loads the instance's current row.
func (h *InstanceHandle) Instance(ctx context.Context) (*core.WorkflowInstance, error) {
	return h.store.GetInstance(ctx, h.ID)
}

// Wait blocks until the instance is DONE and returns its serialized result.
// An instance that finished with an exception returns *core.InstanceError.
func (h *InstanceHandle) Wait(ctx context.Context) ([]byte, error) {
	if h.Queue == "" {
		// The queue of an instance never changes, so it can be learned
		// before the stream opens.
		inst, err := h.Instance(ctx)
		if err != nil {
			return nil, err
		}
		h.Queue = inst.WorkflowName
	}

	// Follow DONE transitions before looking at the row so a completion
	// between the two is not missed.
	st, err := storage.IterTransitions[core.WorkflowInstance](ctx, h.store, core.StatusDone, storage.StreamOptions{Queues: []string{h.Queue}})
	if err != nil {
		return nil, err
	}
	defer st.Close()

	inst, err := h.Instance(ctx)
	if err != nil {
		return nil, err
	}
	for inst.Status != core.StatusDone {
		row, err := st.Next(ctx)
		if err != nil {
			return nil, err
		}
		if row.ID == h.ID {
			inst = row
		}
	}
	if inst.Failed() {
		return nil, &core.InstanceError{InstanceID: inst.ID, Message: inst.Exception, Stack: inst.ExceptionStack}
	}
	return inst.ResultBody, nil
}

// WaitResult waits for h and decodes the result into R.
func WaitResult[R any](ctx context.Context, h *InstanceHandle) (R, error) {
	var out R
	body, err := h.Wait(ctx)
	if err != nil || len(body) == 0 {
		return out, err
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, fmt.Errorf("decode workflow result: %w", err)
	}
	return out, nil
}
