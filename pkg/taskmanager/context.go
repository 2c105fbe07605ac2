package taskmanager

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jdziat/simple-durable-workflows/pkg/core"
	"github.com/jdziat/simple-durable-workflows/pkg/internal/handler"
	"github.com/jdziat/simple-durable-workflows/pkg/registry"
	"github.com/jdziat/simple-durable-workflows/pkg/scheduler"
	"github.com/jdziat/simple-durable-workflows/pkg/statehash"
	"github.com/jdziat/simple-durable-workflows/pkg/workflow"
)

// instanceContext is the workflow.Context of one hosted instance. Its
// methods run on the coroutine while it holds the scheduler baton.
type instanceContext struct {
	context.Context
	m      *Manager
	co     *scheduler.Coroutine
	inst   *core.WorkflowInstance
	chain  *statehash.Chain
	logger *slog.Logger
}

var _ workflow.Context = (*instanceContext)(nil)

// Bind returns the workflow.Context for inst running on co.
func (m *Manager) Bind(co *scheduler.Coroutine, inst *core.WorkflowInstance) workflow.Context {
	return &instanceContext{
		Context: co.Context(),
		m:       m,
		co:      co,
		inst:    inst,
		chain:   statehash.NewChain(inst.InputBody),
		logger:  m.logger.With("instance_id", inst.ID, "workflow", inst.WorkflowName),
	}
}

func (c *instanceContext) InstanceID() string   { return c.inst.ID }
func (c *instanceContext) Logger() *slog.Logger { return c.logger }

// Go advances the state hash and dispatches req. Persisting happens off the
// loop; the returned future settles when the action is DONE.
func (c *instanceContext) Go(req *core.ActionRequest) workflow.Future {
	sched := c.co.Scheduler()
	if req == nil {
		return sched.Resolved(nil, fmt.Errorf("%w: nil action request", core.ErrInvalidInput))
	}
	def, err := c.m.reg.Action(req.RegistryID)
	if err != nil {
		return sched.Resolved(nil, err)
	}
	body, err := def.Encode(req.Args)
	if err != nil {
		return sched.Resolved(nil, err)
	}
	state := c.chain.Advance(def.ID(), body)

	f := sched.NewFuture()
	go c.m.dispatch(c.Context, c.inst, state, def, body, f)
	return f
}

// Wait suspends the coroutine until f settles.
func (c *instanceContext) Wait(f workflow.Future) ([]byte, error) {
	sf, ok := f.(*scheduler.Future)
	if !ok {
		return nil, fmt.Errorf("%w: foreign future %T", core.ErrInvalidInput, f)
	}
	v, err := c.co.Await(sf)
	if err != nil {
		return nil, err
	}
	body, _ := v.([]byte)
	return body, nil
}

// Outcome is how a hosted instance finished.
type Outcome struct {
	Result    []byte
	Exception string
	Stack     string
	// Cancelled is set when the coroutine was interrupted before the
	// workflow returned. Such instances should be released, not completed.
	Cancelled bool
}

// Launch hosts inst as a coroutine running w. done runs on the scheduler
// loop once the workflow returns and must not block.
func (m *Manager) Launch(ctx context.Context, inst *core.WorkflowInstance, w *registry.Workflow, done func(Outcome)) (*scheduler.Coroutine, error) {
	var (
		out      Outcome
		returned bool
	)
	co, err := m.sched.Spawn(ctx, func(co *scheduler.Coroutine) {
		wctx := m.Bind(co, inst)
		result, err := m.reg.InvokeWorkflow(wctx, w, inst.InputBody)
		returned = true
		switch {
		case err == nil:
			out.Result = result
		case co.Context().Err() != nil:
			out.Cancelled = true
		default:
			out.Exception, out.Stack = handler.Describe(err)
		}
	}, func() {
		if !returned {
			out.Exception = "workflow coroutine panicked"
		}
		m.forget(inst.ID)
		if done != nil {
			done(out)
		}
	})
	if err != nil {
		return nil, err
	}
	return co, nil
}
