package taskmanager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jdziat/simple-durable-workflows/pkg/core"
	"github.com/jdziat/simple-durable-workflows/pkg/registry"
	"github.com/jdziat/simple-durable-workflows/pkg/retry"
	"github.com/jdziat/simple-durable-workflows/pkg/scheduler"
	"github.com/jdziat/simple-durable-workflows/pkg/storage"
)

type actionStream = storage.Stream[core.DaemonAction, *core.DaemonAction]

// Manager persists action requests and resolves their futures.
type Manager struct {
	store  *storage.Store
	reg    *registry.Registry
	sched  *scheduler.Scheduler
	queues []string
	logger *slog.Logger

	mu      sync.Mutex
	stream  *actionStream
	pending map[pendingKey][]*scheduler.Future
}

type pendingKey struct {
	instanceID string
	state      string
}

// Option configures a Manager.
type Option func(*Manager)

// WithQueues limits the completions the Manager follows to actions of
// instances on these queues.
func WithQueues(queues ...string) Option {
	return func(m *Manager) { m.queues = queues }
}

// WithLogger sets the Manager's logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// New creates a Manager. Call Listen before binding any coroutine.
func New(store *storage.Store, reg *registry.Registry, sched *scheduler.Scheduler, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		reg:     reg,
		sched:   sched,
		logger:  slog.Default(),
		pending: make(map[pendingKey][]*scheduler.Future),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Listen opens the completion stream. Completions committed after Listen
// returns are never missed.
func (m *Manager) Listen(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream != nil {
		return nil
	}
	st, err := storage.IterTransitions[core.DaemonAction](ctx, m.store, core.StatusDone, storage.StreamOptions{Queues: m.queues})
	if err != nil {
		return fmt.Errorf("open completion stream: %w", err)
	}
	m.stream = st
	return nil
}

// Run settles futures as actions complete, until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Listen(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	st := m.stream
	m.mu.Unlock()
	defer st.Close()

	for {
		a, err := st.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !m.waiting(a.InstanceID, a.State) {
			continue
		}
		m.complete(ctx, a)
	}
}

// Pending returns how many futures await completion.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, fs := range m.pending {
		n += len(fs)
	}
	return n
}

// dispatch persists the action for (inst, state) and resolves f once it is
// DONE. It runs off the scheduler loop. The row is written even when the
// coroutine retires first, since an unawaited Go still owes its action.
func (m *Manager) dispatch(ctx context.Context, inst *core.WorkflowInstance, state string, def *registry.Action, body []byte, f *scheduler.Future) {
	key := pendingKey{inst.ID, state}
	m.track(ctx, key, f)

	persist := context.WithoutCancel(ctx)
	row := def.Row(inst.ID, state, body)
	var (
		a       *core.DaemonAction
		created bool
	)
	err := retry.WithBackoff(persist, retry.DefaultConfig(), func() error {
		var qerr error
		a, created, qerr = m.store.QueueAction(persist, row)
		return qerr
	})
	if err != nil {
		m.logger.Error("failed to queue action", "instance_id", inst.ID, "registry_id", def.ID(), "error", err)
		m.fail(key, fmt.Errorf("queue action %s: %w", def.ID(), err))
		return
	}
	if created {
		m.logger.Debug("action queued", "instance_id", inst.ID, "action_id", a.ID, "registry_id", a.RegistryID)
	}
	if a.Status == core.StatusDone && ctx.Err() == nil {
		m.complete(ctx, a)
	}
}

// complete loads the final result of a and settles every future waiting on
// its (instance, state).
func (m *Manager) complete(ctx context.Context, a *core.DaemonAction) {
	key := pendingKey{a.InstanceID, a.State}
	res, err := m.store.FinalResult(ctx, a)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			m.logger.Warn("done action without final result", "action_id", a.ID)
		}
		m.fail(key, err)
		return
	}
	if res.Failed() {
		m.settle(key, nil, &core.ActionError{
			ActionID:   a.ID,
			RegistryID: a.RegistryID,
			Message:    res.Exception,
			Stack:      res.ExceptionStack,
		})
		return
	}
	m.settle(key, res.ResultBody, nil)
}

// track registers f unless the coroutine owning ctx already retired.
// Retiring cancels ctx before forget runs, so nothing is left behind.
func (m *Manager) track(ctx context.Context, key pendingKey, f *scheduler.Future) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	m.pending[key] = append(m.pending[key], f)
}

func (m *Manager) waiting(instanceID, state string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending[pendingKey{instanceID, state}]) > 0
}

func (m *Manager) take(key pendingKey) []*scheduler.Future {
	m.mu.Lock()
	defer m.mu.Unlock()
	fs := m.pending[key]
	delete(m.pending, key)
	return fs
}

// forget drops futures of an instance that stopped waiting.
func (m *Manager) forget(instanceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.pending {
		if key.instanceID == instanceID {
			delete(m.pending, key)
		}
	}
}

func (m *Manager) settle(key pendingKey, body []byte, err error) {
	for _, f := range m.take(key) {
		if rerr := f.Resolve(body, err); rerr != nil {
			m.logger.Debug("future dropped", "instance_id", key.instanceID, "error", rerr)
		}
	}
}

func (m *Manager) fail(key pendingKey, err error) {
	m.settle(key, nil, err)
}
