package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/jdziat/simple-durable-workflows/pkg/core"
	"github.com/jdziat/simple-durable-workflows/pkg/storage"
)

// State is a worker's lifecycle state.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateDraining:
		return "DRAINING"
	case StateStopped:
		return "STOPPED"
	}
	return "UNKNOWN"
}

// lifecycle is the part shared by both worker kinds: the WorkerStatus row,
// the slot pool and the drain signal.
type lifecycle struct {
	cfg    WorkerConfig
	store  *storage.Store
	kind   string
	logger *slog.Logger
	sem    *semaphore.Weighted

	state     atomic.Int32
	completed atomic.Int64

	drainOnce  sync.Once
	drainCtx   context.Context
	drainStop  context.CancelFunc
	exitMu     sync.Mutex
	exitCode   int
	exitReason string
}

func newLifecycle(store *storage.Store, kind string, opts []WorkerOption) *lifecycle {
	cfg := newConfig()
	for _, opt := range opts {
		opt.ApplyWorker(&cfg)
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = uuid.New().String()
	}
	drainCtx, drainStop := context.WithCancel(context.Background())
	return &lifecycle{
		cfg:       cfg,
		store:     store,
		kind:      kind,
		logger:    cfg.Logger.With("worker_id", cfg.WorkerID, "kind", kind),
		sem:       semaphore.NewWeighted(int64(cfg.PoolSize)),
		drainCtx:  drainCtx,
		drainStop: drainStop,
	}
}

// ID returns the WorkerStatus id.
func (l *lifecycle) ID() string { return l.cfg.WorkerID }

// State returns the current lifecycle state.
func (l *lifecycle) State() State { return State(l.state.Load()) }

// Draining returns a channel closed once the worker stops taking work.
func (l *lifecycle) Draining() <-chan struct{} { return l.drainCtx.Done() }

// Drain stops the worker from taking new work. In-flight tasks finish
// within the grace period, then Run returns.
func (l *lifecycle) Drain() { l.drain(ExitOK, "drain requested") }

func (l *lifecycle) drain(code int, reason string) {
	l.drainOnce.Do(func() {
		l.exitMu.Lock()
		l.exitCode, l.exitReason = code, reason
		l.exitMu.Unlock()
		l.state.Store(int32(StateDraining))
		l.logger.Info("worker draining", "reason", reason, "exit_code", code)
		l.drainStop()
	})
}

func (l *lifecycle) register(ctx context.Context) error {
	w := &core.WorkerStatus{
		ID:               l.cfg.WorkerID,
		IsActionWorker:   l.kind == kindAction,
		IsInstanceWorker: l.kind == kindInstance,
	}
	if err := l.store.RegisterWorker(ctx, w); err != nil {
		return err
	}
	l.state.Store(int32(StateRunning))
	l.logger.Info("worker started", "pool_size", l.cfg.PoolSize, "queues", l.cfg.Queues)
	return nil
}

// pingLoop refreshes last_ping until ctx is done.
func (l *lifecycle) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.ping(ctx)
		}
	}
}

func (l *lifecycle) ping(ctx context.Context) {
	if err := l.store.PingWorker(ctx, l.cfg.WorkerID, l.State() == StateDraining); err != nil {
		l.logger.Warn("worker ping failed", "error", err)
	}
}

// taskDone counts a finished task and starts recycling once the budget is
// spent.
func (l *lifecycle) taskDone() {
	n := l.completed.Add(1)
	if l.cfg.TasksBeforeRecycle > 0 && n >= int64(l.cfg.TasksBeforeRecycle) {
		l.drain(ExitRecycle, "task budget spent")
	}
}

// waitIdle blocks until every slot is free or timeout elapses.
func (l *lifecycle) waitIdle(timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	n := int64(l.cfg.PoolSize)
	if err := l.sem.Acquire(ctx, n); err != nil {
		return false
	}
	l.sem.Release(n)
	return true
}

// pullContext is ctx, additionally cancelled when draining starts.
func (l *lifecycle) pullContext(ctx context.Context) (context.Context, context.CancelFunc) {
	pullCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(l.drainCtx, cancel)
	return pullCtx, func() {
		stop()
		cancel()
	}
}

// finish records the final state and builds Run's return value.
func (l *lifecycle) finish(ctx context.Context) error {
	l.ping(context.WithoutCancel(ctx))
	l.state.Store(int32(StateStopped))
	l.exitMu.Lock()
	code, reason := l.exitCode, l.exitReason
	l.exitMu.Unlock()
	l.logger.Info("worker stopped", "exit_code", code, "completed", l.completed.Load())
	if code == ExitOK {
		return nil
	}
	return &ExitError{Code: code, Reason: reason}
}
