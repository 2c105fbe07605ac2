package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jdziat/simple-durable-workflows/pkg/core"
	"github.com/jdziat/simple-durable-workflows/pkg/registry"
	"github.com/jdziat/simple-durable-workflows/pkg/retry"
	"github.com/jdziat/simple-durable-workflows/pkg/scheduler"
	"github.com/jdziat/simple-durable-workflows/pkg/storage"
	"github.com/jdziat/simple-durable-workflows/pkg/taskmanager"
)

// releaseTimeout bounds how long shutdown waits for cancelled instances to be
// handed back to the queue.
const releaseTimeout = 10 * time.Second

// InstanceWorker hosts workflow instances as coroutines.
type InstanceWorker struct {
	*lifecycle
	reg   *registry.Registry
	sched *scheduler.Scheduler
	tm    *taskmanager.Manager
}

// NewInstanceWorker creates an instance worker pulling from store.
func NewInstanceWorker(store *storage.Store, reg *registry.Registry, opts ...WorkerOption) *InstanceWorker {
	l := newLifecycle(store, kindInstance, opts)
	sched := scheduler.New()
	sched.SetLogger(l.logger)
	return &InstanceWorker{
		lifecycle: l,
		reg:       reg,
		sched:     sched,
		tm:        taskmanager.New(store, reg, sched, taskmanager.WithQueues(l.cfg.Queues...), taskmanager.WithLogger(l.logger)),
	}
}

// Run hosts instances until ctx is cancelled or the worker drains. Hosted
// instances still running at shutdown are released back to the queue.
func (w *InstanceWorker) Run(ctx context.Context) error {
	if err := w.register(ctx); err != nil {
		return fmt.Errorf("register worker: %w", err)
	}
	base := context.WithoutCancel(ctx)
	if err := w.tm.Listen(base); err != nil {
		return err
	}

	hostCtx, stopHost := context.WithCancel(base)
	var g errgroup.Group
	g.Go(func() error {
		w.pingLoop(hostCtx)
		return nil
	})
	g.Go(func() error {
		_ = w.sched.Run(hostCtx)
		return nil
	})
	g.Go(func() error {
		return w.tm.Run(hostCtx)
	})

	pullCtx, stopPull := w.pullContext(ctx)
	err := w.pull(pullCtx, base)
	stopPull()
	w.drain(ExitOK, "shutdown")

	if !w.waitIdle(w.cfg.GracePeriod) {
		w.logger.Info("releasing instances still running after grace period")
	}
	// Stopping the scheduler cancels the remaining coroutines; their
	// completion callbacks release the instances.
	stopHost()
	if !w.waitIdle(releaseTimeout) {
		w.logger.Warn("instances not released before exit")
	}
	if gerr := g.Wait(); gerr != nil && err == nil {
		err = gerr
	}

	if err != nil {
		w.state.Store(int32(StateStopped))
		return err
	}
	return w.finish(ctx)
}

func (w *InstanceWorker) pull(ctx, taskCtx context.Context) error {
	stream, err := storage.IterReadyObjects[core.WorkflowInstance](ctx, w.store, w.cfg.Queues, 0)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("open ready stream: %w", err)
	}
	defer stream.Close()

	for {
		if err := w.sem.Acquire(ctx, 1); err != nil {
			return nil
		}
		inst, err := stream.Next(ctx)
		if err != nil {
			w.sem.Release(1)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read ready stream: %w", err)
		}
		if !w.host(taskCtx, inst) {
			w.sem.Release(1)
		}
	}
}

// host claims inst and launches it. It reports whether the slot is now held
// by a running coroutine.
func (w *InstanceWorker) host(ctx context.Context, delivered *core.WorkflowInstance) bool {
	inst, err := w.store.ClaimInstance(ctx, delivered.ID, w.ID())
	if err != nil {
		if errors.Is(err, core.ErrNotQueued) || errors.Is(err, core.ErrClaimConflict) || errors.Is(err, core.ErrNotFound) {
			w.logger.Debug("instance not claimed", "instance_id", delivered.ID, "error", err)
		} else {
			w.logger.Error("failed to claim instance", "instance_id", delivered.ID, "error", err)
		}
		return false
	}

	start := time.Now()
	logger := w.logger.With("instance_id", inst.ID, "registry_id", inst.RegistryID)
	w.cfg.Hub.Emit(&core.InstanceStarted{Instance: inst, Timestamp: start})

	def, err := w.reg.Workflow(inst.RegistryID)
	if err != nil {
		logger.Error("unknown workflow", "error", err)
		w.complete(ctx, inst, taskmanager.Outcome{Exception: err.Error()}, start)
		return false
	}

	poolInUse.WithLabelValues(kindInstance).Inc()
	_, err = w.tm.Launch(ctx, inst, def, func(out taskmanager.Outcome) {
		// Runs on the scheduler loop; storage work happens elsewhere.
		go func() {
			defer w.sem.Release(1)
			defer poolInUse.WithLabelValues(kindInstance).Dec()
			if out.Cancelled {
				w.release(ctx, inst)
				return
			}
			w.complete(ctx, inst, out, start)
			w.taskDone()
		}()
	})
	if err != nil {
		poolInUse.WithLabelValues(kindInstance).Dec()
		logger.Warn("failed to launch instance", "error", err)
		w.release(ctx, inst)
		return false
	}
	logger.Debug("instance launched")
	return true
}

func (w *InstanceWorker) complete(ctx context.Context, inst *core.WorkflowInstance, out taskmanager.Outcome, start time.Time) {
	elapsed := time.Since(start)
	var done *core.WorkflowInstance
	err := retry.WithBackoff(ctx, retry.DefaultConfig(), func() error {
		var cerr error
		done, cerr = w.store.CompleteInstance(ctx, inst.ID, w.ID(), out.Result, out.Exception, out.Stack)
		return cerr
	})
	if err != nil {
		w.logger.Error("failed to complete instance", "instance_id", inst.ID, "error", err)
		return
	}

	var runErr error
	if out.Exception != "" {
		runErr = errors.New(out.Exception)
		recordTask(kindInstance, "failure", elapsed.Seconds())
		w.logger.Warn("instance failed", "instance_id", inst.ID, "error", out.Exception)
	} else {
		recordTask(kindInstance, "success", elapsed.Seconds())
		w.logger.Info("instance completed", "instance_id", inst.ID, "duration", elapsed)
	}
	w.cfg.Hub.Emit(&core.InstanceCompleted{Instance: done, Duration: elapsed, Error: runErr, Timestamp: time.Now()})
}

func (w *InstanceWorker) release(ctx context.Context, inst *core.WorkflowInstance) {
	err := retry.WithBackoff(ctx, retry.DefaultConfig(), func() error {
		return w.store.ReleaseInstance(ctx, inst.ID, w.ID())
	})
	if err != nil {
		w.logger.Error("failed to release instance", "instance_id", inst.ID, "error", err)
		return
	}
	w.logger.Info("instance released", "instance_id", inst.ID)
}
