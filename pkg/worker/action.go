package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sync/errgroup"

	"github.com/jdziat/simple-durable-workflows/pkg/core"
	intctx "github.com/jdziat/simple-durable-workflows/pkg/internal/context"
	"github.com/jdziat/simple-durable-workflows/pkg/internal/handler"
	"github.com/jdziat/simple-durable-workflows/pkg/registry"
	"github.com/jdziat/simple-durable-workflows/pkg/retry"
	"github.com/jdziat/simple-durable-workflows/pkg/storage"
)

// ActionWorker executes daemon actions.
type ActionWorker struct {
	*lifecycle
	reg  *registry.Registry
	proc *process.Process
}

// NewActionWorker creates an action worker pulling from store.
func NewActionWorker(store *storage.Store, reg *registry.Registry, opts ...WorkerOption) *ActionWorker {
	return &ActionWorker{
		lifecycle: newLifecycle(store, kindAction, opts),
		reg:       reg,
		proc:      selfProcess(),
	}
}

// Run processes actions until ctx is cancelled or the worker drains. It
// returns an *ExitError when the process should exit with a non-zero code.
func (w *ActionWorker) Run(ctx context.Context) error {
	if err := w.register(ctx); err != nil {
		return fmt.Errorf("register worker: %w", err)
	}

	pingCtx, stopPing := context.WithCancel(context.WithoutCancel(ctx))
	var g errgroup.Group
	g.Go(func() error {
		w.pingLoop(pingCtx)
		return nil
	})

	pullCtx, stopPull := w.pullContext(ctx)
	err := w.pull(pullCtx, context.WithoutCancel(ctx))
	stopPull()
	w.drain(ExitOK, "shutdown")

	if !w.waitIdle(w.cfg.GracePeriod) {
		w.logger.Warn("grace period elapsed with tasks in flight")
	}
	stopPing()
	_ = g.Wait()

	if err != nil {
		w.state.Store(int32(StateStopped))
		return err
	}
	return w.finish(ctx)
}

// pull feeds the pool from the ready stream. A slot is taken before each
// row is requested.
func (w *ActionWorker) pull(ctx, taskCtx context.Context) error {
	stream, err := storage.IterReadyObjects[core.DaemonAction](ctx, w.store, w.cfg.Queues, 0)
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
		a, err := stream.Next(ctx)
		if err != nil {
			w.sem.Release(1)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read ready stream: %w", err)
		}
		go w.dispatch(taskCtx, a)
	}
}

// dispatch runs a on the slot taken by pull. Rows whose schedule_after lies
// ahead give the slot back while they wait.
func (w *ActionWorker) dispatch(ctx context.Context, a *core.DaemonAction) {
	if a.ScheduleAfter != nil {
		if wait := time.Until(*a.ScheduleAfter); wait > 0 {
			w.sem.Release(1)
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-w.Draining():
				timer.Stop()
				return
			}
			if err := w.sem.Acquire(w.drainCtx, 1); err != nil {
				return
			}
		}
	}
	defer w.sem.Release(1)

	poolInUse.WithLabelValues(kindAction).Inc()
	defer poolInUse.WithLabelValues(kindAction).Dec()
	w.handle(ctx, a)
}

func (w *ActionWorker) handle(ctx context.Context, delivered *core.DaemonAction) {
	a, err := w.store.ClaimAction(ctx, delivered.ID, w.ID())
	if err != nil {
		if errors.Is(err, core.ErrNotQueued) || errors.Is(err, core.ErrClaimConflict) || errors.Is(err, core.ErrNotFound) {
			w.logger.Debug("action not claimed", "action_id", delivered.ID, "error", err)
			return
		}
		w.logger.Error("failed to claim action", "action_id", delivered.ID, "error", err)
		return
	}

	task := core.NewTaskDescriptor(a)
	logger := w.logger.With("action_id", a.ID, "instance_id", a.InstanceID, "registry_id", a.RegistryID, "attempt", task.Attempt)
	start := time.Now()
	w.cfg.Hub.CallStartHooks(ctx, a)
	w.cfg.Hub.Emit(&core.ActionStarted{Action: a, Timestamp: start})
	logger.Debug("action started")

	out, hard := w.execute(ctx, task, logger)
	elapsed := time.Since(start)

	var stored *core.DaemonAction
	err = retry.WithBackoff(ctx, retry.DefaultConfig(), func() error {
		var rerr error
		stored, _, rerr = w.store.RecordActionResult(ctx, a.ID, w.ID(), out)
		return rerr
	})
	if err != nil {
		logger.Error("failed to record action result", "error", err)
	} else {
		w.report(ctx, stored, out, elapsed, logger)
	}

	if hard != nil {
		logger.Error("hard timeout, draining worker", "error", hard)
		w.drain(ExitHardTimeout, hard.Error())
		return
	}
	w.taskDone()
}

func (w *ActionWorker) report(ctx context.Context, a *core.DaemonAction, out storage.Outcome, elapsed time.Duration, logger *slog.Logger) {
	now := time.Now()
	switch {
	case !out.Failed():
		recordTask(kindAction, "success", elapsed.Seconds())
		logger.Info("action completed", "duration", elapsed)
		w.cfg.Hub.CallCompleteHooks(ctx, a)
		w.cfg.Hub.Emit(&core.ActionCompleted{Action: a, Duration: elapsed, Timestamp: now})
	case a.Status == core.StatusQueued:
		recordTask(kindAction, "retry", elapsed.Seconds())
		err := errors.New(out.Exception)
		var next time.Time
		if a.ScheduleAfter != nil {
			next = *a.ScheduleAfter
		}
		logger.Warn("action failed, retrying", "error", out.Exception, "schedule_after", next)
		w.cfg.Hub.CallRetryHooks(ctx, a, a.RetryCurrentAttempt, err)
		w.cfg.Hub.Emit(&core.ActionRetrying{Action: a, Attempt: a.RetryCurrentAttempt, Error: err, ScheduleAfter: next, Timestamp: now})
	default:
		recordTask(kindAction, "failure", elapsed.Seconds())
		err := errors.New(out.Exception)
		logger.Error("action failed", "error", out.Exception)
		w.cfg.Hub.CallFailHooks(ctx, a, err)
		w.cfg.Hub.Emit(&core.ActionFailed{Action: a, Error: err, Timestamp: now})
	}
}

type callResult struct {
	body []byte
	err  error
}

// execute runs the task under its timeouts. A non-nil hard timeout means the
// action is abandoned and the process must exit.
func (w *ActionWorker) execute(ctx context.Context, task *core.TaskDescriptor, logger *slog.Logger) (storage.Outcome, *core.HardTimeoutError) {
	def, err := w.reg.Action(task.RegistryID)
	if err != nil {
		return storage.Outcome{Exception: err.Error(), NoRetry: true}, nil
	}

	actx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	actx = intctx.WithActionContext(actx, &intctx.ActionContext{Task: task, WorkerID: w.ID(), Logger: logger})

	done := make(chan callResult, 1)
	clocks := make(chan cpuClock, 1)
	go func() {
		// Pinned so the thread's CPU time is this task's.
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		clocks <- newCPUClock(w.proc, threadID())
		body, err := w.reg.InvokeAction(actx, def, task.InputBody)
		done <- callResult{body, err}
	}()
	clock := <-clocks

	wallSoft := timerFor(task, core.MeasureWallTime, core.TimeoutSoft)
	wallHard := timerFor(task, core.MeasureWallTime, core.TimeoutHard)
	defer wallSoft.stop()
	defer wallHard.stop()
	cpuSoft, hasCPUSoft := task.Timeout(core.MeasureCPUTime, core.TimeoutSoft)
	cpuHard, hasCPUHard := task.Timeout(core.MeasureCPUTime, core.TimeoutHard)
	var tick <-chan time.Time
	if hasCPUSoft || hasCPUHard {
		ticker := time.NewTicker(w.cfg.CPUPollInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	// Once a soft limit fires the slot stays held until the action yields
	// or a hard limit abandons it.
	var softOut *storage.Outcome
	for {
		select {
		case r := <-done:
			if softOut != nil {
				return *softOut, nil
			}
			if r.err != nil {
				msg, stack := handler.Describe(r.err)
				return storage.Outcome{Exception: msg, Stack: stack, NoRetry: core.IsNoRetry(r.err)}, nil
			}
			return storage.Outcome{Result: r.body}, nil
		case <-wallSoft.c:
			wallSoft.c = nil
			if softOut == nil {
				out := w.soft(cancel, task, core.MeasureWallTime, wallSoft.d, logger)
				softOut = &out
			}
		case <-wallHard.c:
			return w.hard(cancel, task, core.MeasureWallTime, wallHard.d, logger)
		case <-tick:
			used, err := clock.Elapsed()
			if err != nil {
				logger.Debug("cpu sample failed", "error", err)
				continue
			}
			if hasCPUHard && used >= cpuHard {
				return w.hard(cancel, task, core.MeasureCPUTime, cpuHard, logger)
			}
			if hasCPUSoft && used >= cpuSoft {
				hasCPUSoft = false
				if softOut == nil {
					out := w.soft(cancel, task, core.MeasureCPUTime, cpuSoft, logger)
					softOut = &out
				}
			}
		}
	}
}

// soft cancels the action's context and builds the outcome recorded once the
// action returns.
func (w *ActionWorker) soft(cancel context.CancelCauseFunc, task *core.TaskDescriptor, m core.TimeoutMeasurement, limit time.Duration, logger *slog.Logger) storage.Outcome {
	err := &core.SoftTimeoutError{Measurement: m, Seconds: limit.Seconds()}
	cancel(err)
	recordTimeout(string(core.TimeoutSoft), string(m))
	logger.Warn("soft timeout", "measurement", m, "limit", limit)
	w.cfg.Hub.Emit(&core.ActionTimedOut{Action: &core.DaemonAction{ID: task.ActionID, InstanceID: task.InstanceID, RegistryID: task.RegistryID}, Type: core.TimeoutSoft, Measurement: m, Timestamp: time.Now()})
	return storage.Outcome{Exception: err.Error()}
}

func (w *ActionWorker) hard(cancel context.CancelCauseFunc, task *core.TaskDescriptor, m core.TimeoutMeasurement, limit time.Duration, logger *slog.Logger) (storage.Outcome, *core.HardTimeoutError) {
	err := &core.HardTimeoutError{Measurement: m, Seconds: limit.Seconds()}
	cancel(err)
	recordTimeout(string(core.TimeoutHard), string(m))
	logger.Error("hard timeout", "measurement", m, "limit", limit)
	w.cfg.Hub.Emit(&core.ActionTimedOut{Action: &core.DaemonAction{ID: task.ActionID, InstanceID: task.InstanceID, RegistryID: task.RegistryID}, Type: core.TimeoutHard, Measurement: m, Timestamp: time.Now()})
	return storage.Outcome{Exception: err.Error()}, err
}

// limitTimer is a timer that may be absent; a nil channel never fires.
type limitTimer struct {
	t *time.Timer
	c <-chan time.Time
	d time.Duration
}

func timerFor(task *core.TaskDescriptor, m core.TimeoutMeasurement, typ core.TimeoutType) limitTimer {
	d, ok := task.Timeout(m, typ)
	if !ok {
		return limitTimer{}
	}
	t := time.NewTimer(d)
	return limitTimer{t: t, c: t.C, d: d}
}

func (lt limitTimer) stop() {
	if lt.t != nil {
		lt.t.Stop()
	}
}
