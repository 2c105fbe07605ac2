package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/simple-durable-workflows/pkg/core"
	"github.com/jdziat/simple-durable-workflows/pkg/internal/log"
	"github.com/jdziat/simple-durable-workflows/pkg/queue"
	"github.com/jdziat/simple-durable-workflows/pkg/registry"
	"github.com/jdziat/simple-durable-workflows/pkg/storage/storagetest"
	"github.com/jdziat/simple-durable-workflows/pkg/worker"
	"github.com/jdziat/simple-durable-workflows/pkg/workflow"
)

func quadruple(ctx workflow.Context, n int) (int, error) {
	a, err := workflow.Execute[int](ctx, doubleAction.Call(n))
	if err != nil {
		return 0, err
	}
	return workflow.Execute[int](ctx, doubleAction.Call(a))
}

var quadrupleWorkflow = registry.MustWorkflow(quadruple)

func newInstanceRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := newRegistry(t)
	require.NoError(t, reg.Register(quadrupleWorkflow))
	return reg
}

func TestInstanceWorker_RunsWorkflow(t *testing.T) {
	s := storagetest.Open(t)
	reg := newInstanceRegistry(t)
	hub := queue.NewHub()
	events := hub.Events()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	iw := worker.NewInstanceWorker(s, reg, worker.WithHub(hub), worker.WithLogger(log.Discard()))
	aw := worker.NewActionWorker(s, reg, worker.WithLogger(log.Discard()))
	ierr := start(ctx, iw)
	aerr := start(ctx, aw)

	h, err := queue.QueueNew(ctx, s, quadrupleWorkflow, 5)
	require.NoError(t, err)

	waitCtx, stop := context.WithTimeout(ctx, 10*time.Second)
	defer stop()
	got, err := queue.WaitResult[int](waitCtx, h)
	require.NoError(t, err)
	assert.Equal(t, 20, got)

	inst, err := h.Instance(ctx)
	require.NoError(t, err)
	assert.Nil(t, inst.AssignedWorkerStatusID)
	assert.NotNil(t, inst.EndTime)
	actions, err := s.ListActions(ctx, h.ID)
	require.NoError(t, err)
	assert.Len(t, actions, 2)

	var completed *core.InstanceCompleted
	require.Eventually(t, func() bool {
		for {
			select {
			case e := <-events:
				if c, ok := e.(*core.InstanceCompleted); ok {
					completed = c
					return true
				}
			default:
				return false
			}
		}
	}, time.Second, 5*time.Millisecond)
	assert.NoError(t, completed.Error)
	assert.Equal(t, h.ID, completed.Instance.ID)

	cancel()
	require.NoError(t, wait(t, ierr, 10*time.Second))
	require.NoError(t, wait(t, aerr, 10*time.Second))
}

func TestInstanceWorker_UnknownWorkflowFails(t *testing.T) {
	s := storagetest.Open(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inst := storagetest.Instance(t, s, "worker-tests")
	iw := worker.NewInstanceWorker(s, registry.New(), worker.WithLogger(log.Discard()))
	errc := start(ctx, iw)

	require.Eventually(t, func() bool {
		got, err := s.GetInstance(ctx, inst.ID)
		return err == nil && got.Status == core.StatusDone
	}, 5*time.Second, 20*time.Millisecond)
	got, err := s.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.True(t, got.Failed())

	cancel()
	require.NoError(t, wait(t, errc, 10*time.Second))
}

func TestInstanceWorker_ReleasesSuspendedInstancesOnShutdown(t *testing.T) {
	s := storagetest.Open(t)
	reg := newInstanceRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// No action worker runs, so the instance stays suspended.
	iw := worker.NewInstanceWorker(s, reg, worker.GracePeriod(100*time.Millisecond), worker.WithLogger(log.Discard()))
	errc := start(ctx, iw)

	h, err := queue.QueueNew(ctx, s, quadrupleWorkflow, 1)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		actions, err := s.ListActions(ctx, h.ID)
		return err == nil && len(actions) == 1
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, wait(t, errc, 10*time.Second))

	inst, err := h.Instance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.StatusQueued, inst.Status)
	assert.Nil(t, inst.AssignedWorkerStatusID)
}

func TestInstanceWorker_ResumesReleasedInstance(t *testing.T) {
	s := storagetest.Open(t)
	reg := newInstanceRegistry(t)

	first, stopFirst := context.WithCancel(context.Background())
	iw := worker.NewInstanceWorker(s, reg, worker.GracePeriod(50*time.Millisecond), worker.WithLogger(log.Discard()))
	errc := start(first, iw)
	h, err := queue.QueueNew(first, s, quadrupleWorkflow, 3)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		actions, err := s.ListActions(first, h.ID)
		return err == nil && len(actions) == 1
	}, 5*time.Second, 20*time.Millisecond)
	stopFirst()
	require.NoError(t, wait(t, errc, 10*time.Second))

	// A second host replays the instance and reuses the queued action.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ierr := start(ctx, worker.NewInstanceWorker(s, reg, worker.WithLogger(log.Discard())))
	aerr := start(ctx, worker.NewActionWorker(s, reg, worker.WithLogger(log.Discard())))

	waitCtx, stop := context.WithTimeout(ctx, 10*time.Second)
	defer stop()
	got, err := queue.WaitResult[int](waitCtx, h)
	require.NoError(t, err)
	assert.Equal(t, 12, got)

	actions, err := s.ListActions(ctx, h.ID)
	require.NoError(t, err)
	assert.Len(t, actions, 2)

	cancel()
	require.NoError(t, wait(t, ierr, 10*time.Second))
	require.NoError(t, wait(t, aerr, 10*time.Second))
}
