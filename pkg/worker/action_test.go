package worker_test

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/simple-durable-workflows/pkg/actionctx"
	"github.com/jdziat/simple-durable-workflows/pkg/core"
	"github.com/jdziat/simple-durable-workflows/pkg/internal/log"
	"github.com/jdziat/simple-durable-workflows/pkg/queue"
	"github.com/jdziat/simple-durable-workflows/pkg/registry"
	"github.com/jdziat/simple-durable-workflows/pkg/storage"
	"github.com/jdziat/simple-durable-workflows/pkg/storage/storagetest"
	"github.com/jdziat/simple-durable-workflows/pkg/worker"
)

func double(_ context.Context, n int) (int, error) { return n * 2, nil }

var chattyOutput transcript

// chatty prints three lines, yielding between them.
func chatty(ctx context.Context, _ string) error {
	chattyOutput.add("START")
	select {
	case <-time.After(50 * time.Millisecond):
	case <-ctx.Done():
		return context.Cause(ctx)
	}
	chattyOutput.add("MIDDLE")
	select {
	case <-time.After(2 * time.Second):
	case <-ctx.Done():
		if _, ok := actionctx.SoftTimedOut(ctx); ok {
			chattyOutput.add("CANCELLED")
		}
		return context.Cause(ctx)
	}
	chattyOutput.add("END")
	return nil
}

var flakyCalls atomic.Int32

func flaky(_ context.Context, _ string) (string, error) {
	if flakyCalls.Add(1) == 1 {
		return "", errors.New("transient")
	}
	return "ok", nil
}

func spin(_ context.Context, _ string) (int, error) {
	n := 0
	for {
		n++
		if n == -1 {
			return n, nil
		}
	}
}

// stubborn ignores cancellation.
func stubborn(_ context.Context, _ string) error {
	time.Sleep(2 * time.Second)
	return nil
}

var (
	doubleAction = registry.MustAction(double)
	chattyAction = registry.MustAction(chatty, registry.SoftTimeout(300*time.Millisecond), registry.Retries(0))
	flakyAction  = registry.MustAction(flaky, registry.Retries(2), registry.Backoff(50*time.Millisecond, 1))
	spinAction   = registry.MustAction(spin, registry.CPUHardTimeout(time.Second), registry.Retries(0))

	stubbornAction = registry.MustAction(stubborn,
		registry.SoftTimeout(200*time.Millisecond), registry.HardTimeout(600*time.Millisecond), registry.Retries(0))
)

func newRegistry(t testing.TB) *registry.Registry {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Register(doubleAction, chattyAction, flakyAction, spinAction, stubbornAction))
	return reg
}

func TestActionWorker_ExecutesAction(t *testing.T) {
	s := storagetest.Open(t)
	reg := newRegistry(t)
	hub := queue.NewHub()
	events := hub.Events()

	var completed atomic.Int32
	hub.OnActionComplete(func(context.Context, *core.DaemonAction) { completed.Add(1) })

	a := queueAction(t, s, doubleAction, 21, "s0")

	ctx, cancel := context.WithCancel(context.Background())
	w := worker.NewActionWorker(s, reg, worker.WithHub(hub), worker.WithLogger(log.Discard()))
	errc := start(ctx, w)

	done := waitDone(t, s, a.ID, 5*time.Second)
	res, err := s.FinalResult(ctx, done)
	require.NoError(t, err)
	assert.JSONEq(t, "42", string(res.ResultBody))
	assert.Nil(t, done.AssignedWorkerStatusID)
	assert.Eventually(t, func() bool { return completed.Load() == 1 }, time.Second, 5*time.Millisecond)

	var seen []string
	timeout := time.After(time.Second)
collect:
	for {
		select {
		case e := <-events:
			switch e.(type) {
			case *core.ActionStarted:
				seen = append(seen, "started")
			case *core.ActionCompleted:
				seen = append(seen, "completed")
				break collect
			}
		case <-timeout:
			break collect
		}
	}
	assert.Equal(t, []string{"started", "completed"}, seen)

	cancel()
	require.NoError(t, wait(t, errc, 10*time.Second))
	assert.Equal(t, worker.StateStopped, w.State())
}

func TestActionWorker_RetriesFailedAttempt(t *testing.T) {
	s := storagetest.Open(t)
	reg := newRegistry(t)
	hub := queue.NewHub()
	flakyCalls.Store(0)

	var retries atomic.Int32
	hub.OnActionRetry(func(_ context.Context, _ *core.DaemonAction, _ int, err error) {
		retries.Add(1)
	})

	a := queueAction(t, s, flakyAction, "x", "s0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := worker.NewActionWorker(s, reg, worker.WithHub(hub), worker.WithLogger(log.Discard()))
	errc := start(ctx, w)

	done := waitDone(t, s, a.ID, 5*time.Second)
	results, err := s.ListResults(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "transient", results[0].Exception)
	final, err := s.FinalResult(ctx, done)
	require.NoError(t, err)
	assert.JSONEq(t, `"ok"`, string(final.ResultBody))
	assert.Equal(t, int32(1), retries.Load())

	cancel()
	require.NoError(t, wait(t, errc, 10*time.Second))
}

func TestActionWorker_UnknownAction(t *testing.T) {
	s := storagetest.Open(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inst := storagetest.Instance(t, s, "worker-tests")
	a, _, err := s.QueueAction(ctx, &core.DaemonAction{InstanceID: inst.ID, State: "s0", RegistryID: "app.Missing", InputBody: []byte(`{}`)})
	require.NoError(t, err)

	w := worker.NewActionWorker(s, registry.New(), worker.WithLogger(log.Discard()))
	errc := start(ctx, w)

	done := waitDone(t, s, a.ID, 5*time.Second)
	res, err := s.FinalResult(ctx, done)
	require.NoError(t, err)
	assert.True(t, res.Failed())

	cancel()
	require.NoError(t, wait(t, errc, 10*time.Second))
}

func TestActionWorker_SoftTimeoutKeepsWorkerRunning(t *testing.T) {
	s := storagetest.Open(t)
	reg := newRegistry(t)
	hub := queue.NewHub()
	events := hub.Events()

	a := queueAction(t, s, chattyAction, "hi", "s0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := worker.NewActionWorker(s, reg, worker.WithHub(hub), worker.TasksBeforeRecycle(10), worker.WithLogger(log.Discard()))
	errc := start(ctx, w)

	done := waitDone(t, s, a.ID, 5*time.Second)
	res, err := s.FinalResult(ctx, done)
	require.NoError(t, err)
	assert.Contains(t, res.Exception, "soft timeout")

	require.Eventually(t, func() bool {
		return len(chattyOutput.get()) == 3
	}, time.Second, 10*time.Millisecond)
	lines := chattyOutput.get()
	assert.Equal(t, []string{"START", "MIDDLE", "CANCELLED"}, lines)
	assert.NotContains(t, lines, "END")
	assert.Equal(t, worker.StateRunning, w.State())

	var timedOut *core.ActionTimedOut
	require.Eventually(t, func() bool {
		select {
		case e := <-events:
			if to, ok := e.(*core.ActionTimedOut); ok {
				timedOut = to
				return true
			}
		default:
		}
		return false
	}, time.Second, time.Millisecond)
	assert.Equal(t, core.TimeoutSoft, timedOut.Type)
	assert.Equal(t, core.MeasureWallTime, timedOut.Measurement)

	cancel()
	require.NoError(t, wait(t, errc, 10*time.Second))
}

func TestActionWorker_HardTimeoutAfterIgnoredSoftTimeout(t *testing.T) {
	s := storagetest.Open(t)
	reg := newRegistry(t)
	ctx := context.Background()

	a := queueAction(t, s, stubbornAction, "go", "s0")
	w := worker.NewActionWorker(s, reg, worker.Concurrency(1), worker.GracePeriod(500*time.Millisecond), worker.WithLogger(log.Discard()))
	began := time.Now()
	errc := start(ctx, w)

	require.Eventually(t, func() bool {
		got, err := s.GetAction(ctx, a.ID)
		return err == nil && got.StartedDatetime != nil
	}, 2*time.Second, 10*time.Millisecond)
	// The slot is still held after the soft limit, so this row must wait.
	b := queueAction(t, s, doubleAction, 1, "s1")

	err := wait(t, errc, 5*time.Second)
	elapsed := time.Since(began)
	assert.Equal(t, worker.ExitHardTimeout, worker.ExitCode(err))
	assert.Less(t, elapsed, 2*time.Second)

	done := waitDone(t, s, a.ID, time.Second)
	res, err := s.FinalResult(ctx, done)
	require.NoError(t, err)
	assert.Contains(t, res.Exception, "hard timeout")

	got, err := s.GetAction(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusQueued, got.Status)
}

func TestActionWorker_RecyclesAfterTaskBudget(t *testing.T) {
	s := storagetest.Open(t)
	reg := newRegistry(t)
	for i, state := range []string{"s0", "s1", "s2"} {
		queueAction(t, s, doubleAction, i, state)
	}

	w := worker.NewActionWorker(s, reg, worker.Concurrency(1), worker.TasksBeforeRecycle(2), worker.WithLogger(log.Discard()))
	err := wait(t, start(context.Background(), w), 10*time.Second)

	var exit *worker.ExitError
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, worker.ExitRecycle, exit.Code)
	assert.Equal(t, worker.ExitRecycle, worker.ExitCode(err))
	assert.Equal(t, worker.StateStopped, w.State())

	status, err := s.GetWorker(context.Background(), w.ID())
	require.NoError(t, err)
	assert.True(t, status.IsDraining)
}

func TestActionWorker_HonoursScheduleAfter(t *testing.T) {
	s := storagetest.Open(t)
	reg := newRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inst := storagetest.Instance(t, s, "worker-tests")
	body, err := doubleAction.Encode(1)
	require.NoError(t, err)
	row := doubleAction.Row(inst.ID, "s0", body)
	after := time.Now().Add(400 * time.Millisecond)
	row.ScheduleAfter = &after
	a, _, err := s.QueueAction(ctx, row)
	require.NoError(t, err)

	w := worker.NewActionWorker(s, reg, worker.Concurrency(1), worker.WithLogger(log.Discard()))
	errc := start(ctx, w)

	// The waiting row must not hold the only slot.
	b := queueAction(t, s, doubleAction, 2, "s1")
	doneB := waitDone(t, s, b.ID, 5*time.Second)
	doneA := waitDone(t, s, a.ID, 5*time.Second)

	require.NotNil(t, doneA.StartedDatetime)
	assert.False(t, doneA.StartedDatetime.Before(after.Add(-50*time.Millisecond)))
	assert.True(t, doneB.StartedDatetime.Before(*doneA.StartedDatetime))

	cancel()
	require.NoError(t, wait(t, errc, 10*time.Second))
}

func TestActionWorker_DrainStopsIntake(t *testing.T) {
	s := storagetest.Open(t)
	reg := newRegistry(t)

	w := worker.NewActionWorker(s, reg, worker.WithLogger(log.Discard()))
	errc := start(context.Background(), w)
	require.Eventually(t, func() bool { return w.State() == worker.StateRunning }, time.Second, 5*time.Millisecond)

	w.Drain()
	<-w.Draining()
	require.NoError(t, wait(t, errc, 10*time.Second))

	a := queueAction(t, s, doubleAction, 3, "s0")
	time.Sleep(100 * time.Millisecond)
	got, err := s.GetAction(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusQueued, got.Status)
}

func TestActionWorker_HardTimeoutExitsProcess(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a worker process")
	}
	if os.Getenv("TEST_DATABASE_URL") != "" {
		t.Skip("worker process shares the SQLite file")
	}
	s := storagetest.Open(t)
	a := queueAction(t, s, spinAction, "go", "s0")

	cmd := exec.Command(os.Args[0], "-test.run=^TestHelperProcess$")
	cmd.Env = append(os.Environ(), "DURABLE_WORKER_HELPER=1", "DURABLE_WORKER_DB="+storagetest.Path(t, s))
	began := time.Now()
	err := cmd.Run()
	elapsed := time.Since(began)

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, worker.ExitHardTimeout, exitErr.ExitCode())
	assert.GreaterOrEqual(t, elapsed, time.Second)
	assert.Less(t, elapsed, 6*time.Second)

	done := waitDone(t, s, a.ID, time.Second)
	res, err := s.FinalResult(context.Background(), done)
	require.NoError(t, err)
	assert.Contains(t, res.Exception, "hard timeout")
}

// TestHelperProcess is the worker process spawned by the hard timeout test.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("DURABLE_WORKER_HELPER") != "1" {
		t.Skip("helper process")
	}
	db, err := gorm.Open(sqlite.Open(storage.SQLiteDSN(os.Getenv("DURABLE_WORKER_DB"))), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		os.Exit(worker.ExitFailure)
	}
	s := storage.New(db, storage.WithPollInterval(20*time.Millisecond))
	w := worker.NewActionWorker(s, newRegistry(t), worker.GracePeriod(2*time.Second), worker.WithLogger(log.Discard()))
	os.Exit(worker.ExitCode(w.Run(context.Background())))
}
