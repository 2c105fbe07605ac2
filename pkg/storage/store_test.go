package storage_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/jdziat/simple-durable-workflows/pkg/core"
	"github.com/jdziat/simple-durable-workflows/pkg/storage"
	"github.com/jdziat/simple-durable-workflows/pkg/storage/storagetest"
)

type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

func intPtr(n int) *int { return &n }

func newAction(instanceID, state string) *core.DaemonAction {
	return &core.DaemonAction{
		InstanceID:          instanceID,
		State:               state,
		RegistryID:          "app.Charge",
		InputBody:           []byte(`{"amount":5}`),
		RetryMaxAttempts:    intPtr(2),
		RetryBackoffSeconds: 4,
		RetryBackoffFactor:  2,
	}
}

func TestQueueInstance_Status(t *testing.T) {
	s := storagetest.Open(t)
	ctx := context.Background()

	now := &core.WorkflowInstance{WorkflowName: "orders", RegistryID: "app.Checkout"}
	require.NoError(t, s.QueueInstance(ctx, now))
	assert.NotEmpty(t, now.ID)
	assert.Equal(t, core.StatusQueued, now.Status)

	later := time.Now().Add(time.Hour)
	sched := &core.WorkflowInstance{WorkflowName: "orders", RegistryID: "app.Checkout", LaunchTime: &later}
	require.NoError(t, s.QueueInstance(ctx, sched))
	assert.Equal(t, core.StatusScheduled, sched.Status)

	err := s.QueueInstance(ctx, &core.WorkflowInstance{WorkflowName: "bad queue!", RegistryID: "app.Checkout"})
	assert.ErrorIs(t, err, core.ErrInvalidQueueName)
}

func TestClaimInstance(t *testing.T) {
	s := storagetest.Open(t)
	ctx := context.Background()
	w1 := storagetest.Worker(t, s, false)
	w2 := storagetest.Worker(t, s, false)
	inst := storagetest.Instance(t, s, "orders")

	got, err := s.ClaimInstance(ctx, inst.ID, w1)
	require.NoError(t, err)
	assert.Equal(t, core.StatusInProgress, got.Status)
	require.NotNil(t, got.AssignedWorkerStatusID)
	assert.Equal(t, w1, *got.AssignedWorkerStatusID)

	_, err = s.ClaimInstance(ctx, inst.ID, w2)
	assert.ErrorIs(t, err, core.ErrNotQueued)

	_, err = s.CompleteInstance(ctx, inst.ID, w2, nil, "", "")
	assert.ErrorIs(t, err, core.ErrNotOwned)

	_, err = s.ClaimInstance(ctx, "missing", w1)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestClaimInstance_ConcurrentSingleWinner(t *testing.T) {
	s := storagetest.Open(t)
	ctx := context.Background()
	inst := storagetest.Instance(t, s, "orders")

	const n = 8
	workers := make([]string, n)
	for i := range workers {
		workers[i] = storagetest.Worker(t, s, false)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for _, w := range workers {
		wg.Add(1)
		go func(w string) {
			defer wg.Done()
			_, err := s.ClaimInstance(ctx, inst.ID, w)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.True(t, errors.Is(err, core.ErrNotQueued) || errors.Is(err, core.ErrClaimConflict), "unexpected error: %v", err)
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestCompleteInstance(t *testing.T) {
	s := storagetest.Open(t)
	ctx := context.Background()
	w := storagetest.Worker(t, s, false)
	inst := storagetest.Instance(t, s, "orders")

	_, err := s.ClaimInstance(ctx, inst.ID, w)
	require.NoError(t, err)
	done, err := s.CompleteInstance(ctx, inst.ID, w, nil, "boom", "stack")
	require.NoError(t, err)
	assert.True(t, done.Failed())
	assert.NotNil(t, done.EndTime)
	assert.Nil(t, done.AssignedWorkerStatusID)

	stored, err := s.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "boom", stored.Exception)
}

func TestWithObject_RollbackOnError(t *testing.T) {
	s := storagetest.Open(t)
	ctx := context.Background()
	inst := storagetest.Instance(t, s, "orders")

	sentinel := errors.New("abort")
	_, err := storage.WithObject(ctx, s, inst.ID, func(_ *gorm.DB, row *core.WorkflowInstance) error {
		row.Status = core.StatusDone
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	stored, err := s.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusQueued, stored.Status)

	var events int64
	require.NoError(t, s.DB().Model(&core.StatusEvent{}).Where("row_id = ?", inst.ID).Count(&events).Error)
	assert.Equal(t, int64(1), events)
}

func TestQueueAction_Idempotent(t *testing.T) {
	s := storagetest.Open(t)
	ctx := context.Background()
	inst := storagetest.Instance(t, s, "orders")

	first, created, err := s.QueueAction(ctx, newAction(inst.ID, "h1"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, core.StatusQueued, first.Status)

	again, created, err := s.QueueAction(ctx, newAction(inst.ID, "h1"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	actions, err := s.ListActions(ctx, inst.ID)
	require.NoError(t, err)
	assert.Len(t, actions, 1)

	found, err := s.FindAction(ctx, inst.ID, "h1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)

	_, err = s.FindAction(ctx, inst.ID, "h2")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestQueueAction_Validation(t *testing.T) {
	s := storagetest.Open(t)
	ctx := context.Background()
	inst := storagetest.Instance(t, s, "orders")

	bad := newAction(inst.ID, "h1")
	bad.RegistryID = "1nvalid"
	_, _, err := s.QueueAction(ctx, bad)
	assert.ErrorIs(t, err, core.ErrInvalidRegistryID)

	big := newAction(inst.ID, "h2")
	big.InputBody = make([]byte, 2<<20)
	_, _, err = s.QueueAction(ctx, big)
	assert.ErrorIs(t, err, core.ErrInputTooLarge)
}

func TestRecordActionResult_RetryThenExhaust(t *testing.T) {
	s := storagetest.Open(t, storage.WithRandom(fixedRand(0.5)))
	ctx := context.Background()
	w := storagetest.Worker(t, s, true)
	inst := storagetest.Instance(t, s, "orders")

	a, _, err := s.QueueAction(ctx, newAction(inst.ID, "h1"))
	require.NoError(t, err)

	// Attempt 1 fails and is requeued 4s after it ended.
	_, err = s.ClaimAction(ctx, a.ID, w)
	require.NoError(t, err)
	a, res, err := s.RecordActionResult(ctx, a.ID, w, storage.Outcome{Exception: "ValueError: nope"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.AttemptNum)
	assert.Equal(t, core.StatusQueued, a.Status)
	assert.Equal(t, 1, a.RetryCurrentAttempt)
	require.NotNil(t, a.ScheduleAfter)
	require.NotNil(t, a.EndedDatetime)
	assert.WithinDuration(t, a.EndedDatetime.Add(4*time.Second), *a.ScheduleAfter, time.Millisecond)
	assert.Nil(t, a.FinalResultID)

	// Attempt 2 fails, 8s backoff.
	_, err = s.ClaimAction(ctx, a.ID, w)
	require.NoError(t, err)
	a, res, err = s.RecordActionResult(ctx, a.ID, w, storage.Outcome{Exception: "ValueError: nope"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.AttemptNum)
	assert.Equal(t, core.StatusQueued, a.Status)
	assert.WithinDuration(t, a.EndedDatetime.Add(8*time.Second), *a.ScheduleAfter, time.Millisecond)

	// Attempt 3 exhausts the budget of two retries.
	_, err = s.ClaimAction(ctx, a.ID, w)
	require.NoError(t, err)
	a, res, err = s.RecordActionResult(ctx, a.ID, w, storage.Outcome{Exception: "ValueError: nope"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.AttemptNum)
	assert.Equal(t, core.StatusDone, a.Status)
	require.NotNil(t, a.FinalResultID)
	assert.Equal(t, res.ID, *a.FinalResultID)

	final, err := s.FinalResult(ctx, a)
	require.NoError(t, err)
	assert.True(t, final.Failed())

	results, err := s.ListResults(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestRecordActionResult_SuccessAndNoRetry(t *testing.T) {
	s := storagetest.Open(t)
	ctx := context.Background()
	w := storagetest.Worker(t, s, true)
	inst := storagetest.Instance(t, s, "orders")

	ok, _, err := s.QueueAction(ctx, newAction(inst.ID, "ok"))
	require.NoError(t, err)
	_, err = s.ClaimAction(ctx, ok.ID, w)
	require.NoError(t, err)
	ok, res, err := s.RecordActionResult(ctx, ok.ID, w, storage.Outcome{Result: []byte(`42`)})
	require.NoError(t, err)
	assert.Equal(t, core.StatusDone, ok.Status)
	assert.JSONEq(t, `42`, string(res.ResultBody))

	fatal, _, err := s.QueueAction(ctx, newAction(inst.ID, "fatal"))
	require.NoError(t, err)
	_, err = s.ClaimAction(ctx, fatal.ID, w)
	require.NoError(t, err)
	fatal, _, err = s.RecordActionResult(ctx, fatal.ID, w, storage.Outcome{Exception: "x", NoRetry: true})
	require.NoError(t, err)
	assert.Equal(t, core.StatusDone, fatal.Status)
	assert.Equal(t, 0, fatal.RetryCurrentAttempt)

	_, _, err = s.RecordActionResult(ctx, fatal.ID, w, storage.Outcome{})
	assert.ErrorIs(t, err, core.ErrNotOwned)
}

func TestClaimAction_NotQueued(t *testing.T) {
	s := storagetest.Open(t)
	ctx := context.Background()
	w := storagetest.Worker(t, s, true)
	inst := storagetest.Instance(t, s, "orders")

	a, _, err := s.QueueAction(ctx, newAction(inst.ID, "h1"))
	require.NoError(t, err)
	claimed, err := s.ClaimAction(ctx, a.ID, w)
	require.NoError(t, err)
	assert.NotNil(t, claimed.StartedDatetime)

	_, err = s.ClaimAction(ctx, a.ID, w)
	assert.ErrorIs(t, err, core.ErrNotQueued)
}

func TestReclaimWorker(t *testing.T) {
	s := storagetest.Open(t)
	ctx := context.Background()
	dead := storagetest.Worker(t, s, true)
	inst := storagetest.Instance(t, s, "orders")

	_, err := s.ClaimInstance(ctx, inst.ID, dead)
	require.NoError(t, err)
	a, _, err := s.QueueAction(ctx, newAction(inst.ID, "h1"))
	require.NoError(t, err)
	_, err = s.ClaimAction(ctx, a.ID, dead)
	require.NoError(t, err)

	workers, err := s.DeadWorkers(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, workers, 1)
	assert.Equal(t, dead, workers[0].ID)

	nInst, nAct, err := s.ReclaimWorker(ctx, dead)
	require.NoError(t, err)
	assert.Equal(t, 1, nInst)
	assert.Equal(t, 1, nAct)

	gotInst, err := s.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusQueued, gotInst.Status)
	assert.Nil(t, gotInst.AssignedWorkerStatusID)

	gotAct, err := s.GetAction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusQueued, gotAct.Status)
	assert.Equal(t, 0, gotAct.RetryCurrentAttempt)

	workers, err = s.DeadWorkers(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, workers)
}

func TestPingWorker(t *testing.T) {
	s := storagetest.Open(t)
	ctx := context.Background()
	id := storagetest.Worker(t, s, true)

	require.NoError(t, s.PingWorker(ctx, id, true))
	w, err := s.GetWorker(ctx, id)
	require.NoError(t, err)
	assert.True(t, w.IsDraining)
	assert.NotZero(t, w.InternalProcessID)

	assert.ErrorIs(t, s.PingWorker(ctx, "missing", false), core.ErrNotFound)
}

func TestPromoteScheduled(t *testing.T) {
	s := storagetest.Open(t)
	ctx := context.Background()

	soon := time.Now().Add(50 * time.Millisecond)
	inst := &core.WorkflowInstance{WorkflowName: "orders", RegistryID: "app.Checkout", LaunchTime: &soon}
	require.NoError(t, s.QueueInstance(ctx, inst))

	n, err := s.PromoteScheduled(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.PromoteScheduled(ctx, soon.Add(time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusQueued, got.Status)
}

func TestPurgeCompleted(t *testing.T) {
	s := storagetest.Open(t)
	ctx := context.Background()
	w := storagetest.Worker(t, s, false)

	old := storagetest.Instance(t, s, "orders")
	_, _, err := s.QueueAction(ctx, newAction(old.ID, "h1"))
	require.NoError(t, err)
	_, err = s.ClaimInstance(ctx, old.ID, w)
	require.NoError(t, err)
	_, err = s.CompleteInstance(ctx, old.ID, w, nil, "", "")
	require.NoError(t, err)

	live := storagetest.Instance(t, s, "orders")

	n, err := s.PurgeCompleted(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetInstance(ctx, old.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	actions, err := s.ListActions(ctx, old.ID)
	require.NoError(t, err)
	assert.Empty(t, actions)

	_, err = s.GetInstance(ctx, live.ID)
	assert.NoError(t, err)
}

func TestListInstances(t *testing.T) {
	s := storagetest.Open(t)
	ctx := context.Background()
	storagetest.Instance(t, s, "orders")
	storagetest.Instance(t, s, "orders")

	all, err := s.ListInstances(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	one, err := s.ListInstances(ctx, core.StatusQueued, 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)

	none, err := s.ListInstances(ctx, core.StatusDone, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}
