package worker_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jdziat/simple-durable-workflows/pkg/core"
	"github.com/jdziat/simple-durable-workflows/pkg/registry"
	"github.com/jdziat/simple-durable-workflows/pkg/storage"
	"github.com/jdziat/simple-durable-workflows/pkg/storage/storagetest"
)

// transcript records the lines an action printed.
type transcript struct {
	mu    sync.Mutex
	lines []string
}

func (tr *transcript) add(line string) {
	tr.mu.Lock()
	tr.lines = append(tr.lines, line)
	tr.mu.Unlock()
}

func (tr *transcript) get() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.lines...)
}

func queueAction(t *testing.T, s *storage.Store, def *registry.Action, payload any, state string) *core.DaemonAction {
	t.Helper()
	inst := storagetest.Instance(t, s, "worker-tests")
	body, err := def.Encode(payload)
	require.NoError(t, err)
	a, created, err := s.QueueAction(context.Background(), def.Row(inst.ID, state, body))
	require.NoError(t, err)
	require.True(t, created)
	return a
}

func waitDone(t *testing.T, s *storage.Store, id string, timeout time.Duration) *core.DaemonAction {
	t.Helper()
	var a *core.DaemonAction
	require.Eventually(t, func() bool {
		got, err := s.GetAction(context.Background(), id)
		if err != nil {
			return false
		}
		a = got
		return got.Status == core.StatusDone
	}, timeout, 20*time.Millisecond)
	return a
}

type runner interface {
	Run(ctx context.Context) error
}

// start runs w in the background; the returned channel yields Run's error.
func start(ctx context.Context, w runner) <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()
	return errc
}

func wait(t *testing.T, errc <-chan error, timeout time.Duration) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(timeout):
		t.Fatal("worker did not stop")
		return nil
	}
}
