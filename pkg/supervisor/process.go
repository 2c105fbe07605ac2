package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/jdziat/simple-durable-workflows/pkg/worker"
)

// keepAlive runs worker slot idx of kind, restarting it after every exit
// until ctx is done.
func (s *Supervisor) keepAlive(ctx context.Context, kind string, idx int) error {
	logger := s.logger.With("kind", kind, "slot", idx)
	for {
		code, err := s.runChild(ctx, kind, idx)
		if ctx.Err() != nil {
			return nil
		}

		reason := exitReason(code)
		switch {
		case err != nil:
			logger.Error("worker process failed to start", "error", err)
		case code == worker.ExitRecycle:
			logger.Info("worker recycled")
		case code == worker.ExitHardTimeout:
			logger.Warn("worker exited after a hard timeout")
		default:
			logger.Warn("worker process exited", "exit_code", code)
		}
		restartsTotal.WithLabelValues(kind, reason).Inc()
		s.restarts.Add(1)

		timer := time.NewTimer(s.cfg.RestartDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// runChild starts one worker process and waits for it. When ctx is done
// the child is interrupted, then killed after StopTimeout.
func (s *Supervisor) runChild(ctx context.Context, kind string, idx int) (int, error) {
	argv := s.cfg.Command(kind)
	if len(argv) == 0 {
		return -1, ErrNoCommand
	}

	// #nosec G204 -- argv comes from the supervisor's own configuration
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), s.cfg.Env...)
	cmd.Env = append(cmd.Env, "DURABLE_WORKER_KIND="+kind, "DURABLE_WORKER_SLOT="+strconv.Itoa(idx))
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = s.cfg.StopTimeout

	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("start %s worker: %w", kind, err)
	}
	s.children.Add(1)
	childrenRunning.WithLabelValues(kind).Inc()
	s.logger.Debug("worker process started", "kind", kind, "slot", idx, "pid", cmd.Process.Pid)

	err := cmd.Wait()
	s.children.Add(-1)
	childrenRunning.WithLabelValues(kind).Dec()

	var exitErr *exec.ExitError
	if cmd.ProcessState == nil || (err != nil && !errors.As(err, &exitErr) && ctx.Err() == nil) {
		return -1, err
	}
	return cmd.ProcessState.ExitCode(), nil
}

func exitReason(code int) string {
	switch code {
	case worker.ExitOK:
		return "exit"
	case worker.ExitRecycle:
		return "recycle"
	case worker.ExitHardTimeout:
		return "hard_timeout"
	case -1:
		return "start_failed"
	}
	return "failure"
}
