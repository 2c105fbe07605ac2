package worker

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// cpuClock measures CPU time consumed since it was created.
type cpuClock interface {
	Elapsed() (time.Duration, error)
}

// newCPUClock picks the most precise clock available: the CPU time of
// thread tid, then of the whole process, then wall time.
func newCPUClock(proc *process.Process, tid int32) cpuClock {
	if proc != nil {
		if tid != 0 {
			if c, err := newThreadClock(proc, tid); err == nil {
				return c
			}
		}
		if c, err := newProcessClock(proc); err == nil {
			return c
		}
	}
	return wallClock{start: time.Now()}
}

func selfProcess() *process.Process {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil
	}
	return p
}

type threadClock struct {
	proc *process.Process
	tid  int32
	base float64
}

func newThreadClock(proc *process.Process, tid int32) (*threadClock, error) {
	c := &threadClock{proc: proc, tid: tid}
	base, err := c.read()
	if err != nil {
		return nil, err
	}
	c.base = base
	return c, nil
}

func (c *threadClock) read() (float64, error) {
	threads, err := c.proc.Threads()
	if err != nil {
		return 0, err
	}
	ts, ok := threads[c.tid]
	if !ok || ts == nil {
		return 0, fmt.Errorf("thread %d not found", c.tid)
	}
	return ts.User + ts.System, nil
}

func (c *threadClock) Elapsed() (time.Duration, error) {
	now, err := c.read()
	if err != nil {
		return 0, err
	}
	return seconds(now - c.base), nil
}

type processClock struct {
	proc *process.Process
	base float64
}

func newProcessClock(proc *process.Process) (*processClock, error) {
	c := &processClock{proc: proc}
	base, err := c.read()
	if err != nil {
		return nil, err
	}
	c.base = base
	return c, nil
}

func (c *processClock) read() (float64, error) {
	t, err := c.proc.Times()
	if err != nil {
		return 0, err
	}
	if t == nil {
		return 0, errors.New("no cpu times")
	}
	return t.User + t.System, nil
}

func (c *processClock) Elapsed() (time.Duration, error) {
	now, err := c.read()
	if err != nil {
		return 0, err
	}
	return seconds(now - c.base), nil
}

type wallClock struct{ start time.Time }

func (c wallClock) Elapsed() (time.Duration, error) { return time.Since(c.start), nil }

func seconds(s float64) time.Duration {
	if s < 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
