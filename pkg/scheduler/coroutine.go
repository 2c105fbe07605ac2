package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
)

// Coroutine is a workflow body hosted by a Scheduler.
type Coroutine struct {
	s      *Scheduler
	ctx    context.Context
	cancel context.CancelCauseFunc
	resume chan struct{}
	yield  chan struct{}
	onDone func()

	// touched only while holding the baton
	waiting  *Future
	finished bool
	panicked any
}

func (co *Coroutine) main(fn func(*Coroutine)) {
	<-co.resume
	defer func() {
		if r := recover(); r != nil {
			co.panicked = fmt.Sprintf("%v\n%s", r, debug.Stack())
			co.s.logger.Error("coroutine panicked", "panic", r)
		}
		co.finished = true
		co.yield <- struct{}{}
	}()
	fn(co)
}

// Context returns the coroutine's context.
func (co *Coroutine) Context() context.Context { return co.ctx }

// Scheduler returns the hosting scheduler.
func (co *Coroutine) Scheduler() *Scheduler { return co.s }

// Panicked returns the recovered panic and stack, if the body panicked.
func (co *Coroutine) Panicked() any { return co.panicked }

// Await suspends the coroutine until f resolves or the coroutine is
// cancelled. It must be called from the coroutine's own goroutine.
func (co *Coroutine) Await(f *Future) (any, error) {
	if err := co.ctx.Err(); err != nil {
		return nil, context.Cause(co.ctx)
	}
	if f.done {
		return f.value, f.err
	}
	f.waiters = append(f.waiters, co)
	co.waiting = f
	co.yield <- struct{}{}
	<-co.resume
	if f.done {
		return f.value, f.err
	}
	return nil, context.Cause(co.ctx)
}

// Cancel cancels the coroutine's context with cause and wakes it if it is
// suspended. Safe to call from any goroutine.
func (co *Coroutine) Cancel(cause error) {
	co.cancel(cause)
	_ = co.s.Submit(func() {
		if !co.finished {
			co.s.interrupt(co)
		}
	})
}
