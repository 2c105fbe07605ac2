package scheduler

// Future is a value that becomes available later. All state is owned by the
// loop; Resolve may be called from any goroutine.
type Future struct {
	s       *Scheduler
	done    bool
	value   any
	err     error
	waiters []*Coroutine
}

// NewFuture creates an unresolved future bound to s.
func (s *Scheduler) NewFuture() *Future {
	return &Future{s: s}
}

// Resolved creates a future that is already settled. Call it from the loop.
func (s *Scheduler) Resolved(value any, err error) *Future {
	return &Future{s: s, done: true, value: value, err: err}
}

// Ready reports whether the future has settled. Call it from the loop.
func (f *Future) Ready() bool { return f.done }

// Resolve settles the future. Only the first resolution counts.
func (f *Future) Resolve(value any, err error) error {
	return f.s.Submit(func() { f.Settle(value, err) })
}

// Settle resolves the future in place and queues every waiter. Call it from
// the loop.
func (f *Future) Settle(value any, err error) {
	if f.done {
		return
	}
	f.done = true
	f.value = value
	f.err = err
	waiters := f.waiters
	f.waiters = nil
	for _, co := range waiters {
		if co.waiting == f {
			co.waiting = nil
			f.s.queueWakeup(co)
		}
	}
}

func (f *Future) removeWaiter(co *Coroutine) {
	for i, w := range f.waiters {
		if w == co {
			f.waiters = append(f.waiters[:i], f.waiters[i+1:]...)
			return
		}
	}
}
