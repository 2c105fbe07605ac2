package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrClosed is returned when work is submitted to a stopped scheduler.
var ErrClosed = errors.New("scheduler: closed")

// Scheduler runs callbacks and coroutine steps in FIFO order.
type Scheduler struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	closed  bool
	running bool

	// owned by the loop goroutine
	live   map[*Coroutine]struct{}
	logger *slog.Logger
}

// New creates an idle scheduler.
func New() *Scheduler {
	return &Scheduler{
		wake:   make(chan struct{}, 1),
		live:   make(map[*Coroutine]struct{}),
		logger: slog.Default(),
	}
}

// SetLogger sets the scheduler's logger.
func (s *Scheduler) SetLogger(l *slog.Logger) { s.logger = l }

// Submit queues fn to run on the loop. It is safe to call from any goroutine.
func (s *Scheduler) Submit(fn func()) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.queue = append(s.queue, fn)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

func (s *Scheduler) pop() (func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, false
	}
	fn := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return fn, true
}

// Run drives the loop until ctx is done. On shutdown every live coroutine is
// cancelled and stepped until it returns, then Run returns ctx's error.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running || s.closed {
		s.mu.Unlock()
		return errors.New("scheduler: already running")
	}
	s.running = true
	s.mu.Unlock()

	for {
		if fn, ok := s.pop(); ok {
			fn()
			continue
		}
		select {
		case <-s.wake:
		case <-ctx.Done():
			s.shutdown(context.Cause(ctx))
			return ctx.Err()
		}
	}
}

func (s *Scheduler) shutdown(cause error) {
	for co := range s.live {
		co.cancel(cause)
		s.interrupt(co)
	}
	// Coroutines unwinding after cancellation may still submit work.
	for len(s.live) > 0 {
		if fn, ok := s.pop(); ok {
			fn()
			continue
		}
		<-s.wake
	}

	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.mu.Unlock()
}

// Len returns the number of live coroutines. Call it from the loop.
func (s *Scheduler) Len() int { return len(s.live) }

// Spawn starts fn as a coroutine on the loop. ctx is the parent of the
// coroutine's context, which Cancel or shutdown cancels. done, if non-nil,
// runs on the loop after fn returns.
func (s *Scheduler) Spawn(ctx context.Context, fn func(co *Coroutine), done func()) (*Coroutine, error) {
	cctx, cancel := context.WithCancelCause(ctx)
	co := &Coroutine{
		s:      s,
		ctx:    cctx,
		cancel: cancel,
		resume: make(chan struct{}),
		yield:  make(chan struct{}),
		onDone: done,
	}
	err := s.Submit(func() {
		s.live[co] = struct{}{}
		go co.main(fn)
		s.step(co)
		s.retire(co)
	})
	if err != nil {
		cancel(err)
		return nil, err
	}
	return co, nil
}

// step hands the baton to co and blocks until co yields or returns.
func (s *Scheduler) step(co *Coroutine) {
	co.resume <- struct{}{}
	<-co.yield
}

// wakeup resumes a suspended coroutine and retires it if it returned.
func (s *Scheduler) wakeup(co *Coroutine) {
	if co.finished {
		return
	}
	s.step(co)
	s.retire(co)
}

func (s *Scheduler) retire(co *Coroutine) {
	if !co.finished {
		return
	}
	delete(s.live, co)
	co.cancel(nil)
	if co.onDone != nil {
		co.onDone()
	}
}

// interrupt detaches a suspended coroutine from the future it waits on and
// queues its resumption.
func (s *Scheduler) interrupt(co *Coroutine) {
	f := co.waiting
	if f == nil {
		return
	}
	co.waiting = nil
	f.removeWaiter(co)
	s.queueWakeup(co)
}

func (s *Scheduler) queueWakeup(co *Coroutine) {
	s.mu.Lock()
	s.queue = append(s.queue, func() { s.wakeup(co) })
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
