package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jdziat/simple-durable-workflows/pkg/schedule"
	"github.com/jdziat/simple-durable-workflows/pkg/storage"
)

// ErrNoCommand is returned by Run when workers are requested without a
// command to start them.
var ErrNoCommand = errors.New("supervisor: worker command not configured")

// Supervisor runs worker processes and the store maintenance loops.
type Supervisor struct {
	store  *storage.Store
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	entries  []*recurring
	children atomic.Int64
	restarts atomic.Int64
}

// New creates a Supervisor over store.
func New(store *storage.Store, opts ...Option) *Supervisor {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Supervisor{
		store:  store,
		cfg:    cfg,
		logger: cfg.Logger.With("component", "supervisor"),
	}
}

// Children returns how many worker processes are running.
func (s *Supervisor) Children() int64 { return s.children.Load() }

// Restarts returns how many times a worker process was replaced.
func (s *Supervisor) Restarts() int64 { return s.restarts.Load() }

// Run starts the configured workers and maintenance loops and blocks until
// ctx is done. Children are interrupted on shutdown and waited for.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.cfg.ActionWorkers+s.cfg.InstanceWorkers > 0 && s.cfg.Command == nil {
		return ErrNoCommand
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := range s.cfg.ActionWorkers {
		g.Go(func() error { return s.keepAlive(ctx, KindAction, i) })
	}
	for i := range s.cfg.InstanceWorkers {
		g.Go(func() error { return s.keepAlive(ctx, KindInstance, i) })
	}

	g.Go(func() error {
		s.every(ctx, s.cfg.ReclaimInterval, func(ctx context.Context) {
			if _, err := s.ReclaimDead(ctx); err != nil {
				s.logger.Error("dead worker reclaim failed", "error", err)
			}
		})
		return nil
	})
	g.Go(func() error {
		s.every(ctx, s.cfg.PromoteInterval, func(ctx context.Context) {
			if _, err := s.PromoteDue(ctx); err != nil {
				s.logger.Error("scheduled promotion failed", "error", err)
			}
		})
		return nil
	})
	g.Go(func() error {
		s.every(ctx, s.cfg.ScheduleInterval, func(ctx context.Context) {
			s.FireDue(ctx, time.Now())
		})
		return nil
	})
	g.Go(func() error {
		s.every(ctx, s.cfg.StatsInterval, func(ctx context.Context) {
			if _, err := s.SnapshotDepths(ctx); err != nil {
				s.logger.Warn("queue depth snapshot failed", "error", err)
			}
		})
		return nil
	})
	if s.cfg.Retention > 0 {
		g.Go(func() error {
			s.every(ctx, s.cfg.PurgeInterval, func(ctx context.Context) {
				if err := s.Purge(ctx); err != nil {
					s.logger.Error("purge failed", "error", err)
				}
			})
			return nil
		})
	}
	if s.cfg.AdminAddr != "" {
		g.Go(func() error { return s.serveAdmin(ctx) })
	}

	s.logger.Info("supervisor started",
		"action_workers", s.cfg.ActionWorkers,
		"instance_workers", s.cfg.InstanceWorkers,
		"admin_addr", s.cfg.AdminAddr)
	err := g.Wait()
	s.logger.Info("supervisor stopped", "restarts", s.restarts.Load())
	return err
}

// every runs fn each interval until ctx is done.
func (s *Supervisor) every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// AddSchedule registers a recurring workflow. Its first firing is the
// schedule's next time after now.
func (s *Supervisor) AddSchedule(e schedule.Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.entries {
		if r.entry.Name == e.Name {
			return fmt.Errorf("supervisor: schedule %q already registered", e.Name)
		}
	}
	s.entries = append(s.entries, &recurring{entry: e, next: e.Schedule.Next(time.Now())})
	return nil
}
