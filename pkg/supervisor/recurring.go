package supervisor

import (
	"context"
	"time"

	"github.com/jdziat/simple-durable-workflows/pkg/queue"
	"github.com/jdziat/simple-durable-workflows/pkg/schedule"
	"github.com/jdziat/simple-durable-workflows/pkg/storage"
)

type recurring struct {
	entry schedule.Entry
	next  time.Time
}

// FireDue launches one instance for every recurring entry whose next firing
// is not after now, and returns how many were launched. Firings missed
// while the supervisor was down are collapsed into one launch.
func (s *Supervisor) FireDue(ctx context.Context, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	launched := 0
	for _, r := range s.entries {
		if r.next.After(now) {
			continue
		}
		e := r.entry
		opts := []queue.Option{queue.WithID(e.RunID(r.next))}
		if e.Queue != "" {
			opts = append(opts, queue.Queue(e.Queue))
		}
		h, err := queue.QueueNew(ctx, s.store, e.Workflow, e.Payload, opts...)
		switch {
		case err == nil:
			launched++
			launchedTotal.WithLabelValues(e.Name).Inc()
			s.logger.Info("launched recurring workflow", "entry", e.Name, "instance_id", h.ID, "firing", r.next)
		case storage.IsDuplicate(err):
			s.logger.Debug("recurring firing already launched", "entry", e.Name, "firing", r.next)
		default:
			// Retried on the next tick.
			s.logger.Error("failed to launch recurring workflow", "entry", e.Name, "error", err)
			continue
		}
		for !r.next.After(now) {
			r.next = e.Schedule.Next(r.next)
		}
	}
	return launched
}
