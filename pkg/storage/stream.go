package storage

import (
	"context"
	"errors"
	"io"
	"iter"

	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/jdziat/simple-durable-workflows/pkg/core"
	"github.com/jdziat/simple-durable-workflows/pkg/retry"
)

const pollBatch = 256

// StreamOptions filters a transition stream.
type StreamOptions struct {
	// Queues restricts rows to these workflow names. Empty means all.
	Queues []string
	// MaxItems ends the stream after that many deliveries. Zero or less
	// means infinite.
	MaxItems int
	// Replay delivers rows already in the target status before live
	// transitions.
	Replay bool
}

// Stream is a lazy sequence of rows entering a status. It is not safe for
// concurrent use.
type Stream[T any, PT Row[T]] struct {
	s         *Store
	table     string
	status    core.Status
	opts      StreamOptions
	cursor    int64
	buf       []PT
	delivered int
	wake      <-chan struct{}
	unsub     func()
	limiter   *rate.Limiter
	closed    bool
}

// IterReadyObjects streams rows of T that are or become QUEUED: first every
// row QUEUED when the stream opens, then each later transition into QUEUED
// in commit order. A row re-entering QUEUED N times is delivered N times.
func IterReadyObjects[T any, PT Row[T]](ctx context.Context, s *Store, queues []string, maxItems int) (*Stream[T, PT], error) {
	return IterTransitions[T, PT](ctx, s, core.StatusQueued, StreamOptions{Queues: queues, MaxItems: maxItems, Replay: true})
}

// IterTransitions streams rows of T entering status.
func IterTransitions[T any, PT Row[T]](ctx context.Context, s *Store, status core.Status, opts StreamOptions) (*Stream[T, PT], error) {
	limit := rate.Inf
	if s.minPoll > 0 {
		limit = rate.Every(s.minPoll)
	}
	st := &Stream[T, PT]{
		s:       s,
		table:   PT(new(T)).TableName(),
		status:  status,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
	}
	// Subscribe before the snapshot so no wake-up is missed.
	st.wake, st.unsub = s.notifier.Subscribe()
	if err := st.snapshot(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// snapshot reads the watermark and, when replaying, the rows currently in
// the target status within one read transaction.
func (st *Stream[T, PT]) snapshot(ctx context.Context) error {
	return st.s.readTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Model(&core.StatusEvent{}).Select("COALESCE(MAX(seq), 0)").Row().Scan(&st.cursor); err != nil {
			return err
		}
		if !st.opts.Replay {
			return nil
		}

		t := st.table
		q := tx.Model(new(T)).
			Select(t+".*").
			Joins("LEFT JOIN (SELECT row_id, MAX(seq) AS last_seq FROM status_events WHERE row_table = ? AND status = ? GROUP BY row_id) ev ON ev.row_id = "+t+".id", t, st.status).
			Where(t+".status = ?", st.status)
		q = st.queueFilter(q, t)
		q = q.Order("COALESCE(ev.last_seq, 0) ASC").Order(t + ".updated_at ASC").Order(t + ".id ASC")
		if st.opts.MaxItems > 0 {
			q = q.Limit(st.opts.MaxItems)
		}
		return q.Find(&st.buf).Error
	})
}

func (st *Stream[T, PT]) queueFilter(q *gorm.DB, t string) *gorm.DB {
	if len(st.opts.Queues) == 0 {
		return q
	}
	switch t {
	case core.TableWorkflowInstances:
		return q.Where(t+".workflow_name IN ?", st.opts.Queues)
	case core.TableDaemonActions:
		return q.Where(t+".instance_id IN (?)",
			q.Session(&gorm.Session{NewDB: true}).Model(&core.WorkflowInstance{}).
				Select("id").Where("workflow_name IN ?", st.opts.Queues))
	}
	return q
}

// poll loads transitions committed after the cursor.
func (st *Stream[T, PT]) poll(ctx context.Context) (int, error) {
	var events []core.StatusEvent
	err := retry.WithBackoff(ctx, retry.DefaultConfig(), func() error {
		q := st.s.db.WithContext(ctx).
			Where("seq > ? AND row_table = ? AND status = ?", st.cursor, st.table, st.status)
		if len(st.opts.Queues) > 0 {
			q = q.Where("queue IN ?", st.opts.Queues)
		}
		return q.Order("seq ASC").Limit(pollBatch).Find(&events).Error
	})
	if err != nil || len(events) == 0 {
		return 0, err
	}

	ids := make([]string, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.RowID)
	}
	var rows []PT
	err = retry.WithBackoff(ctx, retry.DefaultConfig(), func() error {
		rows = rows[:0]
		return st.s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error
	})
	if err != nil {
		return 0, err
	}
	byID := make(map[string]PT, len(rows))
	for _, r := range rows {
		byID[r.GetID()] = r
	}

	n := 0
	for _, ev := range events {
		st.cursor = ev.Seq
		row, ok := byID[ev.RowID]
		if !ok {
			continue // purged
		}
		// Each delivery gets its own copy; a row may appear more than once.
		cp := *row
		st.buf = append(st.buf, PT(&cp))
		n++
	}
	return n, nil
}

// Next returns the next row, blocking until one is available. It returns
// io.EOF once MaxItems rows were delivered.
func (st *Stream[T, PT]) Next(ctx context.Context) (PT, error) {
	for {
		if st.closed {
			return nil, core.ErrStreamClosed
		}
		if st.opts.MaxItems > 0 && st.delivered >= st.opts.MaxItems {
			return nil, io.EOF
		}
		if len(st.buf) > 0 {
			row := st.buf[0]
			st.buf[0] = nil
			st.buf = st.buf[1:]
			st.delivered++
			return row, nil
		}
		if err := st.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		n, err := st.poll(ctx)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			continue
		}
		if err := st.wait(ctx); err != nil {
			return nil, err
		}
	}
}

func (st *Stream[T, PT]) wait(ctx context.Context) error {
	timer := st.s.newTimer()
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-st.wake:
	case <-timer.C:
	}
	return nil
}

// Cursor returns the sequence number of the last event consumed.
func (st *Stream[T, PT]) Cursor() int64 { return st.cursor }

// All adapts the stream to a range-over-func iterator that ends at io.EOF or
// the first error.
func (st *Stream[T, PT]) All(ctx context.Context) iter.Seq2[PT, error] {
	return func(yield func(PT, error) bool) {
		for {
			row, err := st.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(row, err) || err != nil {
				return
			}
		}
	}
}

// Close ends the stream's notifier subscription.
func (st *Stream[T, PT]) Close() {
	if st.closed {
		return
	}
	st.closed = true
	if st.unsub != nil {
		st.unsub()
	}
}
