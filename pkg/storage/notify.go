package storage

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"gorm.io/gorm"
)

// DefaultChannel is the PostgreSQL NOTIFY channel for status events.
const DefaultChannel = "durable_status_events"

// Notifier wakes live streams when the event log may have advanced.
// Notifications are hints: streams also poll on an interval.
type Notifier interface {
	// Subscribe returns a channel that receives a value after events are
	// committed, and a func that ends the subscription.
	Subscribe() (<-chan struct{}, func())

	// Publish announces committed events for table.
	Publish(ctx context.Context, table string) error

	Close() error
}

// broadcaster fans a wake-up out to every subscriber without blocking.
type broadcaster struct {
	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

func (b *broadcaster) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	if b.subs == nil {
		b.subs = make(map[chan struct{}]struct{})
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch, func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
	}
}

func (b *broadcaster) wake() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// LocalNotifier wakes streams in the same process only. Streams in other
// processes rely on polling.
type LocalNotifier struct {
	broadcaster
}

// NewLocalNotifier creates an in-process notifier.
func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{}
}

func (n *LocalNotifier) Publish(context.Context, string) error {
	n.wake()
	return nil
}

func (n *LocalNotifier) Close() error { return nil }

// PGNotifier delivers wake-ups across processes with PostgreSQL
// LISTEN/NOTIFY.
type PGNotifier struct {
	broadcaster
	db      *gorm.DB
	dsn     string
	channel string
	logger  *slog.Logger
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewPGNotifier listens on channel using a dedicated pgx connection to dsn
// and publishes through db.
func NewPGNotifier(ctx context.Context, db *gorm.DB, dsn, channel string) (*PGNotifier, error) {
	if channel == "" {
		channel = DefaultChannel
	}
	conn, err := listen(ctx, dsn, channel)
	if err != nil {
		return nil, err
	}
	lctx, cancel := context.WithCancel(context.Background())
	n := &PGNotifier{
		db:      db,
		dsn:     dsn,
		channel: channel,
		logger:  slog.Default(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go n.loop(lctx, conn)
	return n, nil
}

func listen(ctx context.Context, dsn, channel string) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}
	return conn, nil
}

func (n *PGNotifier) loop(ctx context.Context, conn *pgx.Conn) {
	defer close(n.done)
	backoff := 100 * time.Millisecond
	for {
		if conn == nil {
			var err error
			conn, err = listen(ctx, n.dsn, n.channel)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				n.logger.Warn("notifier reconnect failed", "error", err, "retry_in", backoff)
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
				backoff = min(backoff*2, 5*time.Second)
				continue
			}
			backoff = 100 * time.Millisecond
			// Anything published while disconnected is picked up by this poll.
			n.wake()
		}

		_, err := conn.WaitForNotification(ctx)
		if err != nil {
			_ = conn.Close(context.Background())
			conn = nil
			if ctx.Err() != nil {
				return
			}
			n.logger.Warn("notifier connection lost", "error", err)
			continue
		}
		n.wake()
	}
}

func (n *PGNotifier) Publish(ctx context.Context, table string) error {
	return n.db.WithContext(ctx).Exec("SELECT pg_notify(?, ?)", n.channel, table).Error
}

func (n *PGNotifier) Close() error {
	n.cancel()
	<-n.done
	return nil
}

var errNoPostgres = errors.New("storage: LISTEN/NOTIFY requires postgres")

// EnableNotify replaces the store's notifier with a PGNotifier when the
// store is backed by PostgreSQL.
func (s *Store) EnableNotify(ctx context.Context, dsn string) error {
	if s.dialect != DialectPostgres {
		return errNoPostgres
	}
	n, err := NewPGNotifier(ctx, s.db, dsn, DefaultChannel)
	if err != nil {
		return err
	}
	n.logger = s.logger
	old := s.notifier
	s.notifier = n
	if old != nil {
		return old.Close()
	}
	return nil
}
