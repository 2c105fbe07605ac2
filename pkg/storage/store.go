package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/simple-durable-workflows/pkg/core"
	"github.com/jdziat/simple-durable-workflows/pkg/retry"
)

// Dialects understood by Open.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// eventLockKey is the advisory lock serializing event appends on PostgreSQL.
const eventLockKey int64 = 0x64757261626c65

// Store is the GORM-backed durable store.
type Store struct {
	db       *gorm.DB
	dialect  string
	notifier Notifier
	rnd      retry.Source
	poll     time.Duration
	minPoll  time.Duration
	logger   *slog.Logger
}

// Option configures a Store.
type Option interface {
	applyStore(*Store)
}

type storeOptionFunc func(*Store)

func (f storeOptionFunc) applyStore(s *Store) { f(s) }

// WithNotifier sets the wake-up source for live streams.
func WithNotifier(n Notifier) Option {
	return storeOptionFunc(func(s *Store) {
		s.notifier = n
	})
}

// WithPollInterval sets how often live streams poll without a notification.
func WithPollInterval(d time.Duration) Option {
	return storeOptionFunc(func(s *Store) {
		if d > 0 {
			s.poll = d
		}
	})
}

// WithMinPollInterval bounds how often a stream may poll, notifications
// included.
func WithMinPollInterval(d time.Duration) Option {
	return storeOptionFunc(func(s *Store) {
		s.minPoll = d
	})
}

// WithRandom sets the jitter source used when scheduling retries.
func WithRandom(src retry.Source) Option {
	return storeOptionFunc(func(s *Store) {
		s.rnd = src
	})
}

// WithLogger sets the store's logger.
func WithLogger(l *slog.Logger) Option {
	return storeOptionFunc(func(s *Store) {
		s.logger = l
	})
}

// New wraps an open GORM connection.
func New(db *gorm.DB, opts ...Option) *Store {
	s := &Store{
		db:      db,
		dialect: db.Dialector.Name(),
		rnd:     retry.DefaultSource,
		poll:    time.Second,
		minPoll: 10 * time.Millisecond,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt.applyStore(s)
	}
	if s.notifier == nil {
		s.notifier = NewLocalNotifier()
	}
	return s
}

// Open connects to driver ("sqlite" or "postgres") at dsn.
func Open(driver, dsn string, opts ...Option) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case DialectSQLite, "sqlite3":
		dialector = sqlite.Open(dsn)
	case DialectPostgres, "postgresql", "pgx":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("storage: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", driver, err)
	}
	return New(db, opts...), nil
}

// DB returns the underlying connection.
func (s *Store) DB() *gorm.DB { return s.db }

// Dialect returns the database dialect name.
func (s *Store) Dialect() string { return s.dialect }

// Notifier returns the stream wake-up source.
func (s *Store) Notifier() Notifier { return s.notifier }

// Close releases the notifier and the connection pool.
func (s *Store) Close() error {
	var errs []error
	if s.notifier != nil {
		errs = append(errs, s.notifier.Close())
	}
	if sqlDB, err := s.db.DB(); err == nil {
		errs = append(errs, sqlDB.Close())
	}
	return errors.Join(errs...)
}

// Migrate creates the necessary tables.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&core.WorkflowInstance{},
		&core.DaemonAction{},
		&core.DaemonActionResult{},
		&core.WorkerStatus{},
		&core.StatusEvent{},
	)
}

// eventBatch tracks what a transaction appended to the event log.
type eventBatch struct {
	locked bool
	tables map[string]struct{}
}

func (b *eventBatch) touched(table string) {
	if b.tables == nil {
		b.tables = make(map[string]struct{})
	}
	b.tables[table] = struct{}{}
}

// transaction runs fn in a write transaction, classifies conflicts and wakes
// stream subscribers once events are committed.
func (s *Store) transaction(ctx context.Context, fn func(tx *gorm.DB, events *eventBatch) error) error {
	events := &eventBatch{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(tx, events)
	})
	if err != nil {
		return classify(err)
	}
	for table := range events.tables {
		if perr := s.notifier.Publish(ctx, table); perr != nil {
			s.logger.Warn("failed to publish status event", "table", table, "error", perr)
		}
	}
	return nil
}

// readTx runs fn in a transaction that observes a single snapshot.
func (s *Store) readTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var opts []*sql.TxOptions
	if s.dialect == DialectPostgres {
		opts = append(opts, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	}
	return classify(s.db.WithContext(ctx).Transaction(fn, opts...))
}

// appendEvent records a status transition of row inside tx.
func (s *Store) appendEvent(tx *gorm.DB, events *eventBatch, row core.Tracked, queue string) error {
	if s.dialect == DialectPostgres && !events.locked {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", eventLockKey).Error; err != nil {
			return fmt.Errorf("lock event log: %w", err)
		}
		events.locked = true
	}
	ev := &core.StatusEvent{
		RowTable: row.TableName(),
		RowID:    row.GetID(),
		Status:   row.GetStatus(),
		Queue:    queue,
	}
	if err := tx.Create(ev).Error; err != nil {
		return fmt.Errorf("append status event: %w", err)
	}
	events.touched(ev.RowTable)
	return nil
}

// queueFor returns the queue a row's events are filed under: the workflow
// name of the instance, or of the action's owning instance.
func queueFor(tx *gorm.DB, row core.Tracked) (string, error) {
	switch r := row.(type) {
	case *core.WorkflowInstance:
		return r.WorkflowName, nil
	case *core.DaemonAction:
		var name string
		err := tx.Model(&core.WorkflowInstance{}).
			Select("workflow_name").
			Where("id = ?", r.InstanceID).
			Scan(&name).Error
		return name, err
	}
	return "", nil
}

func (s *Store) newTimer() *time.Timer {
	return time.NewTimer(s.poll)
}
