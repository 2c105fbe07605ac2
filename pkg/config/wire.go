package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jdziat/simple-durable-workflows/pkg/internal/log"
	"github.com/jdziat/simple-durable-workflows/pkg/storage"
	"github.com/jdziat/simple-durable-workflows/pkg/supervisor"
	"github.com/jdziat/simple-durable-workflows/pkg/worker"
)

// Logger builds the logger described by c, writing to out.
func (c LogConfig) Logger(out io.Writer) *slog.Logger {
	return log.New(&log.Config{
		Level:     c.Level,
		Format:    log.Format(strings.ToLower(c.Format)),
		Output:    out,
		AddSource: c.AddSource,
	})
}

// DataSource returns the driver name and DSN to connect with.
func (c DatabaseConfig) DataSource() (driver, dsn string) {
	driver = strings.ToLower(c.Driver)
	dsn = c.DSN
	if (driver == storage.DialectSQLite || driver == "sqlite3") && dsn == "" {
		dsn = storage.SQLiteDSN(c.Path)
	}
	return driver, dsn
}

// OpenStore connects to the configured database, applies the pool settings
// and, on postgres, switches stream wake-ups to LISTEN/NOTIFY.
func (c DatabaseConfig) OpenStore(ctx context.Context, logger *slog.Logger) (*storage.Store, error) {
	driver, dsn := c.DataSource()
	s, err := storage.Open(driver, dsn,
		storage.WithPollInterval(c.PollInterval),
		storage.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	pool, err := c.PoolOptions()
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := storage.ConfigurePool(s.DB(), pool...); err != nil {
		_ = s.Close()
		return nil, err
	}
	if c.Notify && s.Dialect() == storage.DialectPostgres {
		if err := s.EnableNotify(ctx, dsn); err != nil {
			logger.Warn("LISTEN/NOTIFY unavailable, falling back to polling", "error", err)
		}
	}
	return s, nil
}

// PoolOptions resolves the pool preset and layers the explicitly set pool
// fields over it.
func (c DatabaseConfig) PoolOptions() ([]storage.PoolOption, error) {
	preset, err := storage.PoolPreset(c.PoolPreset)
	if err != nil {
		return nil, err
	}
	opts := []storage.PoolOption{storage.WithPoolConfig(preset)}
	if c.MaxOpenConns > 0 {
		opts = append(opts, storage.MaxOpenConns(c.MaxOpenConns))
	}
	if c.MaxIdleConns > 0 {
		opts = append(opts, storage.MaxIdleConns(c.MaxIdleConns))
	}
	if c.ConnMaxLifetime > 0 {
		opts = append(opts, storage.ConnMaxLifetime(c.ConnMaxLifetime))
	}
	if c.ConnMaxIdleTime > 0 {
		opts = append(opts, storage.ConnMaxIdleTime(c.ConnMaxIdleTime))
	}
	return opts, nil
}

// WorkerOptions returns the options of a worker of kind ("action" or
// "instance").
func (c *Config) WorkerOptions(kind string, logger *slog.Logger) ([]worker.WorkerOption, error) {
	var pool int
	switch kind {
	case supervisor.KindAction:
		pool = c.Worker.ActionPoolSize
	case supervisor.KindInstance:
		pool = c.Worker.InstancePoolSize
	default:
		return nil, fmt.Errorf("config: unknown worker kind %q", kind)
	}
	return []worker.WorkerOption{
		worker.Concurrency(pool),
		worker.Queues(c.Worker.Queues...),
		worker.PingInterval(c.Worker.PingInterval),
		worker.TasksBeforeRecycle(c.Worker.TasksBeforeRecycle),
		worker.GracePeriod(c.Worker.GracePeriod),
		worker.CPUPollInterval(c.Worker.CPUPollInterval),
		worker.WithLogger(logger),
	}, nil
}

// SupervisorOptions returns the supervisor options described by c.
func (c *Config) SupervisorOptions(logger *slog.Logger) []supervisor.Option {
	s := c.Supervisor
	return []supervisor.Option{
		supervisor.Workers(s.ActionWorkers, s.InstanceWorkers),
		supervisor.RestartDelay(s.RestartDelay),
		supervisor.StopTimeout(s.StopTimeout),
		supervisor.DeadAfter(s.DeadAfter),
		supervisor.Intervals(s.ReclaimInterval, s.PromoteInterval, s.ScheduleInterval),
		supervisor.StatsInterval(s.StatsInterval),
		supervisor.Retention(s.Retention, s.PurgeInterval),
		supervisor.AdminAddr(s.AdminAddr),
		supervisor.WithLogger(logger),
	}
}
