package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/jdziat/simple-durable-workflows/pkg/internal/log"
	"github.com/jdziat/simple-durable-workflows/pkg/security"
	"github.com/jdziat/simple-durable-workflows/pkg/storage"
)

// ValidationError describes one invalid setting.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects every invalid setting.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks c and returns ValidationErrors when anything is invalid.
func (c *Config) Validate() error {
	var errs ValidationErrors
	add := func(field string, value any, msg string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: msg})
	}
	positive := func(field string, d time.Duration) {
		if d <= 0 {
			add(field, d, "must be positive")
		}
	}

	switch strings.ToLower(c.Database.Driver) {
	case storage.DialectSQLite, "sqlite3":
		if c.Database.DSN == "" && c.Database.Path == "" {
			add("database.path", c.Database.Path, "sqlite needs a dsn or a path")
		}
	case storage.DialectPostgres, "postgresql":
		if c.Database.DSN == "" {
			add("database.dsn", c.Database.DSN, "postgres needs a dsn")
		}
	default:
		add("database.driver", c.Database.Driver, "must be sqlite or postgres")
	}
	positive("database.poll_interval", c.Database.PollInterval)
	if _, err := storage.PoolPreset(c.Database.PoolPreset); err != nil {
		add("database.pool_preset", c.Database.PoolPreset, "must be one of "+strings.Join(storage.PoolPresets(), ", "))
	}
	if c.Database.MaxOpenConns < 0 || c.Database.MaxIdleConns < 0 {
		add("database.max_open_conns", c.Database.MaxOpenConns, "pool sizes must not be negative")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("log.level", c.Log.Level, "must be debug, info, warn or error")
	}
	switch log.Format(strings.ToLower(c.Log.Format)) {
	case log.FormatJSON, log.FormatText:
	default:
		add("log.format", c.Log.Format, "must be json or text")
	}

	if c.Worker.ActionPoolSize < 1 || c.Worker.ActionPoolSize > security.MaxPoolSize {
		add("worker.action_pool_size", c.Worker.ActionPoolSize, fmt.Sprintf("must be between 1 and %d", security.MaxPoolSize))
	}
	if c.Worker.InstancePoolSize < 1 || c.Worker.InstancePoolSize > security.MaxPoolSize {
		add("worker.instance_pool_size", c.Worker.InstancePoolSize, fmt.Sprintf("must be between 1 and %d", security.MaxPoolSize))
	}
	for _, q := range c.Worker.Queues {
		if err := security.ValidateQueueName(q); err != nil {
			add("worker.queues", q, err.Error())
		}
	}
	if c.Worker.TasksBeforeRecycle < 0 {
		add("worker.tasks_before_recycle", c.Worker.TasksBeforeRecycle, "must not be negative")
	}
	positive("worker.ping_interval", c.Worker.PingInterval)
	positive("worker.cpu_poll_interval", c.Worker.CPUPollInterval)
	if c.Worker.GracePeriod < 0 {
		add("worker.grace_period", c.Worker.GracePeriod, "must not be negative")
	}

	if c.Supervisor.ActionWorkers < 0 {
		add("supervisor.action_workers", c.Supervisor.ActionWorkers, "must not be negative")
	}
	if c.Supervisor.InstanceWorkers < 0 {
		add("supervisor.instance_workers", c.Supervisor.InstanceWorkers, "must not be negative")
	}
	if c.Supervisor.DeadAfter <= c.Worker.PingInterval {
		add("supervisor.dead_after", c.Supervisor.DeadAfter, "must exceed worker.ping_interval")
	}
	positive("supervisor.reclaim_interval", c.Supervisor.ReclaimInterval)
	positive("supervisor.promote_interval", c.Supervisor.PromoteInterval)
	positive("supervisor.schedule_interval", c.Supervisor.ScheduleInterval)
	positive("supervisor.stats_interval", c.Supervisor.StatsInterval)
	if c.Supervisor.Retention < 0 {
		add("supervisor.retention", c.Supervisor.Retention, "must not be negative")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
