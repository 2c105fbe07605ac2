package supervisor

import (
	"log/slog"
	"time"

	"github.com/jdziat/simple-durable-workflows/pkg/queue"
)

// Worker kinds, as passed to the worker command builder.
const (
	KindAction   = "action"
	KindInstance = "instance"
)

// CommandFunc returns the argv of a worker process of the given kind.
type CommandFunc func(kind string) []string

// Config holds supervisor configuration.
type Config struct {
	ActionWorkers   int
	InstanceWorkers int
	// Command builds worker argv. Required when any worker count is set.
	Command CommandFunc
	// Env is appended to the supervisor's environment for every child.
	Env []string
	// RestartDelay separates a child's exit from its replacement.
	RestartDelay time.Duration
	// StopTimeout bounds how long a child may take to exit after it was
	// interrupted before it is killed.
	StopTimeout time.Duration

	// DeadAfter is how stale last_ping must be before a worker is reclaimed.
	DeadAfter       time.Duration
	ReclaimInterval time.Duration
	PromoteInterval time.Duration
	// ScheduleInterval is how often recurring entries are checked.
	ScheduleInterval time.Duration
	// StatsInterval is how often the queue depth gauges are refreshed.
	StatsInterval time.Duration
	// Retention enables purging of DONE instances and status events older
	// than it. Zero keeps everything.
	Retention     time.Duration
	PurgeInterval time.Duration

	// AdminAddr is the listen address of the admin server. Empty disables it.
	AdminAddr string

	Logger *slog.Logger
	Hub    *queue.Hub
}

func defaultConfig() Config {
	return Config{
		RestartDelay:     time.Second,
		StopTimeout:      10 * time.Second,
		DeadAfter:        30 * time.Second,
		ReclaimInterval:  10 * time.Second,
		PromoteInterval:  time.Second,
		ScheduleInterval: time.Second,
		StatsInterval:    15 * time.Second,
		PurgeInterval:    time.Hour,
		Logger:           slog.Default(),
	}
}

// Option configures a Supervisor.
type Option func(*Config)

// Workers sets how many action and instance worker processes run.
func Workers(action, instance int) Option {
	return func(c *Config) {
		c.ActionWorkers = max(action, 0)
		c.InstanceWorkers = max(instance, 0)
	}
}

// WithCommand sets the worker command builder.
func WithCommand(fn CommandFunc) Option {
	return func(c *Config) { c.Command = fn }
}

// WithEnv adds KEY=VALUE pairs to every child's environment.
func WithEnv(kv ...string) Option {
	return func(c *Config) { c.Env = append(c.Env, kv...) }
}

// RestartDelay sets the pause before a child is replaced.
func RestartDelay(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.RestartDelay = d
		}
	}
}

// StopTimeout sets how long interrupted children get before being killed.
func StopTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.StopTimeout = d
		}
	}
}

// DeadAfter sets the ping staleness that marks a worker dead.
func DeadAfter(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.DeadAfter = d
		}
	}
}

// Intervals sets the reclaim, promotion and recurring-schedule periods.
// Zero values keep the defaults.
func Intervals(reclaim, promote, schedule time.Duration) Option {
	return func(c *Config) {
		if reclaim > 0 {
			c.ReclaimInterval = reclaim
		}
		if promote > 0 {
			c.PromoteInterval = promote
		}
		if schedule > 0 {
			c.ScheduleInterval = schedule
		}
	}
}

// StatsInterval sets how often queue depths are snapshotted.
func StatsInterval(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.StatsInterval = d
		}
	}
}

// Retention purges finished instances and status events older than d,
// checking every interval.
func Retention(d, interval time.Duration) Option {
	return func(c *Config) {
		c.Retention = max(d, 0)
		if interval > 0 {
			c.PurgeInterval = interval
		}
	}
}

// AdminAddr enables the admin HTTP server on addr.
func AdminAddr(addr string) Option {
	return func(c *Config) { c.AdminAddr = addr }
}

// WithLogger sets the supervisor's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithHub emits supervisor events on h.
func WithHub(h *queue.Hub) Option {
	return func(c *Config) { c.Hub = h }
}
