// Package config loads the engine's configuration from defaults, an optional
// durable.yaml file, DURABLE_* environment variables and bound CLI flags.
package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all engine configuration.
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Worker     WorkerConfig     `mapstructure:"worker" yaml:"worker"`
	Supervisor SupervisorConfig `mapstructure:"supervisor" yaml:"supervisor"`
	// Modules selects which catalog modules a worker registers. Empty means
	// all of them.
	Modules []string `mapstructure:"modules" yaml:"modules"`
}

// DatabaseConfig selects and tunes the durable store.
type DatabaseConfig struct {
	// Driver is sqlite or postgres.
	Driver string `mapstructure:"driver" yaml:"driver"`
	// DSN is the connection string. For sqlite it may be left empty and
	// Path used instead.
	DSN  string `mapstructure:"dsn" yaml:"dsn"`
	Path string `mapstructure:"path" yaml:"path"`
	// Notify enables LISTEN/NOTIFY wake-ups on postgres.
	Notify          bool          `mapstructure:"notify" yaml:"notify"`
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	// PoolPreset names a storage pool preset; non-zero pool fields below
	// override it.
	PoolPreset      string        `mapstructure:"pool_preset" yaml:"pool_preset"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" yaml:"conn_max_idle_time"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level     string `mapstructure:"level" yaml:"level"`
	Format    string `mapstructure:"format" yaml:"format"`
	AddSource bool   `mapstructure:"add_source" yaml:"add_source"`
}

// WorkerConfig configures worker processes.
type WorkerConfig struct {
	ActionPoolSize     int           `mapstructure:"action_pool_size" yaml:"action_pool_size"`
	InstancePoolSize   int           `mapstructure:"instance_pool_size" yaml:"instance_pool_size"`
	Queues             []string      `mapstructure:"queues" yaml:"queues"`
	PingInterval       time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
	TasksBeforeRecycle int           `mapstructure:"tasks_before_recycle" yaml:"tasks_before_recycle"`
	GracePeriod        time.Duration `mapstructure:"grace_period" yaml:"grace_period"`
	CPUPollInterval    time.Duration `mapstructure:"cpu_poll_interval" yaml:"cpu_poll_interval"`
}

// SupervisorConfig configures the process supervisor.
type SupervisorConfig struct {
	ActionWorkers    int           `mapstructure:"action_workers" yaml:"action_workers"`
	InstanceWorkers  int           `mapstructure:"instance_workers" yaml:"instance_workers"`
	RestartDelay     time.Duration `mapstructure:"restart_delay" yaml:"restart_delay"`
	StopTimeout      time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
	DeadAfter        time.Duration `mapstructure:"dead_after" yaml:"dead_after"`
	ReclaimInterval  time.Duration `mapstructure:"reclaim_interval" yaml:"reclaim_interval"`
	PromoteInterval  time.Duration `mapstructure:"promote_interval" yaml:"promote_interval"`
	ScheduleInterval time.Duration `mapstructure:"schedule_interval" yaml:"schedule_interval"`
	StatsInterval    time.Duration `mapstructure:"stats_interval" yaml:"stats_interval"`
	Retention        time.Duration `mapstructure:"retention" yaml:"retention"`
	PurgeInterval    time.Duration `mapstructure:"purge_interval" yaml:"purge_interval"`
	AdminAddr        string        `mapstructure:"admin_addr" yaml:"admin_addr"`
}

// YAML renders the resolved configuration.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
