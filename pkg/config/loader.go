package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/jdziat/simple-durable-workflows/pkg/storage"
)

// EnvPrefix prefixes every environment variable read by the loader, so
// database.driver is read from DURABLE_DATABASE_DRIVER.
const EnvPrefix = "DURABLE"

// Loader reads configuration from all sources.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// NewLoader creates a loader with its own viper instance.
func NewLoader() *Loader {
	return &Loader{v: viper.New()}
}

// WithConfigFile reads path instead of searching for durable.yaml.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper exposes the underlying instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load resolves the configuration. Precedence, highest first: bound flags,
// DURABLE_* environment variables, the config file, defaults.
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName("durable")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "durable"))
		}
	}
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ConfigFileUsed returns the file Load read, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("database.driver", "sqlite")
	l.v.SetDefault("database.dsn", "")
	l.v.SetDefault("database.path", "durable.db")
	l.v.SetDefault("database.notify", true)
	l.v.SetDefault("database.poll_interval", "1s")
	l.v.SetDefault("database.pool_preset", storage.PresetDefault)
	l.v.SetDefault("database.max_open_conns", 0)
	l.v.SetDefault("database.max_idle_conns", 0)
	l.v.SetDefault("database.conn_max_lifetime", "0s")
	l.v.SetDefault("database.conn_max_idle_time", "0s")

	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "text")
	l.v.SetDefault("log.add_source", false)

	l.v.SetDefault("worker.action_pool_size", 10)
	l.v.SetDefault("worker.instance_pool_size", 100)
	l.v.SetDefault("worker.queues", []string{})
	l.v.SetDefault("worker.ping_interval", "5s")
	l.v.SetDefault("worker.tasks_before_recycle", 0)
	l.v.SetDefault("worker.grace_period", "5s")
	l.v.SetDefault("worker.cpu_poll_interval", "50ms")

	l.v.SetDefault("supervisor.action_workers", 1)
	l.v.SetDefault("supervisor.instance_workers", 1)
	l.v.SetDefault("supervisor.restart_delay", "1s")
	l.v.SetDefault("supervisor.stop_timeout", "10s")
	l.v.SetDefault("supervisor.dead_after", "30s")
	l.v.SetDefault("supervisor.reclaim_interval", "10s")
	l.v.SetDefault("supervisor.promote_interval", "1s")
	l.v.SetDefault("supervisor.schedule_interval", "1s")
	l.v.SetDefault("supervisor.stats_interval", "15s")
	l.v.SetDefault("supervisor.retention", "0s")
	l.v.SetDefault("supervisor.purge_interval", "1h")
	l.v.SetDefault("supervisor.admin_addr", "")

	l.v.SetDefault("modules", []string{})
}
