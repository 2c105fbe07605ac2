package storage

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// PoolConfig sizes the *sql.DB behind a Store.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Pool preset names accepted by PoolPreset.
const (
	PresetDefault             = "default"
	PresetHighConcurrency     = "high_concurrency"
	PresetLowLatency          = "low_latency"
	PresetResourceConstrained = "resource_constrained"
)

var poolPresets = map[string]PoolConfig{
	// One supervisor with a handful of worker processes.
	PresetDefault: {MaxOpenConns: 25, MaxIdleConns: 10, ConnMaxLifetime: 5 * time.Minute, ConnMaxIdleTime: time.Minute},
	// Instance workers hosting thousands of coroutines, each polling streams.
	PresetHighConcurrency: {MaxOpenConns: 100, MaxIdleConns: 25, ConnMaxLifetime: 10 * time.Minute, ConnMaxIdleTime: 2 * time.Minute},
	// Most connections stay warm so claims skip the handshake.
	PresetLowLatency: {MaxOpenConns: 50, MaxIdleConns: 40, ConnMaxLifetime: 15 * time.Minute, ConnMaxIdleTime: 5 * time.Minute},
	// Databases with a low max_connections shared by many processes.
	PresetResourceConstrained: {MaxOpenConns: 10, MaxIdleConns: 5, ConnMaxLifetime: 3 * time.Minute, ConnMaxIdleTime: 30 * time.Second},
}

// DefaultPoolConfig returns the "default" preset.
func DefaultPoolConfig() PoolConfig { return poolPresets[PresetDefault] }

// PoolPreset returns the named preset. The empty name selects the default.
func PoolPreset(name string) (PoolConfig, error) {
	if name == "" {
		return DefaultPoolConfig(), nil
	}
	cfg, ok := poolPresets[strings.ToLower(name)]
	if !ok {
		return PoolConfig{}, fmt.Errorf("storage: unknown pool preset %q", name)
	}
	return cfg, nil
}

// PoolPresets lists the preset names.
func PoolPresets() []string {
	return []string{PresetDefault, PresetHighConcurrency, PresetLowLatency, PresetResourceConstrained}
}

// PoolOption adjusts a PoolConfig.
type PoolOption interface {
	applyPool(*PoolConfig)
}

type poolOptionFunc func(*PoolConfig)

func (f poolOptionFunc) applyPool(c *PoolConfig) { f(c) }

// WithPoolConfig replaces every field with cfg.
func WithPoolConfig(cfg PoolConfig) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) { *c = cfg })
}

// MaxOpenConns caps open connections; 0 means unlimited.
func MaxOpenConns(n int) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) { c.MaxOpenConns = n })
}

// MaxIdleConns caps the idle pool.
func MaxIdleConns(n int) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) { c.MaxIdleConns = n })
}

// ConnMaxLifetime closes connections older than d.
func ConnMaxLifetime(d time.Duration) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) { c.ConnMaxLifetime = d })
}

// ConnMaxIdleTime closes connections idle for longer than d.
func ConnMaxIdleTime(d time.Duration) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) { c.ConnMaxIdleTime = d })
}

// ConfigurePool applies opts, on top of the default preset, to db's pool.
func ConfigurePool(db *gorm.DB, opts ...PoolOption) error {
	cfg := DefaultPoolConfig()
	for _, opt := range opts {
		opt.applyPool(&cfg)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("storage: get *sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	return nil
}

// SQLiteDSN returns a DSN for a SQLite file tuned for several processes:
// WAL journaling, a busy timeout and immediate write transactions.
func SQLiteDSN(path string) string {
	return "file:" + path + "?_busy_timeout=5000&_txlock=immediate&_journal_mode=WAL&_foreign_keys=on"
}
