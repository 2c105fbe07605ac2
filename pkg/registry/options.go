package registry

import (
	"reflect"
	"time"

	"github.com/jdziat/simple-durable-workflows/pkg/security"
)

// DefaultRetries is the retry budget of an action without a Retries option.
const DefaultRetries = 3

// Config holds the options of one definition.
type Config struct {
	Name            string
	Queue           string
	MaxRetries      *int // nil means unlimited
	BackoffSeconds  float64
	BackoffFactor   float64
	Jitter          float64
	WallSoftTimeout time.Duration
	WallHardTimeout time.Duration
	CPUSoftTimeout  time.Duration
	CPUHardTimeout  time.Duration
	ValidateInput   bool
	Dependencies    []reflect.Type
}

func newConfig() *Config {
	retries := DefaultRetries
	return &Config{
		MaxRetries:     &retries,
		BackoffSeconds: 1,
		BackoffFactor:  2,
	}
}

// Option modifies a definition's Config.
type Option interface {
	ApplyDefinition(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) ApplyDefinition(c *Config) { f(c) }

// Name overrides the registry id derived from the function symbol.
func Name(id string) Option {
	return optionFunc(func(c *Config) {
		c.Name = id
	})
}

// Queue sets the logical queue of a workflow. Defaults to its registry id.
func Queue(name string) Option {
	return optionFunc(func(c *Config) {
		c.Queue = name
	})
}

// Retries sets the maximum number of retries after the first attempt.
// Values are clamped to [0, MaxRetries] (100).
func Retries(n int) Option {
	return optionFunc(func(c *Config) {
		clamped := security.ClampRetries(n)
		c.MaxRetries = &clamped
	})
}

// UnlimitedRetries retries the action until it succeeds.
func UnlimitedRetries() Option {
	return optionFunc(func(c *Config) {
		c.MaxRetries = nil
	})
}

// Backoff sets the base delay and growth factor between retries.
func Backoff(base time.Duration, factor float64) Option {
	return optionFunc(func(c *Config) {
		c.BackoffSeconds = base.Seconds()
		c.BackoffFactor = factor
	})
}

// Jitter randomizes each retry delay by up to the given fraction.
func Jitter(fraction float64) Option {
	return optionFunc(func(c *Config) {
		if fraction < 0 {
			fraction = 0
		}
		c.Jitter = fraction
	})
}

// SoftTimeout cancels the action's context after d of wall time.
func SoftTimeout(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		c.WallSoftTimeout = d
	})
}

// HardTimeout terminates the hosting worker after d of wall time.
func HardTimeout(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		c.WallHardTimeout = d
	})
}

// CPUSoftTimeout cancels the action's context after d of CPU time.
func CPUSoftTimeout(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		c.CPUSoftTimeout = d
	})
}

// CPUHardTimeout terminates the hosting worker after d of CPU time.
func CPUHardTimeout(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		c.CPUHardTimeout = d
	})
}

// WithInputSchema validates payloads against their `validate` struct tags
// before a request or instance is persisted.
func WithInputSchema() Option {
	return optionFunc(func(c *Config) {
		c.ValidateInput = true
	})
}

// Inject declares T as an injected parameter type rather than a payload.
// *gorm.DB and *slog.Logger are always injectable.
func Inject[T any]() Option {
	t := reflect.TypeFor[T]()
	return optionFunc(func(c *Config) {
		c.Dependencies = append(c.Dependencies, t)
	})
}
