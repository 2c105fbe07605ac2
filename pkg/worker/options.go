package worker

import (
	"log/slog"
	"time"

	"github.com/jdziat/simple-durable-workflows/pkg/queue"
	"github.com/jdziat/simple-durable-workflows/pkg/security"
)

// WorkerOption configures a worker.
type WorkerOption interface {
	ApplyWorker(*WorkerConfig)
}

type workerOptionFunc func(*WorkerConfig)

func (f workerOptionFunc) ApplyWorker(c *WorkerConfig) { f(c) }

// WorkerConfig holds worker configuration.
type WorkerConfig struct {
	// WorkerID is the WorkerStatus row id. Generated when empty.
	WorkerID string
	// Queues limits the rows pulled to these workflow names. Empty means all.
	Queues []string
	// PoolSize bounds concurrently executing tasks.
	PoolSize int
	// PingInterval is how often last_ping is refreshed.
	PingInterval time.Duration
	// TasksBeforeRecycle makes the worker drain and exit with ExitRecycle
	// after that many tasks. Zero disables recycling.
	TasksBeforeRecycle int
	// GracePeriod bounds how long a draining worker waits for in-flight
	// tasks.
	GracePeriod time.Duration
	// CPUPollInterval is how often CPU-time limits are sampled.
	CPUPollInterval time.Duration
	Logger          *slog.Logger
	Hub             *queue.Hub
}

// DefaultPoolSize is the number of slots of a worker without Concurrency.
const DefaultPoolSize = 10

func newConfig() WorkerConfig {
	return WorkerConfig{
		PoolSize:        DefaultPoolSize,
		PingInterval:    5 * time.Second,
		GracePeriod:     5 * time.Second,
		CPUPollInterval: 50 * time.Millisecond,
		Logger:          slog.Default(),
	}
}

// Concurrency sets the pool size.
// Values are clamped to [1, MaxPoolSize].
func Concurrency(n int) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.PoolSize = security.ClampPoolSize(n)
	})
}

// Queues restricts the worker to the given queues.
func Queues(names ...string) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Queues = append(c.Queues, names...)
	})
}

// WithID fixes the worker's id.
func WithID(id string) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.WorkerID = id
	})
}

// PingInterval sets the health ping period.
func PingInterval(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if d > 0 {
			c.PingInterval = d
		}
	})
}

// TasksBeforeRecycle recycles the process after n tasks.
func TasksBeforeRecycle(n int) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if n < 0 {
			n = 0
		}
		c.TasksBeforeRecycle = n
	})
}

// GracePeriod sets how long draining waits for in-flight tasks.
func GracePeriod(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if d >= 0 {
			c.GracePeriod = d
		}
	})
}

// CPUPollInterval sets the CPU-time sampling period.
func CPUPollInterval(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if d > 0 {
			c.CPUPollInterval = d
		}
	})
}

// WithLogger sets the worker's logger.
func WithLogger(l *slog.Logger) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if l != nil {
			c.Logger = l
		}
	})
}

// WithHub emits worker events and runs hooks on h.
func WithHub(h *queue.Hub) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Hub = h
	})
}
