// Package workflows is a durable workflow engine: ordinary Go functions whose
// progress is recorded in a SQL database, so they survive crashes, restarts
// and deploys.
//
// This is the main package users should import. It re-exports the public
// types of the pkg/ packages for a single import path.
//
// Define actions (the durable, retried steps) and workflows (deterministic
// code that orders them):
//
//	var Charge = workflows.MustAction(charge, workflows.Retries(5))
//
//	func checkout(ctx workflows.Context, o Order) (string, error) {
//	    return workflows.Execute[string](ctx, Charge.Call(o))
//	}
//
//	var Checkout = workflows.MustWorkflow(checkout)
//
// Register them, open a store and start workers:
//
//	reg := workflows.NewRegistry()
//	reg.Register(Charge, Checkout)
//	store, _ := workflows.Open("sqlite", workflows.SQLiteDSN("app.db"))
//	store.Migrate(ctx)
//	go workflows.NewActionWorker(store, reg).Run(ctx)
//	go workflows.NewInstanceWorker(store, reg).Run(ctx)
//
//	h, _ := workflows.QueueNew(ctx, store, Checkout, order)
//	receipt, err := workflows.WaitResult[string](ctx, h)
//
// Production deployments run one supervisor per host instead, see package
// cli.
package workflows

import (
	"context"
	"time"

	"github.com/jdziat/simple-durable-workflows/pkg/core"
	"github.com/jdziat/simple-durable-workflows/pkg/registry"
	"github.com/jdziat/simple-durable-workflows/pkg/security"
	"github.com/jdziat/simple-durable-workflows/pkg/workflow"
)

type (
	// Registry maps registry ids to action and workflow definitions.
	Registry = registry.Registry

	// Catalog lists the module constructors linked into a binary.
	Catalog = registry.Catalog

	// Definition is an Action or a Workflow.
	Definition = registry.Definition

	// Action is a durable, individually retried step.
	Action = registry.Action

	// Workflow is deterministic code that orders actions.
	Workflow = registry.Workflow

	// DefinitionOption configures an Action or Workflow.
	DefinitionOption = registry.Option

	// SessionResolver supplies the database session injected into actions
	// that take a *gorm.DB.
	SessionResolver = registry.SessionResolver

	// Context is passed to workflow functions.
	Context = workflow.Context

	// Future is a pending action result.
	Future = workflow.Future

	// ActionRequest is the value returned by Action.Call.
	ActionRequest = core.ActionRequest

	// Status is the lifecycle state of an instance or action.
	Status = core.Status

	// WorkflowInstance is the persisted row of one workflow run.
	WorkflowInstance = core.WorkflowInstance

	// DaemonAction is the persisted row of one requested action.
	DaemonAction = core.DaemonAction
)

// Status constants
const (
	StatusQueued     = core.StatusQueued
	StatusInProgress = core.StatusInProgress
	StatusDone       = core.StatusDone
	StatusScheduled  = core.StatusScheduled
)

// Security limits
const (
	MaxRegistryIDLength   = security.MaxRegistryIDLength
	MaxInputSize          = security.MaxInputSize
	MaxRetries            = security.MaxRetries
	MaxPoolSize           = security.MaxPoolSize
	MaxErrorMessageLength = security.MaxErrorMessageLength
	MaxQueueNameLength    = security.MaxQueueNameLength
)

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return registry.New()
}

// NewCatalog creates an empty Catalog.
func NewCatalog() *Catalog {
	return registry.NewCatalog()
}

// NewAction defines an action from fn, a func(context.Context, In) (Out, error)
// optionally taking injected dependencies.
func NewAction(fn any, opts ...DefinitionOption) (*Action, error) {
	return registry.NewAction(fn, opts...)
}

// MustAction is NewAction that panics on an invalid definition.
func MustAction(fn any, opts ...DefinitionOption) *Action {
	return registry.MustAction(fn, opts...)
}

// NewWorkflow defines a workflow from fn, a func(Context, In) (Out, error).
func NewWorkflow(fn any, opts ...DefinitionOption) (*Workflow, error) {
	return registry.NewWorkflow(fn, opts...)
}

// MustWorkflow is NewWorkflow that panics on an invalid definition.
func MustWorkflow(fn any, opts ...DefinitionOption) *Workflow {
	return registry.MustWorkflow(fn, opts...)
}

// Provide makes fn's result injectable into actions taking a T.
func Provide[T any](r *Registry, fn func(ctx context.Context) (T, error)) {
	registry.Provide(r, fn)
}

// Execute dispatches req from a workflow and waits for its result.
func Execute[R any](ctx Context, req *ActionRequest) (R, error) {
	return workflow.Execute[R](ctx, req)
}

// Get waits for f and decodes its result.
func Get[R any](ctx Context, f Future) (R, error) {
	return workflow.Get[R](ctx, f)
}

// GoAll dispatches every request without waiting.
func GoAll(ctx Context, reqs ...*ActionRequest) []Future {
	return workflow.GoAll(ctx, reqs...)
}

// All waits for every future and returns the results in order.
func All[R any](ctx Context, futures []Future) ([]R, error) {
	return workflow.All[R](ctx, futures)
}

// Definition option functions

// Name overrides the registry id derived from the function's symbol.
func Name(id string) DefinitionOption {
	return registry.Name(id)
}

// Queue sets the queue a definition runs on.
func Queue(name string) DefinitionOption {
	return registry.Queue(name)
}

// Retries sets how many times a failed action is retried.
func Retries(n int) DefinitionOption {
	return registry.Retries(n)
}

// UnlimitedRetries retries a failed action until it succeeds.
func UnlimitedRetries() DefinitionOption {
	return registry.UnlimitedRetries()
}

// Backoff sets the base delay and growth factor between retries.
func Backoff(base time.Duration, factor float64) DefinitionOption {
	return registry.Backoff(base, factor)
}

// Jitter randomizes each retry delay by up to fraction of itself.
func Jitter(fraction float64) DefinitionOption {
	return registry.Jitter(fraction)
}

// SoftTimeout cancels an attempt's context after d of wall time.
func SoftTimeout(d time.Duration) DefinitionOption {
	return registry.SoftTimeout(d)
}

// HardTimeout terminates the worker running an attempt after d of wall time.
func HardTimeout(d time.Duration) DefinitionOption {
	return registry.HardTimeout(d)
}

// CPUSoftTimeout cancels an attempt's context after d of CPU time.
func CPUSoftTimeout(d time.Duration) DefinitionOption {
	return registry.CPUSoftTimeout(d)
}

// CPUHardTimeout terminates the worker running an attempt after d of CPU time.
func CPUHardTimeout(d time.Duration) DefinitionOption {
	return registry.CPUHardTimeout(d)
}

// WithInputSchema validates struct payloads with their `validate` tags
// before they are queued.
func WithInputSchema() DefinitionOption {
	return registry.WithInputSchema()
}

// Inject declares T as an injected parameter type rather than the payload.
func Inject[T any]() DefinitionOption {
	return registry.Inject[T]()
}

// ValidateQueueName validates a queue name.
func ValidateQueueName(name string) error {
	return security.ValidateQueueName(name)
}
