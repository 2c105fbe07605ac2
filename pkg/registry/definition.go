package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"runtime"
	"slices"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/jdziat/simple-durable-workflows/pkg/core"
	"github.com/jdziat/simple-durable-workflows/pkg/internal/handler"
	"github.com/jdziat/simple-durable-workflows/pkg/security"
	"github.com/jdziat/simple-durable-workflows/pkg/workflow"
)

// Kind distinguishes actions from workflows.
type Kind string

const (
	KindAction   Kind = "action"
	KindWorkflow Kind = "workflow"
)

var (
	contextType  = reflect.TypeFor[context.Context]()
	workflowType = reflect.TypeFor[workflow.Context]()
	sessionType  = reflect.TypeFor[*gorm.DB]()
	loggerType   = reflect.TypeFor[*slog.Logger]()
)

// Definition is a registered action or workflow.
type Definition interface {
	ID() string
	Module() string
	Kind() Kind
	Config() Config

	pointer() uintptr
}

type base struct {
	id      string
	module  string
	ptr     uintptr
	cfg     Config
	handler *handler.Handler
}

func (b *base) ID() string       { return b.id }
func (b *base) Module() string   { return b.module }
func (b *base) Config() Config   { return b.cfg }
func (b *base) pointer() uintptr { return b.ptr }

// ValidatePayload checks payload against the definition's input schema when
// WithInputSchema was given.
func (b *base) ValidatePayload(payload any) error {
	if !b.cfg.ValidateInput || payload == nil {
		return nil
	}
	v := reflect.ValueOf(payload)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}
	if err := validate.Struct(v.Interface()); err != nil {
		return fmt.Errorf("%w: %s: %v", core.ErrInvalidInput, b.id, err)
	}
	return nil
}

// Encode serializes a payload for storage, enforcing the input schema and
// size limit.
func (b *base) Encode(payload any) ([]byte, error) {
	if err := b.ValidatePayload(payload); err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload for %s: %w", b.id, err)
	}
	if err := security.ValidateInputSize(body); err != nil {
		return nil, err
	}
	return body, nil
}

// Action is a durable, individually retried step.
type Action struct {
	base
}

func (*Action) Kind() Kind { return KindAction }

// Call builds a request to run the action with payload. Nothing executes
// until the request is handed to a workflow.Context.
func (a *Action) Call(payload any) *core.ActionRequest {
	return &core.ActionRequest{RegistryID: a.id, Args: payload}
}

// Timeouts returns the configured limits in seconds, nil when unset.
func (a *Action) Timeouts() (wallSoft, wallHard, cpuSoft, cpuHard *float64) {
	secs := func(d time.Duration) *float64 {
		if d <= 0 {
			return nil
		}
		s := d.Seconds()
		return &s
	}
	return secs(a.cfg.WallSoftTimeout), secs(a.cfg.WallHardTimeout), secs(a.cfg.CPUSoftTimeout), secs(a.cfg.CPUHardTimeout)
}

// Row builds the DaemonAction persisted when instanceID calls the action at
// state with the encoded body.
func (a *Action) Row(instanceID, state string, body []byte) *core.DaemonAction {
	wallSoft, wallHard, cpuSoft, cpuHard := a.Timeouts()
	return &core.DaemonAction{
		InstanceID:          instanceID,
		State:               state,
		RegistryID:          a.id,
		InputBody:           body,
		RetryMaxAttempts:    a.cfg.MaxRetries,
		RetryBackoffSeconds: a.cfg.BackoffSeconds,
		RetryBackoffFactor:  a.cfg.BackoffFactor,
		RetryJitter:         a.cfg.Jitter,
		WallSoftTimeout:     wallSoft,
		WallHardTimeout:     wallHard,
		CPUSoftTimeout:      cpuSoft,
		CPUHardTimeout:      cpuHard,
	}
}

// Workflow is a deterministic function composed of action requests.
type Workflow struct {
	base
}

func (*Workflow) Kind() Kind { return KindWorkflow }

// Queue returns the logical queue instances of this workflow are placed on.
func (w *Workflow) Queue() string {
	if w.cfg.Queue != "" {
		return w.cfg.Queue
	}
	return w.id
}

// NewAction defines an action from fn.
func NewAction(fn any, opts ...Option) (*Action, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt.ApplyDefinition(cfg)
	}
	deps := append([]reflect.Type{sessionType, loggerType}, cfg.Dependencies...)
	b, err := newBase(fn, cfg, contextType, func(t reflect.Type) bool {
		return slices.Contains(deps, t)
	})
	if err != nil {
		return nil, err
	}
	return &Action{base: *b}, nil
}

// MustAction is like NewAction but panics on error. Intended for
// package-level definitions.
func MustAction(fn any, opts ...Option) *Action {
	a, err := NewAction(fn, opts...)
	if err != nil {
		panic(err)
	}
	return a
}

// NewWorkflow defines a workflow from fn.
func NewWorkflow(fn any, opts ...Option) (*Workflow, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt.ApplyDefinition(cfg)
	}
	b, err := newBase(fn, cfg, workflowType, nil)
	if err != nil {
		return nil, err
	}
	if err := security.ValidateQueueName((&Workflow{base: *b}).Queue()); err != nil {
		return nil, &core.ValidationError{Definition: b.id, Reason: err.Error()}
	}
	return &Workflow{base: *b}, nil
}

// MustWorkflow is like NewWorkflow but panics on error.
func MustWorkflow(fn any, opts ...Option) *Workflow {
	w, err := NewWorkflow(fn, opts...)
	if err != nil {
		panic(err)
	}
	return w
}

func newBase(fn any, cfg *Config, first reflect.Type, isDep handler.IsDep) (*base, error) {
	if fn == nil || reflect.ValueOf(fn).Kind() != reflect.Func || reflect.ValueOf(fn).IsNil() {
		return nil, &core.ValidationError{Definition: fmt.Sprintf("%T", fn), Reason: "not a function"}
	}
	ptr := reflect.ValueOf(fn).Pointer()
	id, module := symbolOf(ptr)
	if cfg.Name != "" {
		id = cfg.Name
	}
	if err := security.ValidateRegistryID(id); err != nil {
		return nil, &core.ValidationError{Definition: id, Reason: err.Error()}
	}
	h, err := handler.NewHandler(fn, first, isDep)
	if err != nil {
		return nil, &core.ValidationError{Definition: id, Reason: err.Error()}
	}
	return &base{id: id, module: module, ptr: ptr, cfg: *cfg, handler: h}, nil
}

// symbolOf returns the qualified symbol name and defining package path of the
// function at ptr.
func symbolOf(ptr uintptr) (id, module string) {
	f := runtime.FuncForPC(ptr)
	if f == nil {
		return "", ""
	}
	id = strings.TrimSuffix(f.Name(), "-fm")
	slash := strings.LastIndex(id, "/")
	if dot := strings.Index(id[slash+1:], "."); dot >= 0 {
		module = id[:slash+1+dot]
	} else {
		module = id
	}
	return id, module
}

func encodeResult(v any) ([]byte, error) {
	body, err := handler.EncodeResult(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return body, nil
}
