package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"github.com/jdziat/simple-durable-workflows/pkg/core"
	"github.com/jdziat/simple-durable-workflows/pkg/workflow"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// SessionResolver yields a database session scoped to one action call. The
// returned release func is called when the action returns.
type SessionResolver func(ctx context.Context) (*gorm.DB, func(), error)

// provider builds an injected value for one call.
type provider func(ctx context.Context) (reflect.Value, error)

// Registry is a process-local mapping from registry id to definition.
type Registry struct {
	mu        sync.RWMutex
	defs      map[string]Definition
	providers map[reflect.Type]provider
	sessions  SessionResolver
	logger    *slog.Logger
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		defs:      make(map[string]Definition),
		providers: make(map[reflect.Type]provider),
		logger:    slog.Default(),
	}
}

// SetLogger sets the logger injected into actions that declare one.
func (r *Registry) SetLogger(l *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = l
}

// WithSessionResolver installs the capability that supplies *gorm.DB
// parameters.
func (r *Registry) WithSessionResolver(sr SessionResolver) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = sr
	return r
}

// Provide registers fn as the per-call source of T.
func Provide[T any](r *Registry, fn func(ctx context.Context) (T, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[reflect.TypeFor[T]()] = func(ctx context.Context) (reflect.Value, error) {
		v, err := fn(ctx)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(&v).Elem(), nil
	}
}

func (r *Registry) hasProvider(t reflect.Type) bool {
	if t == loggerType {
		return true
	}
	if t == sessionType {
		return r.sessions != nil
	}
	_, ok := r.providers[t]
	return ok
}

// Register adds definitions. An id already bound to a different function
// fails with core.ErrRegistrationConflict; re-registering the identical
// function is a no-op. Actions whose injected parameters have no provider
// fail with a *core.ValidationError. Nothing is registered when any
// definition fails.
func (r *Registry) Register(defs ...Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	staged := make(map[string]Definition, len(defs))
	for _, d := range defs {
		existing, ok := staged[d.ID()]
		if !ok {
			existing, ok = r.defs[d.ID()]
		}
		if ok {
			if existing.pointer() == d.pointer() && existing.Kind() == d.Kind() {
				continue
			}
			return fmt.Errorf("%w: %s", core.ErrRegistrationConflict, d.ID())
		}
		if a, ok := d.(*Action); ok {
			for _, t := range a.handler.DepTypes {
				if !r.hasProvider(t) {
					return &core.ValidationError{Definition: a.id, Reason: fmt.Sprintf("no provider registered for %s", t)}
				}
			}
		}
		staged[d.ID()] = d
	}
	for id, d := range staged {
		r.defs[id] = d
	}
	return nil
}

// Lookup returns the definition bound to id.
func (r *Registry) Lookup(id string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[id]
	if !ok {
		return nil, fmt.Errorf("%w: registry id %q", core.ErrNotFound, id)
	}
	return d, nil
}

// Action returns the action bound to id.
func (r *Registry) Action(id string) (*Action, error) {
	d, err := r.Lookup(id)
	if err != nil {
		return nil, err
	}
	a, ok := d.(*Action)
	if !ok {
		return nil, fmt.Errorf("%w: %q is a %s, not an action", core.ErrNotFound, id, d.Kind())
	}
	return a, nil
}

// Workflow returns the workflow bound to id.
func (r *Registry) Workflow(id string) (*Workflow, error) {
	d, err := r.Lookup(id)
	if err != nil {
		return nil, err
	}
	w, ok := d.(*Workflow)
	if !ok {
		return nil, fmt.Errorf("%w: %q is a %s, not a workflow", core.ErrNotFound, id, d.Kind())
	}
	return w, nil
}

// ExportedModules returns the sorted set of packages defining the registered
// definitions.
func (r *Registry) ExportedModules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, d := range r.defs {
		seen[d.Module()] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// IDs returns the sorted registry ids of the given kind.
func (r *Registry) IDs(kind Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for id, d := range r.defs {
		if d.Kind() == kind {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Queues returns the sorted set of workflow queues.
func (r *Registry) Queues() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, d := range r.defs {
		if w, ok := d.(*Workflow); ok {
			seen[w.Queue()] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for q := range seen {
		out = append(out, q)
	}
	sort.Strings(out)
	return out
}

// InvokeAction runs a with the stored input body, injecting dependencies.
// The result is returned serialized.
func (r *Registry) InvokeAction(ctx context.Context, a *Action, body []byte) ([]byte, error) {
	var releases []func()
	defer func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}()

	r.mu.RLock()
	sessions, logger, providers := r.sessions, r.logger, r.providers
	r.mu.RUnlock()

	resolve := func(t reflect.Type) (reflect.Value, error) {
		switch t {
		case sessionType:
			if sessions == nil {
				return reflect.Value{}, errors.New("no session resolver configured")
			}
			db, release, err := sessions(ctx)
			if err != nil {
				return reflect.Value{}, err
			}
			if release != nil {
				releases = append(releases, release)
			}
			return reflect.ValueOf(db), nil
		case loggerType:
			return reflect.ValueOf(logger.With("registry_id", a.id)), nil
		}
		p, ok := providers[t]
		if !ok {
			return reflect.Value{}, fmt.Errorf("no provider registered for %s", t)
		}
		return p(ctx)
	}

	out, err := a.handler.Call(ctx, body, resolve)
	if err != nil {
		return nil, err
	}
	return encodeResult(out)
}

// InvokeWorkflow runs w inside wctx with the stored input body.
func (r *Registry) InvokeWorkflow(wctx workflow.Context, w *Workflow, body []byte) ([]byte, error) {
	out, err := w.handler.Call(wctx, body, nil)
	if err != nil {
		return nil, err
	}
	return encodeResult(out)
}
