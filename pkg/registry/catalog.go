package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jdziat/simple-durable-workflows/pkg/core"
)

// Constructor registers the definitions of one module.
type Constructor func(r *Registry) error

// Catalog is the manifest of module constructors compiled into a binary. The
// supervisor passes ExportedModules to worker processes, which call Load to
// rebuild the same registry.
type Catalog struct {
	mu      sync.RWMutex
	modules map[string]Constructor
}

// NewCatalog creates an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{modules: make(map[string]Constructor)}
}

// Add binds a module path to its constructor.
func (c *Catalog) Add(module string, fn Constructor) *Catalog {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modules[module] = fn
	return c
}

// AddDefinitions binds each definition's module to a constructor that
// registers it. Definitions sharing a module are registered together.
func (c *Catalog) AddDefinitions(defs ...Definition) *Catalog {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range defs {
		def := d
		prev := c.modules[d.Module()]
		c.modules[d.Module()] = func(r *Registry) error {
			if prev != nil {
				if err := prev(r); err != nil {
					return err
				}
			}
			return r.Register(def)
		}
	}
	return c
}

// Modules returns the sorted module paths in the catalog.
func (c *Catalog) Modules() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.modules))
	for m := range c.modules {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Load runs the constructors for modules against r. An empty list loads
// every module in the catalog.
func (c *Catalog) Load(r *Registry, modules ...string) error {
	if len(modules) == 0 {
		modules = c.Modules()
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, m := range modules {
		fn, ok := c.modules[m]
		if !ok {
			return fmt.Errorf("%w: module %q is not in the catalog", core.ErrNotFound, m)
		}
		if err := fn(r); err != nil {
			return fmt.Errorf("load module %s: %w", m, err)
		}
	}
	return nil
}

// Build creates a fresh Registry from the catalog.
func (c *Catalog) Build(setup func(*Registry), modules ...string) (*Registry, error) {
	r := New()
	if setup != nil {
		setup(r)
	}
	if err := c.Load(r, modules...); err != nil {
		return nil, err
	}
	return r, nil
}
