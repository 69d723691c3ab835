package load

import (
	"fmt"
	"sort"
	"sync"

	"github.com/wesleyorama2/cacheload/internal/load/metrics"
)

// Workload is a named iteration function together with the custom metrics
// it records. Declare runs once per run, before any traffic, so thresholds
// can be checked against the declared metric types.
type Workload struct {
	Description string
	Declare     func(reg *metrics.Registry) error
	Run         IterationFunc
}

// Catalog maps the exec names used in scenario configs to workloads.
type Catalog struct {
	mu        sync.RWMutex
	workloads map[string]Workload
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{workloads: make(map[string]Workload)}
}

// Register adds a workload under name.
func (c *Catalog) Register(name string, w Workload) error {
	if name == "" {
		return fmt.Errorf("workload name cannot be empty")
	}
	if w.Run == nil {
		return fmt.Errorf("workload %q has no iteration function", name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.workloads[name]; exists {
		return fmt.Errorf("workload %q already registered", name)
	}
	c.workloads[name] = w
	return nil
}

// MustRegister is Register that panics on error.
func (c *Catalog) MustRegister(name string, w Workload) {
	if err := c.Register(name, w); err != nil {
		panic(err)
	}
}

// Lookup returns the workload registered under name.
func (c *Catalog) Lookup(name string) (Workload, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	w, ok := c.workloads[name]
	return w, ok
}

// Names returns the registered names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.workloads))
	for name := range c.workloads {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
