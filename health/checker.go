package health

import (
	"encoding/json"
	"net/http"
	"slices"
	"sync"

	"github.com/scalarwaves/oscquery/component"
)

// Source reports a component's health on demand.
type Source interface {
	Health() component.HealthStatus
}

// Checker polls registered sources when asked for the current status.
type Checker struct {
	system  string
	mu      sync.RWMutex
	sources map[string]Source
}

// NewChecker returns a checker whose aggregate status is named system.
func NewChecker(system string) *Checker {
	return &Checker{system: system, sources: make(map[string]Source)}
}

// Register adds or replaces a named source.
func (c *Checker) Register(name string, src Source) {
	c.mu.Lock()
	c.sources[name] = src
	c.mu.Unlock()
}

// Remove drops a source.
func (c *Checker) Remove(name string) {
	c.mu.Lock()
	delete(c.sources, name)
	c.mu.Unlock()
}

// Check polls every source and aggregates the results in name order.
func (c *Checker) Check() Status {
	c.mu.RLock()
	names := make([]string, 0, len(c.sources))
	for name := range c.sources {
		names = append(names, name)
	}
	sources := make(map[string]Source, len(c.sources))
	for k, v := range c.sources {
		sources[k] = v
	}
	c.mu.RUnlock()

	slices.Sort(names)
	subs := make([]Status, 0, len(names))
	for _, name := range names {
		subs = append(subs, FromComponentHealth(name, sources[name].Health()))
	}
	return Aggregate(c.system, subs)
}

// ServeHTTP writes the aggregate status as JSON: 200 when healthy, 503 otherwise.
func (c *Checker) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	status := c.Check()
	w.Header().Set("Content-Type", "application/json")
	if !status.IsHealthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}
