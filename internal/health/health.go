// Package health runs named readiness checks for server subsystems.
package health

import (
	"context"
	"sort"
	"sync"
)

// Status is the outcome of a single subsystem check.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker probes one subsystem. It must respect ctx cancellation.
type Checker func(ctx context.Context) Status

// Registry holds checkers by name. Registering an existing name replaces
// the previous checker.
type Registry struct {
	mu       sync.RWMutex
	checkers map[string]Checker
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{checkers: make(map[string]Checker)}
}

// Register adds or replaces the checker for name.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	r.checkers[name] = check
	r.mu.Unlock()
}

// CheckAll runs every checker and reports the aggregate: healthy is false
// when any subsystem fails. Results come back sorted by name so the
// health endpoint output is stable.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	names := make([]string, 0, len(r.checkers))
	for name := range r.checkers {
		names = append(names, name)
	}
	checks := make(map[string]Checker, len(r.checkers))
	for name, c := range r.checkers {
		checks[name] = c
	}
	r.mu.RUnlock()

	sort.Strings(names)

	healthy = true
	for _, name := range names {
		st := checks[name](ctx)
		if !st.Healthy {
			healthy = false
		}
		statuses = append(statuses, st)
	}
	return healthy, statuses
}
