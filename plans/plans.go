// Package plans holds the process-wide, read-only plan registry: a
// closed set of named {capacity, refill_rate} pairs loaded once at
// startup and never mutated.
package plans

import "fmt"

// Plan is an immutable capacity/refill-rate pair.
type Plan struct {
	Name       string
	Capacity   int
	RefillRate float64 // tokens per second
}

// ErrUnknownPlan is returned when a plan name isn't in the registry.
// Callers decide what to do with it — the registry itself never falls
// back to a default.
type ErrUnknownPlan struct {
	Name string
}

func (e ErrUnknownPlan) Error() string {
	return fmt.Sprintf("plans: unknown plan %q", e.Name)
}

// Registry is a process-wide, read-only lookup table of plans.
type Registry struct {
	plans map[string]Plan
}

// Default returns the registry seeded with the two recognized plans:
// basic and premium, matching the original service's user_plans table.
func Default() *Registry {
	return New([]Plan{
		{Name: "basic", Capacity: 5, RefillRate: 1},
		{Name: "premium", Capacity: 20, RefillRate: 5},
	})
}

// New builds a registry from an explicit plan list.
func New(list []Plan) *Registry {
	m := make(map[string]Plan, len(list))
	for _, p := range list {
		m[p.Name] = p
	}
	return &Registry{plans: m}
}

// Lookup returns the plan by name, or ErrUnknownPlan if it isn't
// registered. The registry never substitutes a default.
func (r *Registry) Lookup(name string) (Plan, error) {
	p, ok := r.plans[name]
	if !ok {
		return Plan{}, ErrUnknownPlan{Name: name}
	}
	return p, nil
}

// Names returns every registered plan name, in no defined order; the
// metrics reader uses it to know which plan counters to report.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.plans))
	for name := range r.plans {
		names = append(names, name)
	}
	return names
}
