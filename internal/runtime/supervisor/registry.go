package supervisor

import (
	"maps"
	"sync"
)

// Registry names the running supervisors so their state can be reported.
// Methods on a nil *Registry are no-ops.
type Registry struct {
	mu   sync.Mutex
	sups map[string]*Supervisor
}

func NewRegistry() *Registry {
	return &Registry{sups: map[string]*Supervisor{}}
}

// Set registers sup under name, replacing any earlier one. A nil sup
// removes the name.
func (r *Registry) Set(name string, sup *Supervisor) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if sup == nil {
		delete(r.sups, name)
		return
	}
	r.sups[name] = sup
}

// Snapshots takes a Snapshot of every registered supervisor.
func (r *Registry) Snapshots() map[string]Snapshot {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	sups := maps.Clone(r.sups)
	r.mu.Unlock()

	out := make(map[string]Snapshot, len(sups))
	for name, s := range sups {
		out[name] = s.Snapshot()
	}
	return out
}
