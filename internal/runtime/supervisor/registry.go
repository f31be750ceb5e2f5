package supervisor

import (
	"sort"
	"sync"
)

// Registry names the supervisors of running subsystems so health output
// can list what each one is still running.
type Registry struct {
	mu sync.RWMutex
	m  map[string]func() *Supervisor
}

func NewRegistry() *Registry {
	return &Registry{m: map[string]func() *Supervisor{}}
}

// Set registers sup under name; a nil sup deletes the entry.
func (r *Registry) Set(name string, sup *Supervisor) {
	if sup == nil {
		r.SetSource(name, nil)
		return
	}
	r.SetSource(name, func() *Supervisor { return sup })
}

// SetSource registers a subsystem whose supervisor comes and goes, such as
// a server that is restarted on reconfiguration. The source is asked on
// every Snapshot and may return nil while the subsystem is stopped.
func (r *Registry) SetSource(name string, src func() *Supervisor) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if src == nil {
		delete(r.m, name)
		return
	}
	r.m[name] = src
}

func (r *Registry) Delete(name string) { r.Set(name, nil) }

// Snapshot maps each subsystem to its active goroutine names.
func (r *Registry) Snapshot() map[string][]string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]string, len(r.m))
	for k, src := range r.m {
		if sup := src(); sup != nil {
			out[k] = sup.Active()
		}
	}
	return out
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.m))
	for k := range r.m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
