// Package router resolves the startup parameter that names a backend
// to its registered Application, the way the teacher's Router resolves
// a tenant ID to a TenantConfig — adapted here to hand back an
// in-process handler instead of a database connection target
// (SPEC_FULL.md D2).
package router

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pgwire/pgwire/internal/app"
)

// registrySnapshot is an immutable point-in-time view of the backend
// table, stored in atomic.Value for lock-free Resolve calls on the hot
// path (every new connection resolves once).
type registrySnapshot struct {
	backends map[string]app.Application
	paused   map[string]bool
	def      string
}

// Registry resolves a backend name to its Application. Resolve and
// IsPaused are lock-free; Register/Unregister/Pause/Resume serialize on
// a write mutex and publish a new snapshot.
type Registry struct {
	snap atomic.Value // holds *registrySnapshot
	wmu  sync.Mutex
}

// New returns an empty Registry. defaultBackend, if non-empty, is
// resolved when a client's startup parameters name no backend at all.
func New(defaultBackend string) *Registry {
	r := &Registry{}
	r.snap.Store(&registrySnapshot{
		backends: make(map[string]app.Application),
		paused:   make(map[string]bool),
		def:      defaultBackend,
	})
	return r
}

func (r *Registry) load() *registrySnapshot {
	return r.snap.Load().(*registrySnapshot)
}

// cloneSnap returns a mutable deep copy of the current snapshot. Must be
// called with wmu held.
func (r *Registry) cloneSnap() *registrySnapshot {
	cur := r.load()
	backends := make(map[string]app.Application, len(cur.backends))
	for k, v := range cur.backends {
		backends[k] = v
	}
	paused := make(map[string]bool, len(cur.paused))
	for k, v := range cur.paused {
		paused[k] = v
	}
	return &registrySnapshot{backends: backends, paused: paused, def: cur.def}
}

// Register adds or replaces the Application served under name.
func (r *Registry) Register(name string, a app.Application) {
	r.wmu.Lock()
	defer r.wmu.Unlock()
	s := r.cloneSnap()
	s.backends[name] = a
	r.snap.Store(s)
}

// Unregister removes name. Returns false if name was not registered.
func (r *Registry) Unregister(name string) bool {
	r.wmu.Lock()
	defer r.wmu.Unlock()
	cur := r.load()
	if _, ok := cur.backends[name]; !ok {
		return false
	}
	s := r.cloneSnap()
	delete(s.backends, name)
	delete(s.paused, name)
	r.snap.Store(s)
	return true
}

// Resolve looks up name, falling back to the configured default backend
// if name is empty. Lock-free.
func (r *Registry) Resolve(name string) (app.Application, error) {
	snap := r.load()
	if name == "" {
		name = snap.def
	}
	a, ok := snap.backends[name]
	if !ok {
		return nil, fmt.Errorf("router: unknown backend %q", name)
	}
	return a, nil
}

// Pause marks name as refusing new sessions. Returns false if name is
// not registered.
func (r *Registry) Pause(name string) bool {
	r.wmu.Lock()
	defer r.wmu.Unlock()
	cur := r.load()
	if _, ok := cur.backends[name]; !ok {
		return false
	}
	s := r.cloneSnap()
	s.paused[name] = true
	r.snap.Store(s)
	return true
}

// Resume reverses Pause. Returns false if name is not registered.
func (r *Registry) Resume(name string) bool {
	r.wmu.Lock()
	defer r.wmu.Unlock()
	cur := r.load()
	if _, ok := cur.backends[name]; !ok {
		return false
	}
	s := r.cloneSnap()
	delete(s.paused, name)
	r.snap.Store(s)
	return true
}

// IsPaused reports whether name is currently paused, falling back to the
// default backend if name is empty, as Resolve does. Lock-free.
func (r *Registry) IsPaused(name string) bool {
	snap := r.load()
	if name == "" {
		name = snap.def
	}
	return snap.paused[name]
}

// Names returns every registered backend name.
func (r *Registry) Names() []string {
	snap := r.load()
	names := make([]string, 0, len(snap.backends))
	for name := range snap.backends {
		names = append(names, name)
	}
	return names
}
