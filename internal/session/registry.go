package session

import (
	"context"
	"sync"
	"time"

	"github.com/pgwire/pgwire/internal/wire"
)

// Registry tracks every live Session for admin visibility and graceful
// drain, grounded on the teacher's pool.Manager bookkeeping generalized
// from pooled backend connections to client sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[wire.ConnID]*Session
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[wire.ConnID]*Session)}
}

// Add registers sess. Callers typically pass sess's own onClose callback
// wired to Registry.Remove so a session always deregisters itself.
func (r *Registry) Add(sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sess.ID()] = sess
}

// Remove deregisters id. Removing an id that is not present is a no-op.
func (r *Registry) Remove(id wire.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Get returns the live session for id, if any.
func (r *Registry) Get(id wire.ConnID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns every live session for use by the admin API.
// The returned slice is a copy; mutating it does not affect the
// registry.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Drain closes every live session and waits for the registry to empty or
// ctx to expire, whichever comes first — grounded on the teacher's
// Manager.Close/drainTenant shutdown path.
func (r *Registry) Drain(ctx context.Context) error {
	for _, s := range r.Snapshot() {
		s.Close()
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if r.Len() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
