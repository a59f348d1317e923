// Package supervisor allocates and verifies the (ConnID, SecretKey) pairs
// that let a client cancel another connection's in-flight query, and the
// registry of connection IDs currently in use (spec.md C6).
package supervisor

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/pgwire/pgwire/internal/wire"
)

// ErrExhausted is returned by Alloc when every ID in the configured range
// is in use.
var ErrExhausted = fmt.Errorf("supervisor: connection id range exhausted")

// Supervisor allocates Connection IDs and secret keys, and verifies a
// cancel request's secret key against the ID it targets. Every method is
// safe for concurrent use; a single Supervisor is shared by every
// listener goroutine spawned by one server.
type Supervisor struct {
	mu       sync.Mutex
	nextID   wire.ConnID
	maxID    wire.ConnID
	freeIDs  []wire.ConnID
	mapping  map[wire.ConnID]wire.SecretKey
}

// New returns a Supervisor that allocates connection IDs in [minID, maxID].
func New(minID, maxID wire.ConnID) *Supervisor {
	return &Supervisor{
		nextID:  minID,
		maxID:   maxID,
		mapping: make(map[wire.ConnID]wire.SecretKey),
	}
}

// Alloc reserves a fresh ConnID and a CSPRNG-generated SecretKey. IDs
// freed by a prior Free call are reused before any unused ID in the
// range, so the range never runs out purely from churn.
func (s *Supervisor) Alloc() (wire.ConnID, wire.SecretKey, error) {
	secret, err := randomSecretKey()
	if err != nil {
		return 0, 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.generateID()
	if err != nil {
		return 0, 0, err
	}
	s.mapping[id] = secret
	return id, secret, nil
}

func (s *Supervisor) generateID() (wire.ConnID, error) {
	if n := len(s.freeIDs); n > 0 {
		id := s.freeIDs[0]
		s.freeIDs = s.freeIDs[1:]
		return id, nil
	}
	if s.nextID > s.maxID {
		return 0, ErrExhausted
	}
	id := s.nextID
	s.nextID++
	return id, nil
}

// Free releases id back to the pool. Freeing an ID that is not currently
// allocated is a no-op.
func (s *Supervisor) Free(id wire.ConnID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.mapping[id]; ok {
		delete(s.mapping, id)
		s.freeIDs = append(s.freeIDs, id)
	}
}

// Verify reports whether secret is the key currently associated with id.
// A cancel request for an unknown or already-freed id always fails. The
// comparison runs in constant time so a cancel request cannot be used to
// probe a live secret key byte-by-byte via timing.
func (s *Supervisor) Verify(id wire.ConnID, secret wire.SecretKey) bool {
	s.mu.Lock()
	got, ok := s.mapping[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	var gotBuf, wantBuf [4]byte
	binary.BigEndian.PutUint32(gotBuf[:], uint32(got))
	binary.BigEndian.PutUint32(wantBuf[:], uint32(secret))
	return subtle.ConstantTimeCompare(gotBuf[:], wantBuf[:]) == 1
}

// randomSecretKey draws a secret key from a cryptographically secure
// source. A wall-clock-seeded generator would make secret keys
// predictable across restarts, which defeats the one purpose a secret
// key serves: proving the cancel request came from the client that owns
// the connection.
func randomSecretKey() (wire.SecretKey, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("supervisor: generate secret key: %w", err)
	}
	return wire.SecretKey(binary.BigEndian.Uint32(b[:])), nil
}
