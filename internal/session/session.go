// Package session tracks live client connections: the per-connection
// Session object the listener constructs after a successful handshake
// (spec.md C7), and a Registry of every Session currently open, adapted
// from the teacher's pooled-connection bookkeeping to sessions that
// dispatch to an in-process backend rather than a pooled upstream
// connection (SPEC_FULL.md D3).
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pgwire/pgwire/internal/wire"
)

// State is the lifecycle stage of a Session.
type State int

const (
	StateHandshaking State = iota
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one authenticated client connection: a decoded command
// stream in one direction and an encoded response stream in the other,
// both driven by the same stream under a single mutex so Send calls from
// concurrent goroutines (e.g. an admin-triggered cancel notice) never
// interleave bytes (spec.md §5's "per-session mutex" ordering guarantee).
type Session struct {
	id      wire.ConnID
	secret  wire.SecretKey
	peer    net.Addr
	backend string
	params  []wire.Parameter

	mu    sync.Mutex
	conn  net.Conn
	state State

	dec       *wire.Decoder
	createdAt time.Time
	lastUsed  time.Time

	onClose func()
}

// New constructs a Session around an already-upgraded, already-
// authenticated connection. onClose is invoked exactly once, from
// Close, so a Registry can remove the session and a Supervisor can free
// its ConnID.
func New(conn net.Conn, id wire.ConnID, secret wire.SecretKey, peer net.Addr, backend string, params []wire.Parameter, onClose func()) *Session {
	now := time.Now()
	return &Session{
		id:        id,
		secret:    secret,
		peer:      peer,
		backend:   backend,
		params:    params,
		conn:      conn,
		state:     StateReady,
		dec:       wire.NewDecoder(),
		createdAt: now,
		lastUsed:  now,
		onClose:   onClose,
	}
}

func (s *Session) ID() wire.ConnID          { return s.id }
func (s *Session) SecretKey() wire.SecretKey { return s.secret }
func (s *Session) Peer() net.Addr           { return s.peer }
func (s *Session) Backend() string          { return s.backend }
func (s *Session) Params() []wire.Parameter { return s.params }
func (s *Session) CreatedAt() time.Time     { return s.createdAt }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastUsed returns when Receive last returned a message.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// Receive runs C4 over the session's stream and returns the next decoded
// command message. An EOF from the client — a socket closed without a
// Terminate message — is translated to a synthetic Terminate so the
// caller can tear the session down the same way in both cases.
func (s *Session) Receive(ctx context.Context) (wire.CommandMessage, error) {
	dec := s.dec
	status, err := dec.Next(nil)
	for {
		if err != nil {
			return wire.CommandMessage{}, err
		}
		if status.Done {
			s.mu.Lock()
			s.lastUsed = time.Now()
			s.mu.Unlock()
			return status.Message, nil
		}
		buf := make([]byte, status.Requested)
		if err := s.readExact(ctx, buf); err != nil {
			if err == errClientEOF {
				return wire.CommandMessage{Kind: wire.CommandTerminate}, nil
			}
			return wire.CommandMessage{}, err
		}
		status, err = dec.Next(buf)
	}
}

// Send writes one backend message under the session's mutex. Both the
// success and error shapes of a query result go through Send, so the
// caller's choice of which to emit is the only place protocol semantics
// are interpreted (spec.md §4.7).
func (s *Session) Send(msg wire.BackendMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return fmt.Errorf("session: send on closed session %d", s.id)
	}
	_, err := s.conn.Write(msg.Encode())
	return err
}

// Flush is a no-op for a plain net.Conn; it exists so Session matches
// the teacher's Sender shape (flush-then-send) for transports that
// buffer writes.
func (s *Session) Flush() error { return nil }

// Close closes the underlying stream, marks the session closed, and
// invokes onClose exactly once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	conn := s.conn
	s.mu.Unlock()

	if s.onClose != nil {
		s.onClose()
	}
	return conn.Close()
}

var errClientEOF = fmt.Errorf("session: client closed connection")

func (s *Session) readExact(ctx context.Context, buf []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		s.conn.SetReadDeadline(deadline)
		defer s.conn.SetReadDeadline(time.Time{})
	}
	n := 0
	for n < len(buf) {
		m, err := s.conn.Read(buf[n:])
		n += m
		if err != nil {
			if isEOF(err) {
				return errClientEOF
			}
			return err
		}
	}
	return nil
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
