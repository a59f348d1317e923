package server

import (
	"context"
	"errors"
	"log"
	"net"
	"sync"
	"time"

	"github.com/pgwire/pgwire/internal/metrics"
	"github.com/pgwire/pgwire/internal/router"
	"github.com/pgwire/pgwire/internal/session"
	"github.com/pgwire/pgwire/internal/supervisor"
	"github.com/pgwire/pgwire/internal/transport"
	"github.com/pgwire/pgwire/internal/wire"
)

// Server owns one Listener and runs the per-session command loop for
// every connection it accepts, generalizing the teacher's
// Server/acceptLoop/handleConnection (internal/proxy/server.go) from a
// byte relay to an Application backend, in-process, dispatch loop.
type Server struct {
	listener *Listener
	metrics  *metrics.Collector

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// Listen starts accepting connections on addr. m may be nil to disable
// D5 metrics recording (e.g. in tests that don't care about it).
func Listen(addr string, tls transport.TLSAcceptor, sslSupport bool, sup *supervisor.Supervisor, reg *router.Registry, sessions *session.Registry, m *metrics.Collector) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		listener: New(ln, tls, sslSupport, sup, reg, sessions, m),
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()
	return s, nil
}

func (s *Server) acceptLoop() {
	for {
		req, err := s.listener.Accept(s.ctx)
		if err != nil {
			var ioErr *IOError
			if errors.As(err, &ioErr) {
				select {
				case <-s.ctx.Done():
					return
				default:
					log.Printf("[server] accept error: %v", ioErr.Cause)
					continue
				}
			}
			// A per-connection failure (handshake, TLS, or cancel-
			// verification error) never stops the accept loop. An
			// IOError stops it only once the server is stopping;
			// otherwise it is logged and Accept is retried.
			log.Printf("[server] rejected connection: %v", err)
			continue
		}

		switch req.Kind {
		case RequestCancel:
			log.Printf("[server] cancel request verified for connection %d", req.CancelID)
			// Interrupting in-flight work is an application-layer
			// decision (spec.md §5); the core only surfaces the event.
			// This loop only logs it; no Application method is called.

		case RequestConnect:
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.runSession(req)
			}()
		}
	}
}

func (s *Server) runSession(req *ClientRequest) {
	sess := req.Session
	a := req.App

	defer func() {
		a.Terminate(sess)
		sess.Close()
		if s.metrics != nil {
			s.metrics.SessionClosed(sess.Backend(), time.Since(sess.CreatedAt()))
		}
	}()

	if err := a.Init(s.ctx, sess, sess.Params()); err != nil {
		log.Printf("[server] backend init failed for session %d: %v", sess.ID(), err)
		sess.Send(wire.ErrorResponse("FATAL", "08000", err.Error()))
		return
	}

	for {
		msg, err := sess.Receive(s.ctx)
		if err != nil {
			log.Printf("[server] receive error on session %d: %v", sess.ID(), err)
			if kind, ok := classifyDecodeErrorKind(err); ok && s.metrics != nil {
				s.metrics.DecodeError(kind)
			}
			return
		}

		switch msg.Kind {
		case wire.CommandTerminate:
			return
		case wire.CommandQuery:
			if err := a.HandleQuery(s.ctx, sess, msg.SQL); err != nil {
				sess.Send(wire.ErrorResponse("ERROR", "XX000", err.Error()))
			}
			sess.Send(wire.ReadyForQuery())
		default:
			if err := a.HandleExtendedQuery(s.ctx, sess, msg); err != nil {
				sess.Send(wire.ErrorResponse("ERROR", "XX000", err.Error()))
			}
			if msg.Kind == wire.CommandSync {
				sess.Send(wire.ReadyForQuery())
			}
		}
	}
}

// Stop gracefully shuts down the server: it stops accepting new
// connections, drains every live session, then waits for goroutines.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	s.listener.Close()
	err := s.listener.sessions.Drain(ctx)
	s.wg.Wait()
	return err
}

// Addr returns the listener's network address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// classifyDecodeErrorKind maps a C4 frontend message decode failure onto
// a pgwire_decode_errors_total label value. The second return is false
// for errors that aren't a malformed message — a closed socket or
// context cancellation — which aren't counted as decode errors.
func classifyDecodeErrorKind(err error) (string, bool) {
	var mfErr *wire.MessageFormatError
	if errors.As(err, &mfErr) {
		switch mfErr.Kind {
		case wire.MessageFormatMissingTag, wire.MessageFormatUnsupportedFrontendMessage:
			return "unsupported_request", true
		default:
			return "payload", true
		}
	}
	var pErr *wire.PayloadError
	if errors.As(err, &pErr) {
		return "payload", true
	}
	return "", false
}
