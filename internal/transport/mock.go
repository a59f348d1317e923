package transport

import (
	"context"
	"net"
)

// NoTLSAcceptor rejects every upgrade attempt. Listener.Accept uses it
// when no TLS identity is configured, so an SSL request always falls
// back to a plaintext connection rather than panicking on a nil
// acceptor.
type NoTLSAcceptor struct{}

func (NoTLSAcceptor) Accept(ctx context.Context, raw net.Conn) (net.Conn, error) {
	return nil, errTLSNotConfigured
}

var errTLSNotConfigured = errNoTLS("transport: no TLS identity configured")

type errNoTLS string

func (e errNoTLS) Error() string { return string(e) }

// PipeAcceptor is a deterministic in-memory TLSAcceptor for tests: it
// wraps raw as-is and reports the upgrade as having succeeded without
// touching the bytes, the same shortcut the teacher's proxy_test.go
// takes by driving handlers over net.Pipe() instead of real sockets.
// Tests that need to exercise a genuine failed-handshake path should use
// NoTLSAcceptor instead.
type PipeAcceptor struct{}

func (PipeAcceptor) Accept(ctx context.Context, raw net.Conn) (net.Conn, error) {
	return raw, nil
}
