// Package transport adapts net.Conn streams to the encrypted-stream
// contract the listener needs to upgrade a connection after an SSL
// request (spec.md §6, D7).
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/pkcs12"
)

// TLSAcceptor upgrades a plaintext stream to an encrypted one once the
// handshake state machine has decided the client's SSL request should be
// accepted. Implementations must not touch raw before Accept is called.
type TLSAcceptor interface {
	Accept(ctx context.Context, raw net.Conn) (net.Conn, error)
}

// PKCS12Acceptor loads a TLS server identity from a PKCS#12 (.p12/.pfx)
// file, the external contract spec.md §6 specifies in place of the
// teacher's PEM cert/key pair (`tls.LoadX509KeyPair`).
type PKCS12Acceptor struct {
	config *tls.Config
}

// NewPKCS12Acceptor decodes a PKCS#12 identity from der using password
// and builds a TLSAcceptor around it.
func NewPKCS12Acceptor(der []byte, password string) (*PKCS12Acceptor, error) {
	key, cert, err := pkcs12.Decode(der, password)
	if err != nil {
		return nil, fmt.Errorf("transport: decode pkcs12 identity: %w", err)
	}
	tlsCert := tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  key,
	}
	return &PKCS12Acceptor{
		config: &tls.Config{
			Certificates: []tls.Certificate{tlsCert},
			MinVersion:   tls.VersionTLS12,
		},
	}, nil
}

// Accept performs the server-side TLS handshake over raw and returns the
// encrypted stream. The handshake is driven eagerly so that a failure
// surfaces here rather than silently on the first read.
func (a *PKCS12Acceptor) Accept(ctx context.Context, raw net.Conn) (net.Conn, error) {
	conn := tls.Server(raw, a.config)
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	if err := conn.HandshakeContext(ctx); err != nil {
		return nil, fmt.Errorf("transport: tls handshake: %w", err)
	}
	conn.SetDeadline(time.Time{})
	return conn, nil
}
