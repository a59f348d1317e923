// Package app defines the contract a backend implements to handle
// decoded protocol messages (SPEC_FULL.md §4.8), generalizing the
// teacher's ConnectionHandler from "proxy to a second TCP hop" to
// "dispatch to an in-process object" — this engine never opens a
// connection to a real PostgreSQL server.
package app

import (
	"context"

	"github.com/pgwire/pgwire/internal/session"
	"github.com/pgwire/pgwire/internal/wire"
)

// Application handles the post-handshake lifecycle of one session.
// Implementations must be safe for concurrent use across sessions; a
// single Application instance is shared by every session routed to it.
type Application interface {
	// Init runs once per Session immediately after handshake and
	// authentication succeed, before any command message is read.
	Init(ctx context.Context, sess *session.Session, params []wire.Parameter) error

	// HandleQuery implements the simple query flow for one Query message.
	HandleQuery(ctx context.Context, sess *session.Session, sql string) error

	// HandleExtendedQuery implements one step of the extended query flow
	// (Parse/Bind/Describe/Execute/Sync/Flush/Close). The core has
	// already decoded the frontend message; HandleExtendedQuery decides
	// what backend messages to emit via sess.Send.
	HandleExtendedQuery(ctx context.Context, sess *session.Session, msg wire.CommandMessage) error

	// Terminate runs once when the session ends, for any reason: a
	// client Terminate message, EOF, or a protocol error.
	Terminate(sess *session.Session)

	// Ping is a lightweight liveness probe used by the health checker.
	Ping(ctx context.Context) error
}
