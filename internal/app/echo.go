package app

import (
	"context"

	"github.com/pgwire/pgwire/internal/session"
	"github.com/pgwire/pgwire/internal/wire"
)

// Echo is a trivial Application demonstrating the contract: every
// simple query gets back one row echoing the statement text, and every
// extended-query step is acknowledged with the minimal response the
// protocol requires to keep the client's state machine in sync. It has
// no SQL engine behind it — grounded on the shape of the teacher's
// cmd/dbbouncer/main.go wiring, not its proxy behavior, since this
// engine dispatches to an in-process handler rather than a second TCP
// hop.
type Echo struct{}

var _ Application = Echo{}

func (Echo) Init(ctx context.Context, sess *session.Session, params []wire.Parameter) error {
	return nil
}

func (Echo) HandleQuery(ctx context.Context, sess *session.Session, sql string) error {
	if sql == "" {
		return sess.Send(wire.EmptyQueryResponse())
	}
	cols := []wire.ColumnMetadata{wire.NewColumnMetadata("echo", wire.PgVarChar)}
	if err := sess.Send(wire.RowDescription(cols)); err != nil {
		return err
	}
	if err := sess.Send(wire.DataRow([]string{sql})); err != nil {
		return err
	}
	return sess.Send(wire.CommandComplete("SELECT 1"))
}

func (Echo) HandleExtendedQuery(ctx context.Context, sess *session.Session, msg wire.CommandMessage) error {
	switch msg.Kind {
	case wire.CommandParse:
		return sess.Send(wire.ParseComplete())
	case wire.CommandBind:
		return sess.Send(wire.BindComplete())
	case wire.CommandDescribeStatement:
		return sess.Send(wire.ParameterDescription(nil))
	case wire.CommandDescribePortal:
		return sess.Send(wire.NoData())
	case wire.CommandExecute:
		return sess.Send(wire.CommandComplete("SELECT 0"))
	case wire.CommandCloseStatement, wire.CommandClosePortal:
		return sess.Send(wire.CloseComplete())
	case wire.CommandFlush, wire.CommandSync:
		return nil
	}
	return nil
}

func (Echo) Terminate(sess *session.Session) {}

func (Echo) Ping(ctx context.Context) error { return nil }
