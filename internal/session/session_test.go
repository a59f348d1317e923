package session

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pgwire/pgwire/internal/wire"
)

func TestSessionSendEncodesMessage(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sess := New(server, 1, 99, client.LocalAddr(), "default", nil, nil)

	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 9)
		n, _ := client.Read(buf)
		done <- buf[:n]
	}()

	if err := sess.Send(wire.AuthenticationOk()); err != nil {
		t.Fatal(err)
	}

	got := <-done
	want := []byte{'R', 0, 0, 0, 8, 0, 0, 0, 0}
	if string(got) != string(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSessionReceiveDecodesQuery(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sess := New(server, 1, 99, client.LocalAddr(), "default", nil, nil)

	go func() {
		body := append([]byte("select 1"), 0)
		msg := make([]byte, 1+4+len(body))
		msg[0] = 'Q'
		msg[1], msg[2], msg[3], msg[4] = 0, 0, 0, byte(4+len(body))
		copy(msg[5:], body)
		client.Write(msg)
	}()

	cmd, err := sess.Receive(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Kind != wire.CommandQuery || cmd.SQL != "select 1" {
		t.Fatalf("got %+v", cmd)
	}
}

func TestSessionReceiveEOFBecomesTerminate(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	sess := New(server, 1, 99, client.LocalAddr(), "default", nil, nil)
	client.Close()

	cmd, err := sess.Receive(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Kind != wire.CommandTerminate {
		t.Fatalf("got %+v, want CommandTerminate", cmd)
	}
}

func TestSessionReceiveMidFrameEOFBecomesTerminate(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	sess := New(server, 1, 99, client.LocalAddr(), "default", nil, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Write a Query message tag plus a partial length prefix, then
		// close before the rest of the frame arrives.
		client.Write([]byte{'Q', 0, 0})
		client.Close()
	}()

	cmd, err := sess.Receive(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Kind != wire.CommandTerminate {
		t.Fatalf("got %+v, want CommandTerminate", cmd)
	}
	<-done
}

func TestSessionCloseInvokesOnCloseOnce(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	calls := 0
	sess := New(server, 1, 99, client.LocalAddr(), "default", nil, func() { calls++ })

	if err := sess.Close(); err != nil {
		t.Fatal(err)
	}
	if err := sess.Close(); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("onClose called %d times, want 1", calls)
	}
	if sess.State() != StateClosed {
		t.Fatalf("state = %v, want StateClosed", sess.State())
	}
}

func TestSessionSendAfterCloseFails(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	sess := New(server, 1, 99, client.LocalAddr(), "default", nil, nil)
	sess.Close()

	if err := sess.Send(wire.AuthenticationOk()); err == nil {
		t.Fatal("expected error sending on closed session")
	}
}

func TestRegistryAddRemoveGet(t *testing.T) {
	reg := NewRegistry()
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sess := New(server, 7, 1, client.LocalAddr(), "default", nil, nil)
	reg.Add(sess)

	got, ok := reg.Get(7)
	if !ok || got != sess {
		t.Fatalf("Get(7) = %v, %v", got, ok)
	}
	if reg.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", reg.Len())
	}

	reg.Remove(7)
	if _, ok := reg.Get(7); ok {
		t.Fatal("expected session removed")
	}
}

func TestRegistryDrainClosesAllSessions(t *testing.T) {
	reg := NewRegistry()
	var conns []net.Conn
	for i := 0; i < 3; i++ {
		client, server := net.Pipe()
		conns = append(conns, client)
		id := wire.ConnID(i + 1)
		sess := New(server, id, 1, client.LocalAddr(), "default", nil, func(id wire.ConnID) func() {
			return func() { reg.Remove(id) }
		}(id))
		reg.Add(sess)
	}
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := reg.Drain(ctx); err != nil {
		t.Fatal(err)
	}
	if reg.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after drain", reg.Len())
	}
}
