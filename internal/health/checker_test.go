package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pgwire/pgwire/internal/app"
	"github.com/pgwire/pgwire/internal/metrics"
	"github.com/pgwire/pgwire/internal/router"
	"github.com/pgwire/pgwire/internal/session"
	"github.com/pgwire/pgwire/internal/wire"
)

type pingApp struct {
	err error
}

func (a *pingApp) Init(ctx context.Context, sess *session.Session, params []wire.Parameter) error {
	return nil
}
func (a *pingApp) HandleQuery(ctx context.Context, sess *session.Session, sql string) error {
	return nil
}
func (a *pingApp) HandleExtendedQuery(ctx context.Context, sess *session.Session, msg wire.CommandMessage) error {
	return nil
}
func (a *pingApp) Terminate(sess *session.Session) {}
func (a *pingApp) Ping(ctx context.Context) error   { return a.err }

var _ app.Application = (*pingApp)(nil)

func newTestChecker(reg *router.Registry) *Checker {
	return NewChecker(reg, metrics.New(), 10*time.Millisecond, 2, 50*time.Millisecond)
}

func TestCheckerMarksHealthyBackend(t *testing.T) {
	reg := router.New("main")
	reg.Register("main", &pingApp{})

	c := newTestChecker(reg)
	c.checkAll()

	if !c.IsHealthy("main") {
		t.Error("expected backend to be healthy")
	}
	if got := c.GetStatus("main").Status; got != StatusHealthy {
		t.Errorf("expected StatusHealthy, got %v", got)
	}
}

func TestCheckerMarksUnhealthyAfterThreshold(t *testing.T) {
	reg := router.New("main")
	reg.Register("main", &pingApp{err: errors.New("backend unavailable")})

	c := newTestChecker(reg)
	c.checkAll()
	if !c.IsHealthy("main") {
		t.Error("expected healthy before threshold reached")
	}

	c.checkAll()
	if c.IsHealthy("main") {
		t.Error("expected unhealthy once failure threshold is reached")
	}
	st := c.GetStatus("main")
	if st.Status != StatusUnhealthy {
		t.Errorf("expected StatusUnhealthy, got %v", st.Status)
	}
	if st.LastError == "" {
		t.Error("expected LastError to be populated")
	}
}

func TestCheckerRecoversAfterSuccess(t *testing.T) {
	reg := router.New("main")
	a := &pingApp{err: errors.New("down")}
	reg.Register("main", a)

	c := newTestChecker(reg)
	c.checkAll()
	c.checkAll()
	if c.IsHealthy("main") {
		t.Fatal("expected unhealthy before recovery")
	}

	a.err = nil
	c.checkAll()
	if !c.IsHealthy("main") {
		t.Error("expected healthy after recovery")
	}
	if c.GetStatus("main").ConsecutiveFailures != 0 {
		t.Error("expected failure count reset after recovery")
	}
}

func TestCheckerUnknownBackendIsHealthy(t *testing.T) {
	reg := router.New("main")
	c := newTestChecker(reg)
	if !c.IsHealthy("never-checked") {
		t.Error("expected unknown backend to report healthy")
	}
}

func TestCheckerOverallHealthy(t *testing.T) {
	reg := router.New("a")
	reg.Register("a", &pingApp{})
	reg.Register("b", &pingApp{err: errors.New("down")})

	c := newTestChecker(reg)
	c.checkAll()
	c.checkAll()

	if c.OverallHealthy() {
		t.Error("expected OverallHealthy to be false when one backend is unhealthy")
	}
}

func TestCheckerRemoveBackend(t *testing.T) {
	reg := router.New("main")
	reg.Register("main", &pingApp{})
	c := newTestChecker(reg)
	c.checkAll()

	c.RemoveBackend("main")
	if _, ok := c.GetAllStatuses()["main"]; ok {
		t.Error("expected backend health state removed")
	}
}

func TestCheckerStartStop(t *testing.T) {
	reg := router.New("main")
	reg.Register("main", &pingApp{})
	c := newTestChecker(reg)
	c.Start()
	time.Sleep(30 * time.Millisecond)
	c.Stop()
}
