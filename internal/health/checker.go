// Package health probes every registered backend with Application.Ping
// on a timer, grounded on the teacher's internal/health/checker.go:
// same Status/TenantHealth shape and consecutive-failure threshold,
// generalized from a TCP/protocol dial probe to an in-process Ping call
// (spec.md has no upstream connection to dial — SPEC_FULL.md §4.11).
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pgwire/pgwire/internal/metrics"
	"github.com/pgwire/pgwire/internal/router"
)

// Status represents the health status of a registered backend.
type Status int

const (
	StatusUnknown Status = iota
	StatusHealthy
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// BackendHealth holds health information for one backend.
type BackendHealth struct {
	Status              Status    `json:"status"`
	LastCheck           time.Time `json:"last_check"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
}

// Checker performs periodic health checks on registered backends.
type Checker struct {
	mu       sync.RWMutex
	backends map[string]*BackendHealth
	router   *router.Registry
	metrics  *metrics.Collector

	interval         time.Duration
	failureThreshold int
	probeTimeout     time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewChecker creates a new health checker with configurable parameters.
func NewChecker(r *router.Registry, m *metrics.Collector, interval time.Duration, failureThreshold int, probeTimeout time.Duration) *Checker {
	return &Checker{
		backends:         make(map[string]*BackendHealth),
		router:           r,
		metrics:          m,
		interval:         interval,
		failureThreshold: failureThreshold,
		probeTimeout:     probeTimeout,
		stopCh:           make(chan struct{}),
	}
}

// Start begins periodic health checking.
func (c *Checker) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run()
	}()
	slog.Info("health checker started", "interval", c.interval, "threshold", c.failureThreshold)
}

// Stop stops the health checker. Safe to call multiple times.
func (c *Checker) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
	slog.Info("health checker stopped")
}

func (c *Checker) run() {
	c.checkAll()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.checkAll()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Checker) checkAll() {
	names := c.router.Names()

	const maxWorkers = 10
	sem := make(chan struct{}, maxWorkers)
	var wg sync.WaitGroup

	for _, name := range names {
		name := name
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			start := time.Now()
			healthy, errMsg := c.pingBackend(name)
			elapsed := time.Since(start)
			c.updateStatus(name, healthy, errMsg, elapsed)
		}()
	}
	wg.Wait()
}

func (c *Checker) pingBackend(name string) (healthy bool, errMsg string) {
	a, err := c.router.Resolve(name)
	if err != nil {
		return false, err.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.probeTimeout)
	defer cancel()
	if err := a.Ping(ctx); err != nil {
		return false, err.Error()
	}
	return true, ""
}

func (c *Checker) updateStatus(name string, healthy bool, errMsg string, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bh := c.getOrCreate(name)
	bh.LastCheck = time.Now()

	if healthy {
		if bh.ConsecutiveFailures > 0 {
			slog.Info("backend recovered", "backend", name, "failures", bh.ConsecutiveFailures)
		}
		bh.Status = StatusHealthy
		bh.ConsecutiveFailures = 0
		bh.LastError = ""
	} else {
		bh.ConsecutiveFailures++
		bh.LastError = errMsg
		if bh.ConsecutiveFailures >= c.failureThreshold {
			if bh.Status != StatusUnhealthy {
				slog.Warn("backend marked unhealthy", "backend", name, "failures", bh.ConsecutiveFailures, "error", errMsg)
			}
			bh.Status = StatusUnhealthy
		}
	}

	if c.metrics != nil {
		c.metrics.SetBackendHealth(name, bh.Status == StatusHealthy)
	}
}

func (c *Checker) getOrCreate(name string) *BackendHealth {
	bh, ok := c.backends[name]
	if !ok {
		bh = &BackendHealth{Status: StatusUnknown}
		c.backends[name] = bh
	}
	return bh
}

// IsHealthy returns whether a backend is healthy (unknown counts as
// healthy so a freshly registered backend isn't rejected before its
// first probe runs).
func (c *Checker) IsHealthy(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	bh, ok := c.backends[name]
	if !ok {
		return true
	}
	return bh.Status != StatusUnhealthy
}

// GetStatus returns the health status for a backend.
func (c *Checker) GetStatus(name string) BackendHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()

	bh, ok := c.backends[name]
	if !ok {
		return BackendHealth{Status: StatusUnknown}
	}
	return *bh
}

// GetAllStatuses returns health statuses for all known backends.
func (c *Checker) GetAllStatuses() map[string]BackendHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]BackendHealth, len(c.backends))
	for name, bh := range c.backends {
		result[name] = *bh
	}
	return result
}

// OverallHealthy returns true if every known backend is healthy.
func (c *Checker) OverallHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, bh := range c.backends {
		if bh.Status == StatusUnhealthy {
			return false
		}
	}
	return true
}

// RemoveBackend removes health state for an unregistered backend.
func (c *Checker) RemoveBackend(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.backends, name)
	if c.metrics != nil {
		c.metrics.RemoveBackend(name)
	}
	slog.Info("removed health state", "backend", name)
}
