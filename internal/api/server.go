// Package api implements the operator-facing REST surface (SPEC_FULL.md
// D6), grounded on the teacher's internal/api/server.go: gorilla/mux
// routing, a promhttp.Handler mount, and the same writeJSON/writeError
// helpers. Endpoints are re-scoped from tenant-pool CRUD to the
// session/backend model this spec actually has.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pgwire/pgwire/internal/health"
	"github.com/pgwire/pgwire/internal/metrics"
	"github.com/pgwire/pgwire/internal/router"
	"github.com/pgwire/pgwire/internal/session"
	"github.com/pgwire/pgwire/internal/supervisor"
	"github.com/pgwire/pgwire/internal/wire"
)

// Server is the REST API and metrics server.
type Server struct {
	router      *router.Registry
	sessions    *session.Registry
	supervisor  *supervisor.Supervisor
	healthCheck *health.Checker
	metrics     *metrics.Collector
	httpServer  *http.Server
	startTime   time.Time
}

// NewServer creates a new API server.
func NewServer(r *router.Registry, sessions *session.Registry, sup *supervisor.Supervisor, hc *health.Checker, m *metrics.Collector) *Server {
	return &Server{
		router:      r,
		sessions:    sessions,
		supervisor:  sup,
		healthCheck: hc,
		metrics:     m,
		startTime:   time.Now(),
	}
}

// Handler builds the mux.Router so tests can exercise it without
// binding a socket.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.healthzHandler).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})).Methods("GET")

	r.HandleFunc("/sessions", s.listSessions).Methods("GET")
	r.HandleFunc("/sessions/{id}", s.getSession).Methods("GET")
	r.HandleFunc("/sessions/{id}/cancel", s.cancelSession).Methods("POST")

	r.HandleFunc("/backends", s.listBackends).Methods("GET")
	r.HandleFunc("/backends/{name}/drain", s.drainBackend).Methods("POST")

	r.HandleFunc("/status", s.statusHandler).Methods("GET")

	return r
}

// Start starts the HTTP API server listening on addr.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Printf("[api] REST API listening on %s", addr)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[api] server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the API server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// --- Liveness ---

func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Session handlers ---

type sessionResponse struct {
	ID      int32  `json:"id"`
	Peer    string `json:"peer"`
	Backend string `json:"backend"`
	State   string `json:"state"`
}

func toSessionResponse(sess *session.Session) sessionResponse {
	return sessionResponse{
		ID:      int32(sess.ID()),
		Peer:    sess.Peer().String(),
		Backend: sess.Backend(),
		State:   sess.State().String(),
	}
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	snap := s.sessions.Snapshot()
	result := make([]sessionResponse, 0, len(snap))
	for _, sess := range snap {
		result = append(result, toSessionResponse(sess))
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id, err := parseConnID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess, ok := s.sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

// cancelSession synthesizes the verification path a real cancel-request
// connection would go through (spec.md §4.7), without requiring the
// operator to open a second TCP connection carrying the session's
// secret key: the secret is read back from the live Session itself and
// handed to the same Supervisor.Verify a wire-level cancel uses.
func (s *Server) cancelSession(w http.ResponseWriter, r *http.Request) {
	id, err := parseConnID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess, ok := s.sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if !s.supervisor.Verify(sess.ID(), sess.SecretKey()) {
		writeError(w, http.StatusConflict, "secret key verification failed")
		return
	}
	sess.Close()
	log.Printf("[api] session %d cancelled by operator", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// --- Backend handlers ---

type backendResponse struct {
	Name   string        `json:"name"`
	Paused bool          `json:"paused"`
	Health health.Status `json:"health"`
}

func (s *Server) listBackends(w http.ResponseWriter, r *http.Request) {
	names := s.router.Names()
	result := make([]backendResponse, 0, len(names))
	for _, name := range names {
		result = append(result, backendResponse{
			Name:   name,
			Paused: s.router.IsPaused(name),
			Health: s.healthCheck.GetStatus(name).Status,
		})
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) drainBackend(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !s.router.Pause(name) {
		writeError(w, http.StatusNotFound, "backend not found")
		return
	}
	log.Printf("[api] backend %s draining", name)
	writeJSON(w, http.StatusOK, map[string]string{"status": "draining", "backend": name})
}

// --- Status ---

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds":  time.Since(s.startTime).Seconds(),
		"go_version":      runtime.Version(),
		"goroutines":      runtime.NumGoroutine(),
		"memory_mb":       float64(mem.Alloc) / 1024 / 1024,
		"sessions_active": s.sessions.Len(),
		"backends":        s.router.Names(),
	})
}

// --- Helpers ---

func parseConnID(raw string) (wire.ConnID, error) {
	var n int32
	if _, err := fmt.Sscanf(raw, "%d", &n); err != nil {
		return 0, fmt.Errorf("invalid session id %q", raw)
	}
	return wire.ConnID(n), nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
