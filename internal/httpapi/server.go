// Package httpapi is the agent's introspection surface: /health and
// /process/list, bound on whatever address http_server.bind names, and
// restarted in place whenever that config changes. Go counterpart of
// spec.md §4.6.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/novawatcher-io/watchermen/internal/config"
	"github.com/novawatcher-io/watchermen/internal/eventloop"
	"github.com/novawatcher-io/watchermen/internal/logging"
	"github.com/novawatcher-io/watchermen/internal/process"
)

const defaultHealthPath = "/health"

// ProcessTable is the subset of *process.Reconciler the HTTP handlers
// need, read through Loop.Call so net/http's own goroutines never touch
// authoritative state directly (spec.md §4.6).
type ProcessTable interface {
	Snapshot() []process.Snapshot
}

// statusEnum is the symbolic-name -> numeric-value legend /process/list
// reports alongside every entry's symbolic status string.
var statusEnum = map[string]int{
	process.StatusUnknown.String():   int(process.StatusUnknown),
	process.StatusRun.String():       int(process.StatusRun),
	process.StatusRunning.String():   int(process.StatusRunning),
	process.StatusReload.String():    int(process.StatusReload),
	process.StatusReloading.String(): int(process.StatusReloading),
	process.StatusStopped.String():   int(process.StatusStopped),
	process.StatusStopping.String():  int(process.StatusStopping),
	process.StatusExited.String():    int(process.StatusExited),
	process.StatusDeleting.String():  int(process.StatusDeleting),
	process.StatusDeleted.String():   int(process.StatusDeleted),
}

type processEntry struct {
	Name   string `json:"name"`
	PID    int    `json:"pid"`
	Status string `json:"status"`
}

// Server implements config.HTTPController: Start binds and serves in the
// background, Stop shuts the listener down, and Config calls Stop then
// Start again whenever http_server changes.
type Server struct {
	loop  *eventloop.Loop
	table ProcessTable
	log   *logging.Logger

	mu  sync.Mutex
	srv *http.Server
}

// NewServer constructs an unstarted Server. Call Start to bind.
func NewServer(loop *eventloop.Loop, table ProcessTable, log *logging.Logger) *Server {
	return &Server{loop: loop, table: table, log: log}
}

// Start implements config.HTTPController. An empty cfg.Bind leaves the
// introspection surface disabled, matching a ManagerConfig that never
// configured http_server at all.
func (s *Server) Start(cfg config.HTTPServerConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg.Bind == "" {
		return
	}

	healthPath := cfg.HealthPath
	if healthPath == "" {
		healthPath = defaultHealthPath
	}

	router := mux.NewRouter()
	router.HandleFunc(healthPath, s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/process/list", s.handleProcessList).Methods(http.MethodGet)

	srv := &http.Server{Addr: cfg.Bind, Handler: router}
	s.srv = srv

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logErr("http server on %s: %v", cfg.Bind, err)
		}
	}()
}

// Stop implements config.HTTPController, shutting down any active
// listener. A no-op if the server was never started.
func (s *Server) Stop() {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()

	if srv == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		s.logErr("http server shutdown: %v", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	// Liveness only - readiness is not modeled (spec.md §7): 200
	// unconditionally, regardless of reconciler or control-plane state.
	writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
}

func (s *Server) handleProcessList(w http.ResponseWriter, r *http.Request) {
	snaps := s.loop.Call(func() any { return s.table.Snapshot() }).([]process.Snapshot)

	entries := make([]processEntry, 0, len(snaps))
	for _, snap := range snaps {
		entries = append(entries, processEntry{Name: snap.Name, PID: snap.PID, Status: snap.Status})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"process": entries,
		"status":  statusEnum,
	})
}

func (s *Server) logErr(format string, args ...any) {
	if s.log == nil {
		return
	}
	s.log.Current().Err().Err(fmt.Errorf(format, args...)).Log("httpapi")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
