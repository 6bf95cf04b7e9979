package progress

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// HealthResponse is the /healthz payload.
type HealthResponse struct {
	Status string `json:"status"`
	RunID  string `json:"run_id"`
	Uptime string `json:"uptime"`
}

// Server exposes a Reporter's latest snapshot as JSON. It is read-only
// observability into an in-process run, not a control surface.
type Server struct {
	reporter *Reporter
	router   *chi.Mux
	server   *http.Server
	started  time.Time
}

// NewServer builds a Server listening on addr once Start is called.
func NewServer(addr string, reporter *Reporter) *Server {
	s := &Server{
		reporter: reporter,
		router:   chi.NewRouter(),
		started:  time.Now(),
	}
	s.router.Use(middleware.Recoverer)
	s.router.Get("/status", s.handleStatus)
	s.router.Get("/healthz", s.handleHealth)
	s.server = &http.Server{Addr: addr, Handler: s.router}
	return s
}

// Handler returns the router, for callers that mount the status
// endpoints on their own server instead of calling Start.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the HTTP server until Shutdown or a listener error.
func (s *Server) Start() error {
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.reporter.Latest()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(HealthResponse{
		Status: "ok",
		RunID:  s.reporter.RunID(),
		Uptime: time.Since(s.started).String(),
	})
}
