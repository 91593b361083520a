package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/shoalstore/shoal/pkg/log"
	"github.com/shoalstore/shoal/pkg/metrics"
	"github.com/shoalstore/shoal/pkg/node"
	"github.com/shoalstore/shoal/pkg/pg"
)

// NodeView is the slice of the node the admin surface reads. Everything is
// a snapshot; nothing here can block on ingestion.
type NodeView interface {
	Status() node.Status
	Registry() *pg.Map
}

// Server is the node's admin HTTP endpoint: liveness, readiness, status
// and metrics. It is an operator surface, not a data path; it binds to a
// local address by default and carries no authentication.
type Server struct {
	view   NodeView
	mux    *http.ServeMux
	srv    *http.Server
	logger zerolog.Logger
}

// NewServer builds the admin server around a node view.
func NewServer(view NodeView) *Server {
	mux := http.NewServeMux()
	s := &Server{
		view:   view,
		mux:    mux,
		logger: log.WithComponent("api"),
	}

	mux.HandleFunc("/healthz", s.healthHandler)
	mux.HandleFunc("/readyz", s.readyHandler)
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/pgs", s.pgsHandler)
	mux.Handle("/metrics", metrics.Handler())

	return s
}

// Handler exposes the route table; tests drive it through httptest.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start begins serving on addr. It returns once the listener is bound;
// serving continues in the background until Stop.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.srv = &http.Server{
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("admin server failed")
		}
	}()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("admin endpoint listening")
	return nil
}

// Stop shuts the server down, letting in-flight requests finish.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.view.Status())
}

func (s *Server) pgsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	groups := s.view.Registry().Resident()
	stats := make([]pg.Stats, 0, len(groups))
	for _, g := range groups {
		stats = append(stats, g.Stats())
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
