package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/shoalstore/shoal/pkg/metrics"
	"github.com/shoalstore/shoal/pkg/types"
)

// HealthResponse is the /healthz body.
type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

// ReadyResponse is the /readyz body.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// healthHandler aggregates the component registry: storage, map
// ingestion, and the node state machine. Any unhealthy component turns
// the whole response 503.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h := metrics.GetHealth()
	code := http.StatusOK
	if h.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, HealthResponse{
		Status:     h.Status,
		Timestamp:  h.Timestamp,
		Components: h.Components,
		Version:    h.Version,
		Uptime:     h.Uptime,
	})
}

// readyHandler is readiness: the node serves only while active. A booting
// or preboot node answers 503 so a balancer in front keeps traffic away
// until the map authority has marked it up.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	st := s.view.Status()
	checks := map[string]string{
		"state": string(st.State),
		"epoch": fmt.Sprintf("e%d", st.Epoch),
	}

	ready := st.State == types.NodeStateActive
	message := ""
	if !ready {
		message = "node is not active"
	}
	if st.Degraded {
		checks["map_features"] = "degraded"
	}

	resp := ReadyResponse{
		Status:    "ready",
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	}
	code := http.StatusOK
	if !ready {
		resp.Status = "not_ready"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}
