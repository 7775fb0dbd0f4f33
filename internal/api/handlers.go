package api

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mev-engine/solana-mev-pipeline/pkg/interfaces"
	"github.com/mev-engine/solana-mev-pipeline/pkg/risk"
)

// statusResponse is the /status document.
type statusResponse struct {
	Status    string                    `json:"status"`
	Uptime    string                    `json:"uptime"`
	Degraded  bool                      `json:"degraded"`
	Endpoints []interfaces.EndpointInfo `json:"endpoints"`
	Risk      *risk.Snapshot            `json:"risk,omitempty"`
	Timestamp time.Time                 `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	degraded := s.deps.Stream != nil && s.deps.Stream.Degraded()
	status := "healthy"
	if degraded {
		status = "degraded"
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:    "running",
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
		Timestamp: time.Now(),
	}
	if s.deps.Stream != nil {
		resp.Degraded = s.deps.Stream.Degraded()
	}
	if s.deps.Router != nil {
		resp.Endpoints = s.deps.Router.Endpoints()
	}
	if s.deps.Gate != nil {
		snap := s.deps.Gate.TakeSnapshot()
		resp.Risk = &snap
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMetricsJSON(w http.ResponseWriter, r *http.Request) {
	if s.deps.Collector == nil {
		http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		return
	}
	raw, err := s.deps.Collector.ExportJSON()
	if err != nil {
		s.logger.Error("metrics export failed", zap.Error(err))
		http.Error(w, "metrics export failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if s.deps.Alerts == nil {
		http.Error(w, "alerts unavailable", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": s.deps.Alerts.History(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encoding failed", zap.Error(err))
	}
}
