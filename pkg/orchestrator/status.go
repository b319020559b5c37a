package orchestrator

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type statusResponse struct {
	Status            string   `json:"status"`
	UptimeSeconds     int64    `json:"uptime_seconds"`
	Subscribed        bool     `json:"subscribed"`
	Tracked           []string `json:"tracked"`
	LastRefreshAt     string   `json:"last_refresh_at,omitempty"`
	LastRefreshErr    string   `json:"last_refresh_error,omitempty"`
	GeneratorLastOKAt string   `json:"generator_last_ok_at,omitempty"`
	GeneratorLastErr  string   `json:"generator_last_error,omitempty"`
	Breaker           string   `json:"breaker"`
	InFlight          int64    `json:"in_flight"`
	Handled           int64    `json:"handled"`
}

func (s *Service) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := "ready"
	if !s.isReady() {
		status = "not_ready"
	}

	s.respondStatus(w, http.StatusOK, status)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	payload := s.currentStatus(status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	tracked := make([]string, 0)
	for _, entry := range s.members.Snapshot().Targets() {
		tracked = append(tracked, entry.Target)
	}

	resp := statusResponse{
		Status:           status,
		UptimeSeconds:    uptime,
		Subscribed:       s.subscribed,
		Tracked:          tracked,
		LastRefreshAt:    formatTime(s.lastRefreshAt),
		LastRefreshErr:   s.lastRefreshErr,
		GeneratorLastErr: s.generatorLastErr,
		Breaker:          s.pipeline.BreakerState().String(),
	}
	resp.GeneratorLastOKAt = formatTime(s.generatorLastOKAt)
	if s.dispatcher != nil {
		resp.InFlight = s.dispatcher.InFlight()
		resp.Handled = s.dispatcher.Handled()
	}

	return resp
}

// isReady reports whether the initial reconcile finished and the subscription
// is running.
func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.reconciled && s.subscribed
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	return t.Format(time.RFC3339)
}
