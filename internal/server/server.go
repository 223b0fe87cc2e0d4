package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/intelgate/intelgate/internal/core/domain"
)

// SourceStatus is the wire form of one source's health and limiter state.
type SourceStatus struct {
	Source       domain.SourceID     `json:"source"`
	Capabilities []domain.Capability `json:"capabilities"`
	Healthy      bool                `json:"healthy"`
	ErrorCount   int                 `json:"error_count"`
	LastCheck    time.Time           `json:"last_check"`
	NextCheck    time.Time           `json:"next_check"`
	Tokens       float64             `json:"tokens_available"`
	MinuteUsed   int                 `json:"minute_used"`
	HourUsed     int                 `json:"hour_used"`
	DayUsed      int                 `json:"day_used"`
}

// StatusReporter supplies per-source status snapshots to the server.
type StatusReporter interface {
	SourceStatuses() []SourceStatus
}

// Server provides HTTP endpoints for health monitoring and operations.
type Server struct {
	reporter StatusReporter
	server   *http.Server
}

// NewServer creates a new ops server listening on the given port.
func NewServer(reporter StatusReporter, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		reporter: reporter,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/detailed", s.handleDetailed)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	statuses := s.reporter.SourceStatuses()

	// Aggregate status: degraded while any source is down, unhealthy
	// only when every source is down.
	healthy := 0
	for _, st := range statuses {
		if st.Healthy {
			healthy++
		}
	}

	status := "healthy"
	code := http.StatusOK
	switch {
	case len(statuses) > 0 && healthy == 0:
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	case healthy < len(statuses):
		status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  status,
		"sources": len(statuses),
		"healthy": healthy,
	})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	statuses := s.reporter.SourceStatuses()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statuses)
}
