package health

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opsconsole/dbsupervisor/internal/supervisor"
)

// Server is the operator-facing HTTP surface: liveness, the latest health
// report, pool/leak statistics and the manual cleanup remediation hook.
type Server struct {
	monitor   *Monitor
	sup       *supervisor.Supervisor
	srv       *http.Server
	startedAt time.Time
}

func NewServer(port string, monitor *Monitor, sup *supervisor.Supervisor) *Server {
	s := &Server{
		monitor:   monitor,
		sup:       sup,
		startedAt: time.Now(),
	}

	r := chi.NewRouter()
	r.Get("/health", s.handleLiveness)
	r.Get("/health/report", s.handleReport)
	r.Get("/stats", s.handleStats)
	r.Post("/admin/cleanup", s.handleCleanup)

	s.srv = &http.Server{Addr: ":" + port, Handler: r}
	return s
}

// Start listens in the background.
func (s *Server) Start() {
	log.Printf("Admin server listening on %s", s.srv.Addr)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Admin server failed: %v", err)
		}
	}()
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"service":        "dbsupervisor",
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"timestamp":      time.Now().Unix(),
	})
}

// handleReport serves the last periodic result, running an on-demand cycle
// when no periodic check has completed yet.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	result := s.monitor.LastResult()
	if result == nil {
		result = s.monitor.PerformHealthCheck(r.Context())
	}

	status := http.StatusOK
	if !result.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, result)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"connection_pool": s.sup.ConnectionStats(),
		"leaks":           s.sup.LeakStats(),
	})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	removed := s.sup.CleanupTimeoutOperations()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"removed": removed,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}
