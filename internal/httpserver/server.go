// Package httpserver exposes run progress over HTTP so long interactive
// runs can be watched from outside the terminal.
package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/planops/almsync/internal/orchestrator"
)

type Server struct {
	orch *orchestrator.Orchestrator
}

func New(orch *orchestrator.Orchestrator) *Server {
	return &Server{orch: orch}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Get("/run", s.handleRun)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"ok":   true,
		"time": time.Now().UTC(),
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	runID, total, entries := s.orch.Progress()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"runId":    runID,
		"total":    total,
		"finished": len(entries),
		"entries":  entries,
	})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
