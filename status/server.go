// Package status serves a read-only JSON view of the allocation registry.
package status

import (
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"arbitration-service/allocation"
	"arbitration-service/queues"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// Lister is the registry surface the view reads.
type Lister interface {
	Get(id string) (allocation.Allocation, bool)
	Live() []allocation.Allocation
}

type Server struct {
	registry Lister
}

func New(registry Lister) *Server {
	return &Server{registry: registry}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/allocations", s.handleList)
	r.Get("/allocations/{id}", s.handleGet)
	return r
}

// Register mounts the view on mux next to the metrics and health endpoints.
func (s *Server) Register(mux *http.ServeMux) {
	h := s.Router()
	mux.Handle("/allocations", h)
	mux.Handle("/allocations/", h)
}

// handleList optionally narrows to allocations holding ?resource=.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	resource := r.URL.Query().Get("resource")
	live := s.registry.Live()
	out := make([]*queues.AllocationRecord, 0, len(live))
	for _, a := range live {
		if resource != "" && !slices.Contains(a.ResourceIDs, resource) {
			continue
		}
		out = append(out, queues.FromAllocation(a))
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"allocations": out,
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, ok := s.registry.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "allocation "+id+" not found")
		return
	}
	respondJSON(w, http.StatusOK, queues.FromAllocation(a))
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Warn().Err(err).Msg("status: failed to write response")
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
