// Package webhook serves the HTTP endpoints used to inspect and trigger jobs.
package webhook

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/user/expmirror/internal/jobs"
)

// TriggerFunc queues a run of job and returns its run ID.
type TriggerFunc func(job *jobs.Job, trigger, notify string) (string, error)

// Server is a lightweight HTTP handler over the job store.
type Server struct {
	store   *jobs.Store
	trigger TriggerFunc
	mux     *http.ServeMux
}

// NewServer creates a Server. trigger is called for POST /jobs/{name}.
func NewServer(store *jobs.Store, trigger TriggerFunc) *Server {
	s := &Server{
		store:   store,
		trigger: trigger,
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	s.mux.HandleFunc("GET /api/jobs/{name}", s.handleGetJob)
	s.mux.HandleFunc("POST /jobs/{name}", s.handleTrigger)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type jobResponse struct {
	Name        string          `json:"name"`
	Kind        jobs.Kind       `json:"kind"`
	Source      string          `json:"source"`
	Destination string          `json:"destination,omitempty"`
	Schedule    string          `json:"schedule,omitempty"`
	Enabled     bool            `json:"enabled"`
	LastRun     *jobs.RunRecord `json:"last_run,omitempty"`
}

func toResponse(job *jobs.Job) jobResponse {
	return jobResponse{
		Name:        job.Name,
		Kind:        job.Kind,
		Source:      job.Source,
		Destination: job.Destination,
		Schedule:    job.Schedule,
		Enabled:     job.Enabled,
		LastRun:     job.LastRun,
	}
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.List()
	if err != nil {
		slog.Error("list jobs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	result := make([]jobResponse, 0, len(list))
	for _, job := range list {
		result = append(result, toResponse(job))
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.Get(r.PathValue("name"))
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, toResponse(job))
}

// triggerRequest is the optional JSON body for POST /jobs/{name}.
type triggerRequest struct {
	Notify string `json:"notify"`
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	job, err := s.store.Get(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if !job.Enabled {
		writeError(w, http.StatusForbidden, "job is disabled")
		return
	}

	var body triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	id, err := s.trigger(job, "http", body.Notify)
	if err != nil {
		slog.Error("trigger job failed", "name", name, "error", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": id,
		"job":    name,
		"queued": time.Now().UTC().Format(time.RFC3339),
	})
}
