package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bobmcallan/tally/internal/common"
)

// registerRoutes sets up all routes on the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/api/jobs", s.handleJobs)
	mux.HandleFunc("/api/jobs/", s.handleJobRun)
}

// handleHealth responds to GET/HEAD /api/health with the status and the last
// run of each background job.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.app.StartupTime).Round(time.Second).String(),
		"jobs":   s.app.Scheduler.Runs(),
	})
}

// handleVersion responds to GET/HEAD /api/version with version info.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, common.VersionInfo())
}

// handleJobs lists the registered jobs.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"jobs": s.app.Scheduler.Jobs(),
		"runs": s.app.Scheduler.Runs(),
	})
}

// handleJobRun handles POST /api/jobs/{name}/run. The request waits for the
// run, joining one already in flight. Unknown jobs are 404.
func (s *Server) handleJobRun(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	name := PathParam(r, "/api/jobs/", "/run")

	s.logger.Info().Str("job", name).Msg("Job run requested via HTTP endpoint")
	// A client hanging up must not cut a batch short.
	shared, err := s.app.Scheduler.Trigger(context.WithoutCancel(r.Context()), name)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"job":    name,
		"shared": shared,
	})
}
