// -----------------------------------------------------------------------
// Last Modified: Thursday, 9th October 2025 8:53:55 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package server

import (
	"encoding/json"
	"net/http"

	"github.com/ternarybob/quaero/internal/common"
)

// setupRoutes configures all HTTP routes. The ingestion engine
// (internal/jobqueuehttp) owns the job, upload, job-execution and health
// routes; this file only adds the process-level version and shutdown
// endpoints that sit outside its concern.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/version", s.versionHandler)
	mux.HandleFunc("/api/shutdown", s.ShutdownHandler) // Graceful shutdown endpoint (dev mode)

	if s.app.IngestionHandler != nil {
		s.app.IngestionHandler.RegisterRoutes(mux, s.app.Config.Ingestion.RoutePrefix)
	}

	return mux
}

// versionHandler reports the running build version.
func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"version": common.Version,
	})
}
