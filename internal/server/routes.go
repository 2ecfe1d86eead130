package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Jobs
	mux.HandleFunc("/api/jobs", s.handleJobsRoute)
	mux.HandleFunc("/api/jobs/", s.app.JobHandler.JobRoutesHandler) // Handles /{id}, /{id}/cancel, /{id}/chunks

	// API routes - Links
	mux.HandleFunc("/api/links/auto", s.app.LinkHandler.AutoLinkHandler)
	mux.HandleFunc("/api/links/bulk", s.app.LinkHandler.BulkLinkHandler)
	mux.HandleFunc("/api/links", s.app.LinkHandler.ListLinksHandler)
	mux.HandleFunc("/api/links/", s.app.LinkHandler.LinkRoutesHandler) // Handles DELETE /{left}/{right}

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	return mux
}

// handleJobsRoute splits list and create on method
func (s *Server) handleJobsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.app.JobHandler.ListJobsHandler(w, r)
	case http.MethodPost:
		s.app.JobHandler.StartJobHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
