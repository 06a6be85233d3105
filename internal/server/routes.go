package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// API routes - Settings
	mux.HandleFunc("/api/settings", s.app.SettingsHandler.SettingsRouteHandler)

	// API routes - Secrets
	mux.HandleFunc("/api/secrets/check", s.app.SecretsHandler.CheckSecretsHandler)
	mux.HandleFunc("/api/secrets/", s.app.SecretsHandler.SecretRouteHandler)

	// API routes - Query jobs
	mux.HandleFunc("/api/queries", s.handleQueriesRoute)
	mux.HandleFunc("/api/queries/", s.handleQueryRoutes)

	// API routes - Credential validation
	mux.HandleFunc("/api/validate/", s.app.ValidateHandler.ValidateRouteHandler)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/api/shutdown", s.ShutdownHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleQueriesRoute routes /api/queries (list and start)
func (s *Server) handleQueriesRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.app.QueryHandler.ListQueriesHandler(w, r)
	case http.MethodPost:
		s.app.QueryHandler.StartQueryHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleQueryRoutes routes /api/queries/{id} and /api/queries/{id}/cancel
func (s *Server) handleQueryRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if r.Method == http.MethodPost && strings.HasSuffix(path, "/cancel") {
		s.app.QueryHandler.CancelQueryHandler(w, r)
		return
	}

	if r.Method == http.MethodGet {
		s.app.QueryHandler.GetQueryHandler(w, r)
		return
	}

	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}
