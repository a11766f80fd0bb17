package api

import (
	"net/http"

	"github.com/havenclimb/coursecup/internal/auth"
	"github.com/havenclimb/coursecup/internal/collector"
	"github.com/havenclimb/coursecup/internal/config"
	"github.com/havenclimb/coursecup/internal/storage"
)

// Router holds the HTTP routes and dependencies
type Router struct {
	mux     *http.ServeMux
	store   *storage.Store
	manager *collector.Manager
	wsHub   *WebSocketHub
	auth    *auth.Service
	cfg     *config.Config
}

// NewRouter creates a new HTTP router
func NewRouter(cfg *config.Config, store *storage.Store, manager *collector.Manager, authService *auth.Service) *Router {
	r := &Router{
		mux:     http.NewServeMux(),
		store:   store,
		manager: manager,
		wsHub:   NewWebSocketHub(),
		auth:    authService,
		cfg:     cfg,
	}

	// Season and standings (public)
	r.mux.HandleFunc("GET /api/season", r.handleGetSeason)
	r.mux.HandleFunc("GET /api/seasons/{number}", r.handleGetSeasonByNumber)
	r.mux.HandleFunc("GET /api/standings", r.handleGetStandings)
	r.mux.HandleFunc("GET /api/courses", r.handleGetCourses)
	r.mux.HandleFunc("GET /api/courses/{id}/finishes", r.handleGetCourseFinishes)
	r.mux.HandleFunc("GET /api/views/{kind}", r.handleGetView)

	// Auth routes
	r.mux.HandleFunc("POST /api/auth/login", r.handleLogin)
	r.mux.HandleFunc("POST /api/auth/logout", r.handleLogout)
	r.mux.HandleFunc("GET /api/auth/check", r.handleAuthCheck)

	// Season lifecycle and course management (admin only)
	r.mux.HandleFunc("POST /api/admin/season", r.requireAdmin(r.handleStartSeason))
	r.mux.HandleFunc("POST /api/admin/season/end", r.requireAdmin(r.handleBeginEndSeason))
	r.mux.HandleFunc("POST /api/admin/season/end/confirm", r.requireAdmin(r.handleConfirmEndSeason))
	r.mux.HandleFunc("POST /api/admin/courses", r.requireAdmin(r.handleAddCourse))
	r.mux.HandleFunc("POST /api/admin/courses/expire", r.requireAdmin(r.handleExpireCourse))
	r.mux.HandleFunc("PUT /api/admin/scoring", r.requireAdmin(r.handleSetScoring))
	r.mux.HandleFunc("PUT /api/admin/views/{kind}", r.requireAdmin(r.handleSetViewToggle))

	// User management (admin only)
	r.mux.HandleFunc("GET /api/users", r.requireAdmin(r.handleListUsers))
	r.mux.HandleFunc("POST /api/users", r.requireAdmin(r.handleCreateUser))
	r.mux.HandleFunc("DELETE /api/users/{username}", r.requireAdmin(r.handleDeleteUser))

	// Ingest diagnostics (admin only)
	r.mux.HandleFunc("GET /api/diagnostics", r.requireAdmin(r.handleDiagnostics))

	// WebSocket event stream
	r.mux.HandleFunc("GET /ws", r.handleWebSocket)

	// Health check
	r.mux.HandleFunc("GET /health", r.handleHealth)

	return r
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// CORS headers for API
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if req.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	r.mux.ServeHTTP(w, req)
}

// StartWebSocketHub starts broadcasting merged events to WebSocket clients
func (r *Router) StartWebSocketHub() {
	go r.wsHub.Run()

	go func() {
		for event := range r.manager.Events() {
			r.wsHub.Broadcast(event)
		}
	}()
}
