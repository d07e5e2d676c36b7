package api

import (
	"context"
	"log"
	"net/http"
	"time"
)

// Server is the control-plane HTTP server.
type Server struct {
	httpServer *http.Server
	handlers   *Handlers
}

// NewServer creates the control-plane server and wires up all routes.
func NewServer(addr string, h *Handlers) *Server {
	mux := http.NewServeMux()

	// Authentication (no token required).
	mux.HandleFunc("POST /auth/register", h.handleRegister)
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("POST /auth/refresh", h.handleRefresh)

	// Account endpoints (token required).
	mux.Handle("GET /auth/me", applyMiddleware(
		http.HandlerFunc(h.handleMe), h.RequireAuth))
	mux.Handle("POST /auth/mfa/setup", applyMiddleware(
		http.HandlerFunc(h.handleMFASetup), h.RequireAuth))
	mux.Handle("POST /auth/mfa/enable", applyMiddleware(
		http.HandlerFunc(h.handleMFAEnable), h.RequireAuth))

	// Asset management. Writes demand a live second factor on top of the
	// elevated capability.
	mux.Handle("POST /assets", applyMiddleware(
		http.HandlerFunc(h.handleCreateAsset), h.RequireAuth, h.RequireAdminMFA))
	mux.Handle("GET /assets", applyMiddleware(
		http.HandlerFunc(h.handleListAssets), h.RequireAuth))
	mux.Handle("POST /assets/{id}/credential", applyMiddleware(
		http.HandlerFunc(h.handleCreateCredential), h.RequireAuth, h.RequireAdminMFA))

	mux.Handle("GET /roles", applyMiddleware(
		http.HandlerFunc(h.handleListRoles), h.RequireAuth))
	mux.Handle("POST /roles", applyMiddleware(
		http.HandlerFunc(h.handleCreateRole), h.RequireAuth, h.RequireAdmin))
	mux.Handle("POST /roles/assign", applyMiddleware(
		http.HandlerFunc(h.handleAssignRole), h.RequireAuth, h.RequireAdmin))
	mux.Handle("GET /audit", applyMiddleware(
		http.HandlerFunc(h.handleListAudit), h.RequireAuth, h.RequireAdmin))

	// JIT request lifecycle. Approve carries its own second-factor check
	// inside the engine, bound to the approve action itself.
	mux.Handle("POST /jit-requests", applyMiddleware(
		http.HandlerFunc(h.handleCreateJitRequest), h.RequireAuth))
	mux.Handle("GET /jit-requests", applyMiddleware(
		http.HandlerFunc(h.handleListJitRequests), h.RequireAuth))
	mux.Handle("POST /jit-requests/{id}/approve", applyMiddleware(
		http.HandlerFunc(h.handleApproveJitRequest), h.RequireAuth))
	mux.Handle("POST /jit-requests/{id}/deny", applyMiddleware(
		http.HandlerFunc(h.handleDenyJitRequest), h.RequireAuth))

	// Sessions. The end callback authenticates with the machine credential,
	// not a user token.
	mux.Handle("POST /sessions/start", applyMiddleware(
		http.HandlerFunc(h.handleStartSession), h.RequireAuth))
	mux.Handle("GET /sessions", applyMiddleware(
		http.HandlerFunc(h.handleListSessions), h.RequireAuth))
	mux.Handle("GET /sessions/{id}/recording", applyMiddleware(
		http.HandlerFunc(h.handleSessionRecording), h.RequireAuth))
	mux.Handle("GET /sessions/{id}/commands", applyMiddleware(
		http.HandlerFunc(h.handleSessionCommands), h.RequireAuth))
	mux.HandleFunc("POST /sessions/{id}/end", h.handleEndSession)

	mux.HandleFunc("GET /ws/updates", h.handleUpdates)
	mux.HandleFunc("GET /health", handleHealth)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{httpServer: httpServer, handlers: h}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	log.Printf("Starting control-plane API on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the server's root handler (for testing).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
