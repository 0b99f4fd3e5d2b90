// Package server implements the teamboard HTTP server: the websocket sync
// endpoint, token auth, and the REST surface for non-socket tooling.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/GoCodeAlone/teamboard/access"
	"github.com/GoCodeAlone/teamboard/board"
	"github.com/GoCodeAlone/teamboard/config"
	"github.com/GoCodeAlone/teamboard/server/api"
	"github.com/GoCodeAlone/teamboard/task"
)

// Server is the teamboard HTTP server.
type Server struct {
	cfg     config.Config
	mux     *http.ServeMux
	httpSrv *http.Server
	logger  *slog.Logger

	engine   *board.Engine
	tasks    task.Store
	gate     access.Gate
	handlers *api.Handlers
	upgrader websocket.Upgrader

	routesOnce sync.Once

	// JWT secret caching
	secretOnce      sync.Once
	generatedSecret string

	startTime time.Time
	version   string
}

// New creates a new Server with the given config and logger.
func New(cfg config.Config, ver string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		mux:       http.NewServeMux(),
		logger:    logger,
		startTime: time.Now(),
		version:   ver,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// SetEngine attaches the sync engine serving websocket sessions.
func (s *Server) SetEngine(e *board.Engine) {
	s.engine = e
}

// SetTaskStore attaches the task store read by the REST handlers.
func (s *Server) SetTaskStore(store task.Store) {
	s.tasks = store
}

// SetGate attaches the access gate guarding project routes.
func (s *Server) SetGate(g access.Gate) {
	s.gate = g
}

// Handler returns the root handler with every route registered.
func (s *Server) Handler() http.Handler {
	s.routesOnce.Do(s.registerRoutes)
	return s.mux
}

// Start registers routes and begins listening.
func (s *Server) Start() error {
	addr := s.cfg.Server.Addr
	if addr == "" {
		addr = ":9090"
	}
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
	}
	s.logger.Info("server listening", slog.String("addr", addr))
	return s.httpSrv.ListenAndServe()
}

// Stop gracefully shuts down the HTTP server. Hijacked websocket
// connections are not tracked by Shutdown; they end when their read loop
// sees the listener's connections close or the process exits.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	var broadcaster api.Broadcaster
	if s.engine != nil {
		broadcaster = s.engine
	}
	h := &api.Handlers{
		Tasks:       s.tasks,
		Gate:        s.gate,
		Broadcaster: broadcaster,
		Tokens:      s,
		Admin:       s.cfg.Auth.AdminUser,
		Logger:      s.logger,
		Version:     s.version,
		StartAt:     s.startTime.Unix(),
	}
	s.handlers = h

	// Public routes (no auth required)
	s.mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	s.mux.HandleFunc("GET /api/status", h.StatusHandler())

	// Websocket: auth handled inline so a bad token fails before the upgrade.
	s.mux.HandleFunc("GET /ws", s.handleWS)

	// Protected API, wrapped in auth middleware
	apiMux := http.NewServeMux()
	h.RegisterRoutes(apiMux)
	apiMux.HandleFunc("GET /api/auth/me", s.handleMe)

	s.mux.Handle("/api/", s.authMiddleware(apiMux))
}

// checkOrigin accepts requests without an Origin header (CLI agents) and
// browser origins on the allow list. An empty list falls back to the
// same-origin rule; "*" allows any origin.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	allowed := s.cfg.Server.AllowedOrigins
	if len(allowed) == 0 {
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	}
	return slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a JSON error response.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
