package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/CDdanieldeng/excel-accelerator/pkg/config"
	"github.com/CDdanieldeng/excel-accelerator/pkg/dataset"
	"github.com/CDdanieldeng/excel-accelerator/pkg/export"
	"github.com/CDdanieldeng/excel-accelerator/pkg/session"
)

// Server represents the HTTP API server.
type Server struct {
	httpServer *http.Server
	router     *Router
	hub        *Hub
	config     config.ServerConfig

	// mu protects server state
	mu      sync.RWMutex
	running bool
}

// Services are the components the routes are served from. Uploader,
// Backends and Config are optional.
type Services struct {
	Engine   ChatEngine
	Sessions session.Store
	Registry *dataset.Registry
	// Datasets resolves dataset references; defaults to Registry.
	Datasets  dataset.Provider
	Uploader  Uploader
	Backends  BackendRegistry
	Config    *config.Config
	ExportDir string
	// Version is recorded in export manifests.
	Version string
	// Debug keeps the internal trace in chat responses.
	Debug bool
}

// NewServer creates a new API server with the given configuration.
func NewServer(cfg config.ServerConfig) *Server {
	// Apply defaults for zero values
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 8081
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 90 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}

	return &Server{
		router: NewRouter(),
		hub:    NewHub(),
		config: cfg,
	}
}

// Mount registers every route over svc and returns the broadcaster that
// feeds websocket listeners, for wiring into the orchestrator.
func (s *Server) Mount(svc Services) EventBroadcaster {
	events := NewHubEventBroadcaster(s.hub)

	NewChatHandler(svc.Engine, events, svc.Debug).RegisterRoutes(s.router)
	NewSessionsHandler(svc.Sessions, svc.ExportDir, exportOptions(svc)).RegisterRoutes(s.router)

	maxUpload := 0
	if svc.Config != nil {
		maxUpload = svc.Config.Datasets.MaxUploadMB
		NewConfigHandler(svc.Config).RegisterRoutes(s.router)
	}
	NewDatasetsHandler(svc.Registry, svc.Datasets, svc.Uploader, maxUpload).RegisterRoutes(s.router)

	sessions := func() int { return len(svc.Sessions.List(context.Background())) }
	NewHealthHandler(svc.Backends, sessions, s.hub.ClientCount).RegisterRoutes(s.router)

	s.router.GET("/ws", NewWebSocketHandler(s.hub).HandleFunc())
	return events
}

func exportOptions(svc Services) export.Options {
	opts := export.Options{ToolVersion: svc.Version}
	if svc.Config != nil {
		opts.Parameters = map[string]string{
			"llm.backend":  svc.Config.LLM.Backend,
			"llm.model":    svc.Config.LLM.Model,
			"codegen.mode": svc.Config.Codegen.Mode,
		}
	}
	return opts
}

// Address returns the server address in host:port format.
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// Router returns the underlying router for registering handlers.
func (s *Server) Router() *Router {
	return s.router
}

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the router wrapped in the configured middleware.
func (s *Server) Handler() http.Handler {
	middlewares := []Middleware{RecoveryMiddleware, RequestIDMiddleware}
	if s.config.EnableLogging {
		middlewares = append(middlewares, LoggingMiddleware)
	}
	if len(s.config.CORSOrigins) > 0 {
		middlewares = append(middlewares, CORSMiddleware(s.config.CORSOrigins))
		SetUpgraderCheckOrigin(makeOriginChecker(s.config.CORSOrigins))
	}
	return Chain(s.router, middlewares...)
}

// Start starts the hub and the HTTP server in goroutines.
// It returns immediately after starting. Use Shutdown() to stop.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server is already running")
	}

	s.httpServer = &http.Server{
		Addr:         s.Address(),
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	go s.hub.Run()
	s.running = true

	// Use error channel to detect binding failures
	errCh := make(chan error, 1)
	go func() {
		log.Printf("[api] Starting server on %s", s.Address())
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[api] Server error: %v", err)
			errCh <- err
		}
		close(errCh)
	}()

	// Wait briefly to catch immediate binding errors (e.g., port in use)
	select {
	case err := <-errCh:
		s.running = false
		s.hub.Stop()
		return fmt.Errorf("server failed to start: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Shutdown gracefully shuts down the server with a timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	log.Printf("[api] Shutting down server...")
	s.running = false
	s.hub.Stop()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// IsRunning returns true if the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// makeOriginChecker creates a function that validates WebSocket origins
// against the configured CORS origins list.
func makeOriginChecker(allowedOrigins []string) func(*http.Request) bool {
	allowed := make(map[string]bool)
	for _, origin := range allowedOrigins {
		if origin == "*" {
			return func(r *http.Request) bool { return true }
		}
		allowed[origin] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// No origin header (same-origin request) - allow
			return true
		}
		return allowed[origin]
	}
}
