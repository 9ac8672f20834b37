package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"workswitch/internal/core"
	"workswitch/internal/notify"
	"workswitch/internal/profiles"
	"workswitch/internal/store"
)

// ProcessProbe is the process query surface exposed over HTTP.
type ProcessProbe interface {
	IsRunning(ctx context.Context, name string) bool
	RunningAmong(ctx context.Context, names []string) []string
	Kill(ctx context.Context, name string) error
}

// Options carries the server's collaborators.
type Options struct {
	Addr         string
	AuthToken    string
	Profiles     *profiles.FileSource
	Orchestrator *core.Orchestrator
	History      *store.Store
	Probe        ProcessProbe
	Hub          *notify.Hub
	MCP          http.Handler // mounted at /mcp when set
	Logger       *slog.Logger
	Location     *time.Location
}

// Server holds the HTTP server state.
type Server struct {
	httpServer   *http.Server
	router       *chi.Mux
	profiles     *profiles.FileSource
	orchestrator *core.Orchestrator
	history      *store.Store
	probe        ProcessProbe
	hub          *notify.Hub
	mcp          http.Handler
	logger       *slog.Logger
	location     *time.Location
	authToken    string
	heartbeat    time.Duration

	// closing is closed when Shutdown begins so long-lived streams return.
	closing   chan struct{}
	closeOnce sync.Once
}

// NewServer constructs the HTTP API server.
func NewServer(opts Options) (*Server, error) {
	switch {
	case opts.Profiles == nil:
		return nil, errors.New("api: profiles source is required")
	case opts.Orchestrator == nil:
		return nil, errors.New("api: orchestrator is required")
	case opts.History == nil:
		return nil, errors.New("api: history store is required")
	case opts.Probe == nil:
		return nil, errors.New("api: process probe is required")
	case opts.Hub == nil:
		return nil, errors.New("api: event hub is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:       router,
		profiles:     opts.Profiles,
		orchestrator: opts.Orchestrator,
		history:      opts.History,
		probe:        opts.Probe,
		hub:          opts.Hub,
		mcp:          opts.MCP,
		logger:       opts.Logger,
		location:     opts.Location,
		authToken:    opts.AuthToken,
		heartbeat:    15 * time.Second,
		closing:      make(chan struct{}),
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         opts.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // event streams are long-lived
		IdleTimeout:  60 * time.Second,
	}
	s.httpServer.RegisterOnShutdown(func() {
		s.closeOnce.Do(func() { close(s.closing) })
	})
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if s.mcp != nil {
		var mcpHandler http.Handler = s.mcp
		if s.authToken != "" {
			mcpHandler = AuthMiddleware(s.authToken)(mcpHandler)
		}
		s.router.Handle("/mcp", mcpHandler)
	}

	s.router.Route("/v1", func(r chi.Router) {
		if s.authToken != "" {
			r.Use(AuthMiddleware(s.authToken))
		}

		r.Post("/schedule/preview", s.handleSchedulePreview)
		r.Get("/events", s.handleEvents)

		r.Route("/profiles", func(r chi.Router) {
			r.Get("/", s.handleListProfiles)
			r.Post("/import", s.handleImportProfile)
			r.Route("/{profileID}", func(r chi.Router) {
				r.Get("/", s.handleGetProfile)
				r.Get("/export", s.handleExportProfile)
				r.Post("/activate", s.handleActivateProfile)
			})
		})

		r.Get("/activation", s.handleActivationStatus)
		r.Post("/activation/cancel", s.handleCancelActivation)

		r.Route("/activations", func(r chi.Router) {
			r.Get("/", s.handleListActivations)
			r.Get("/{activationID}", s.handleGetActivation)
		})

		r.Route("/processes", func(r chi.Router) {
			r.Get("/", s.handleRunningProcesses)
			r.Get("/{name}", s.handleProcessStatus)
			r.Post("/{name}/kill", s.handleKillProcess)
		})
	})
}
