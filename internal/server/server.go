package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jackzampolin/scribe/internal/api"
	"github.com/jackzampolin/scribe/internal/audio"
	"github.com/jackzampolin/scribe/internal/config"
	"github.com/jackzampolin/scribe/internal/defra"
	"github.com/jackzampolin/scribe/internal/home"
	"github.com/jackzampolin/scribe/internal/jobs"
	"github.com/jackzampolin/scribe/internal/pipeline"
	"github.com/jackzampolin/scribe/internal/project"
	"github.com/jackzampolin/scribe/internal/providers"
	"github.com/jackzampolin/scribe/internal/schema"
	"github.com/jackzampolin/scribe/internal/server/endpoints"
	"github.com/jackzampolin/scribe/internal/store"
	"github.com/jackzampolin/scribe/internal/svcctx"
)

// Server is the scribe HTTP server.
// It manages the DefraDB container lifecycle - starting it on server start
// and stopping it on server shutdown.
type Server struct {
	httpServer   *http.Server
	defraManager *defra.DockerManager
	defraClient  *defra.Client
	walks        *jobs.Manager
	orchestrator *pipeline.Orchestrator
	registry     *providers.Registry
	configMgr    *config.Manager
	home         *home.Dir
	logger       *slog.Logger

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8080)
	Port string
	// Home is the scribe home directory (projects, exports, DefraDB data)
	Home *home.Dir
	// ConfigManager provides configuration with hot-reload support
	ConfigManager *config.Manager
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Home == nil {
		return nil, errors.New("home directory is required")
	}
	if cfg.ConfigManager == nil {
		return nil, errors.New("config manager is required")
	}
	// The container is fixed for the server's lifetime; defra changes
	// in a reloaded config apply on the next start.
	defraManager, err := defra.NewDockerManager(defra.FromConfig(cfg.ConfigManager.Get().Defra, cfg.Home.DefraDataPath()))
	if err != nil {
		return nil, fmt.Errorf("failed to create defra manager: %w", err)
	}

	registry := providers.NewRegistry(cfg.Logger)
	loadProviders(registry, cfg.ConfigManager.Get(), cfg.Logger)
	cfg.ConfigManager.OnChange(func(c *config.Config) {
		loadProviders(registry, c, cfg.Logger)
		cfg.Logger.Info("provider registry reloaded from config")
	})

	s := &Server{
		defraManager: defraManager,
		registry:     registry,
		configMgr:    cfg.ConfigManager,
		home:         cfg.Home,
		logger:       cfg.Logger,
	}

	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All(endpoints.Config{DefraManager: defraManager}) {
		s.endpointRegistry.Register(ep)
	}

	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	// Uploads and exports move whole projects, so there is no write timeout.
	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:           s.withServices(mux),
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s, nil
}

// Start starts the server and DefraDB.
// It blocks until the context is cancelled or an error occurs.
// An existing DefraDB container must match the configured port and data path.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("starting DefraDB", "url", s.defraManager.URL())
	if err := s.defraManager.Ensure(ctx); err != nil {
		s.setNotRunning()
		return fmt.Errorf("failed to start DefraDB: %w", err)
	}
	s.defraClient = defra.NewClient(s.defraManager.URL())
	s.logger.Info("DefraDB is ready", "url", s.defraManager.URL())

	s.logger.Info("initializing schemas")
	if err := schema.Initialize(ctx, s.defraClient, s.logger); err != nil {
		_ = s.shutdown()
		return fmt.Errorf("schema initialization failed: %w", err)
	}

	if err := s.initServices(ctx); err != nil {
		_ = s.shutdown()
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// initServices builds the services that need a live DefraDB.
func (s *Server) initServices(ctx context.Context) error {
	cfg := s.configMgr.Get()

	s.walks = jobs.NewManager(s.defraClient, s.logger)
	if _, err := s.walks.MarkInterrupted(ctx); err != nil {
		return fmt.Errorf("failed to mark stale walks: %w", err)
	}

	var normalizer audio.Normalizer = audio.Passthrough{}
	if cfg.Audio.Normalize {
		ff := audio.NewFFmpegNormalizer(cfg.Audio.FFmpegPath, s.logger)
		if err := ff.Available(); err != nil {
			s.logger.Warn("ffmpeg not available, audio is passed through unchanged", "error", err)
		} else {
			normalizer = ff
		}
	}

	stores := store.NewDefraOpener(s.defraClient, cfg.Storage.ProjectQuotaBytes, s.logger)
	projects := project.NewService(project.ServiceConfig{
		Repository: project.NewDefraRepository(s.defraClient, s.logger),
		Home:       s.home,
		QuotaBytes: cfg.Storage.ProjectQuotaBytes,
		Logger:     s.logger,
	})

	s.orchestrator = pipeline.New(pipeline.Config{
		Stores:          stores,
		Clients:         s.registry,
		Recorder:        s.walks,
		Normalizer:      normalizer,
		Home:            s.home,
		PollInterval:    cfg.Remote.PollInterval,
		MaxPollAttempts: uint(cfg.Remote.MaxPollAttempts),
		Logger:          s.logger,
	})

	s.services = &svcctx.Services{
		DefraClient:  s.defraClient,
		Walks:        s.walks,
		Registry:     s.registry,
		Projects:     projects,
		Stores:       stores,
		Orchestrator: s.orchestrator,
		Config:       s.configMgr,
		Logger:       s.logger,
		Home:         s.home,
	}
	return nil
}

// shutdown stops the HTTP server, running walks and DefraDB, in that order.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if s.orchestrator != nil {
		s.logger.Info("stopping walks")
		s.orchestrator.Close()
	}

	s.logger.Info("stopping DefraDB")
	if err := s.defraManager.Stop(shutdownCtx); err != nil {
		s.logger.Error("DefraDB stop error", "error", err)
	}

	if err := s.defraManager.Close(); err != nil {
		s.logger.Error("DefraDB manager close error", "error", err)
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// DefraClient returns the DefraDB client.
// Returns nil if the server hasn't started yet.
func (s *Server) DefraClient() *defra.Client {
	return s.defraClient
}

// Orchestrator returns the walk orchestrator.
// Returns nil if the server hasn't started yet.
func (s *Server) Orchestrator() *pipeline.Orchestrator {
	return s.orchestrator
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Registry returns the provider registry.
func (s *Server) Registry() *providers.Registry {
	return s.registry
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if s.services != nil {
			ctx = svcctx.WithServices(ctx, s.services)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the server is fully initialized.
// Returns 503 Service Unavailable until DefraDB and the services are ready.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.services == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
