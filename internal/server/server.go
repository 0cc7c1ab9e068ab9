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

	"github.com/jackzampolin/pagecam/internal/api"
	"github.com/jackzampolin/pagecam/internal/config"
	"github.com/jackzampolin/pagecam/internal/export"
	"github.com/jackzampolin/pagecam/internal/frame"
	"github.com/jackzampolin/pagecam/internal/home"
	"github.com/jackzampolin/pagecam/internal/notify"
	"github.com/jackzampolin/pagecam/internal/server/endpoints"
	"github.com/jackzampolin/pagecam/internal/session"
	"github.com/jackzampolin/pagecam/internal/svcctx"
)

// Server is the pagecam HTTP server. It owns the session manager and
// shuts every session down when it stops.
type Server struct {
	httpServer *http.Server
	sessions   *session.Manager
	notifier   notify.Notifier
	configMgr  *config.Manager
	logger     *slog.Logger

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
	// Home is the pagecam home directory holding sessions
	Home *home.Dir
	// ConfigManager provides configuration with hot-reload support
	ConfigManager *config.Manager
	// Sessions overrides the session manager built from configuration
	Sessions *session.Manager
	// Open overrides how video sources are opened (tests)
	Open frame.Opener
	// DeviceGlob overrides camera enumeration (tests)
	DeviceGlob string
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
		h, err := home.New("")
		if err != nil {
			return nil, err
		}
		cfg.Home = h
	}

	s := &Server{
		configMgr: cfg.ConfigManager,
		logger:    cfg.Logger,
		notifier:  notify.Nop{},
	}

	s.sessions = cfg.Sessions
	if s.sessions == nil {
		mgr, err := s.newSessionManager(cfg)
		if err != nil {
			return nil, err
		}
		s.sessions = mgr
	}

	s.services = &svcctx.Services{
		Sessions:  s.sessions,
		ConfigMgr: cfg.ConfigManager,
		Logger:    cfg.Logger,
		Home:      cfg.Home,
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All(endpoints.Config{DeviceGlob: cfg.DeviceGlob}) {
		s.endpointRegistry.Register(ep)
	}

	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:        net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:     s.logRequests(s.withServices(mux)),
		ReadTimeout: 30 * time.Second,
		// Waiting finalize requests can run long.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// newSessionManager wires settings, notifier and exporter from config.
func (s *Server) newSessionManager(cfg Config) (*session.Manager, error) {
	settings := session.DefaultSettings()
	var exporter session.Exporter

	if cfg.ConfigManager != nil {
		c := cfg.ConfigManager.Get()
		settings = c.SessionSettings()
		s.notifier, exporter = Collaborators(c, s.logger)
	}

	mgr, err := session.NewManager(session.ManagerConfig{
		Home:     cfg.Home,
		Settings: settings,
		Open:     cfg.Open,
		Notifier: s.notifier,
		Exporter: exporter,
		Logger:   s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	if cfg.ConfigManager != nil {
		cfg.ConfigManager.OnChange(func(c *config.Config) {
			mgr.SetSettings(c.SessionSettings())
			s.logger.Info("session defaults reloaded from config")
		})
	}
	return mgr, nil
}

// Collaborators connects the notifier and exporter enabled in c. Either
// one that fails to connect is logged and left out; the notifier falls
// back to notify.Nop and the exporter to nil.
func Collaborators(c *config.Config, logger *slog.Logger) (notify.Notifier, session.Exporter) {
	var notifier notify.Notifier = notify.Nop{}
	var exporter session.Exporter

	if c.Notify.MQTT.Enabled {
		n, err := notify.NewMQTT(c.MQTTConfig(logger))
		if err != nil {
			logger.Warn("mqtt notifier disabled", "error", err)
		} else {
			notifier = n
		}
	}

	if c.Export.Minio.Enabled {
		m, err := newExporter(c.MinioConfig(logger))
		if err != nil {
			logger.Warn("minio export disabled", "error", err)
		} else {
			exporter = m
		}
	}
	return notifier, exporter
}

func newExporter(cfg export.MinioConfig) (*export.Minio, error) {
	m, err := export.NewMinio(cfg)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Start serves HTTP until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

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

// shutdown stops the HTTP server, then every session, then the notifier.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	s.sessions.Shutdown()
	s.notifier.Close()

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

// Sessions returns the session manager.
func (s *Server) Sessions() *session.Manager {
	return s.sessions
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
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

// requireInit is middleware that ensures the session manager exists.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.sessions == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
