package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kozaktomas/consent-audit/internal/config"
	"github.com/kozaktomas/consent-audit/internal/web/handlers"
	"github.com/kozaktomas/consent-audit/internal/web/middleware"
)

// Server represents the web server
type Server struct {
	config     *config.Config
	router     *chi.Mux
	httpServer *http.Server
	logger     *zap.Logger

	processing   *handlers.ProcessingHandler
	watchFolders *handlers.WatchFoldersHandler
}

// Deps are the services the API delegates to.
type Deps struct {
	Processing       handlers.Processing
	Watcher          handlers.FolderWatcher
	TaskPollInterval time.Duration
}

// NewServer creates a new web server
func NewServer(cfg *config.Config, deps Deps, logger *zap.Logger) *Server {
	r := chi.NewRouter()

	s := &Server{
		config:       cfg,
		router:       r,
		logger:       logger.Named("web"),
		processing:   handlers.NewProcessingHandler(deps.Processing, logger, deps.TaskPollInterval),
		watchFolders: handlers.NewWatchFoldersHandler(deps.Watcher, watchOptions(cfg), logger),
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.Web.AllowedOrigins))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port),
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
		// no WriteTimeout: task event streams stay open until the run finishes
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting web server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down web server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
