package api

import (
	"context"
	"fmt"
	"time"

	"github.com/amaumene/acerpal/internal/api/handlers"
	"github.com/amaumene/acerpal/internal/api/middleware"
	"github.com/amaumene/acerpal/internal/config"
	"github.com/amaumene/acerpal/internal/controllers"
	"github.com/amaumene/acerpal/internal/metrics"
	"github.com/amaumene/acerpal/internal/persistence"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"
)

// Server represents the HTTP server
type Server struct {
	app          *fiber.App
	addr         string
	downloadCtrl *controllers.DownloadController
	searchCtrl   *controllers.SearchController
	fileCtrl     *controllers.FileController
	cleanupCtrl  *controllers.CleanupController
	snapshotter  *persistence.Snapshotter
	metrics      *metrics.Metrics
	logger       *logrus.Logger
}

// NewServer creates a new HTTP server
func NewServer(
	cfg *config.Config,
	downloadCtrl *controllers.DownloadController,
	searchCtrl *controllers.SearchController,
	fileCtrl *controllers.FileController,
	cleanupCtrl *controllers.CleanupController,
	snapshotter *persistence.Snapshotter,
	m *metrics.Metrics,
	logger *logrus.Logger,
) *Server {
	s := &Server{
		addr:         ":" + cfg.ServerPort,
		downloadCtrl: downloadCtrl,
		searchCtrl:   searchCtrl,
		fileCtrl:     fileCtrl,
		cleanupCtrl:  cleanupCtrl,
		snapshotter:  snapshotter,
		metrics:      m,
		logger:       logger,
	}

	// No write timeout: file downloads can stream for a long time
	s.app = fiber.New(fiber.Config{
		AppName:               "acerpal",
		DisableStartupMessage: true,
		ReadTimeout:           15 * time.Second,
		IdleTimeout:           60 * time.Second,
	})
	s.setupRoutes(cfg)

	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(cfg *config.Config) {
	s.app.Use(recover.New())
	s.app.Use(middleware.Logging(s.logger))

	// Health check, always reachable
	healthHandler := handlers.NewHealthHandler(s.logger)
	s.app.Get("/health", healthHandler.Handle)

	s.app.Use(middleware.BasicAuth(cfg.AuthUsername, cfg.AuthPassword, s.logger))

	// Status and metrics
	statusHandler := handlers.NewStatusHandler(s.downloadCtrl, s.cleanupCtrl, s.logger)
	s.app.Get("/status", statusHandler.Handle)
	if s.metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))
	}

	api := s.app.Group("/api")

	// Catalog
	searchHandler := handlers.NewSearchHandler(s.searchCtrl, s.logger)
	api.Get("/search", searchHandler.Search)
	api.Get("/search/history", searchHandler.History)
	api.Post("/qualities", searchHandler.Qualities)
	api.Post("/episodes", searchHandler.Episodes)

	// Jobs
	downloadHandler := handlers.NewDownloadHandler(s.downloadCtrl, s.cleanupCtrl, s.logger)
	api.Post("/downloads", downloadHandler.Start)
	api.Post("/downloads/batch", downloadHandler.StartBatch)
	api.Get("/downloads", downloadHandler.List)
	api.Get("/downloads/:id", downloadHandler.Get)
	api.Get("/batches", downloadHandler.ListBatches)
	api.Get("/batches/:id", downloadHandler.GetBatch)
	api.Get("/history", downloadHandler.History)

	// Files
	fileHandler := handlers.NewFileHandler(s.fileCtrl, s.logger)
	api.Get("/files", fileHandler.List)
	api.Get("/files/download", fileHandler.Download)
	api.Delete("/files", fileHandler.Delete)

	// Persistence
	snapshotHandler := handlers.NewSnapshotHandler(s.snapshotter, s.logger)
	api.Post("/snapshot", snapshotHandler.Save)
}

// App exposes the fiber application, mainly for tests
func (s *Server) App() *fiber.App {
	return s.app
}

// Start starts the HTTP server and blocks until ctx is cancelled or the listener fails
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithField("port", s.addr).Info("Starting HTTP server")

	errChan := make(chan error, 1)
	go func() {
		if err := s.app.Listen(s.addr); err != nil {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.app.ShutdownWithContext(shutdownCtx)
}
