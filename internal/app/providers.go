package app

import (
	"context"
	"fmt"
	"time"

	"github.com/amaumene/acerpal/internal/config"
	"github.com/amaumene/acerpal/internal/controllers"
	"github.com/amaumene/acerpal/internal/downloader"
	"github.com/amaumene/acerpal/internal/history"
	"github.com/amaumene/acerpal/internal/metrics"
	"github.com/amaumene/acerpal/internal/models"
	"github.com/amaumene/acerpal/internal/persistence"
	"github.com/amaumene/acerpal/internal/progress"
	"github.com/amaumene/acerpal/internal/queue"
	"github.com/amaumene/acerpal/internal/scheduler"
	"github.com/amaumene/acerpal/internal/services/fetch"
	"github.com/amaumene/acerpal/internal/tracing"
	"github.com/amaumene/acerpal/internal/utils"
	"github.com/sirupsen/logrus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ProvideTracerProvider builds the process tracer provider and flushes it on cleanup
func ProvideTracerProvider(logger *logrus.Logger) (*sdktrace.TracerProvider, func()) {
	tp := tracing.NewProvider(logger)
	return tp, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.WithError(err).Warn("Failed to shut down tracer provider")
		}
	}
}

// ProvideDatabase opens the job archive
func ProvideDatabase(cfg *config.Config, logger *logrus.Logger) (*models.Database, func(), error) {
	db, err := models.NewDatabase(cfg.HistoryDB)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	logger.WithField("path", cfg.HistoryDB).Info("Database initialized")
	return db, func() {
		if err := db.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close database")
		}
	}, nil
}

// ProvideBlacklist loads the search blacklist; a broken file is logged, not fatal
func ProvideBlacklist(cfg *config.Config, logger *logrus.Logger) *utils.Blacklist {
	blacklist, err := utils.LoadBlacklist(cfg.BlacklistFile)
	if err != nil {
		logger.WithError(err).Warn("Failed to load blacklist, continuing without it")
		return utils.NewBlacklist()
	}
	logger.WithField("terms", blacklist.Len()).Info("Blacklist loaded")
	return blacklist
}

// ProvideFetchClient builds the shared upstream HTTP client
func ProvideFetchClient(cfg *config.Config, tp *sdktrace.TracerProvider, logger *logrus.Logger) *fetch.Client {
	return fetch.NewClient(cfg.FetchTimeout, tp, logger)
}

// ProvideSearchHistory builds the recent-search list
func ProvideSearchHistory() *history.SearchHistory {
	return history.NewSearchHistory(history.DefaultLimit)
}

// ProvideDownloader builds the queue's worker
func ProvideDownloader(cfg *config.Config, store *progress.Store, m *metrics.Metrics, tp *sdktrace.TracerProvider, logger *logrus.Logger) *downloader.Downloader {
	return downloader.NewDownloader(cfg, store, m, tp, logger)
}

// ProvideQueue builds the admission queue sized by MAX_CONCURRENT_DOWNLOADS
func ProvideQueue(cfg *config.Config, store *progress.Store, runner queue.Runner, m *metrics.Metrics, logger *logrus.Logger) *queue.Queue {
	return queue.NewQueue(cfg.MaxConcurrentDownloads, store, runner, m, logger)
}

// ProvideScheduler builds the cron scheduler for autosave and retention
func ProvideScheduler(cfg *config.Config, snapshotter *persistence.Snapshotter, cleanupCtrl *controllers.CleanupController, logger *logrus.Logger) *scheduler.Scheduler {
	return scheduler.NewScheduler(snapshotter, cleanupCtrl, cfg.SnapshotSchedule, logger)
}
