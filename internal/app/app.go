package app

import (
	"context"
	"fmt"
	"os"

	"github.com/amaumene/acerpal/internal/api"
	"github.com/amaumene/acerpal/internal/config"
	"github.com/amaumene/acerpal/internal/controllers"
	"github.com/amaumene/acerpal/internal/persistence"
	"github.com/amaumene/acerpal/internal/queue"
	"github.com/amaumene/acerpal/internal/scheduler"
	"github.com/sirupsen/logrus"
)

// App holds every long-lived component of one server process
type App struct {
	Config       *config.Config
	Logger       *logrus.Logger
	Queue        *queue.Queue
	Snapshotter  *persistence.Snapshotter
	Scheduler    *scheduler.Scheduler
	DownloadCtrl *controllers.DownloadController
	Server       *api.Server
}

// Restore loads the last snapshot and relaunches the jobs it held
func (a *App) Restore() {
	if a.Snapshotter.Load() {
		stats := a.Queue.Stats()
		a.Logger.WithFields(logrus.Fields{
			"active":  stats.Active,
			"pending": stats.Pending,
		}).Info("Resuming downloads from snapshot")
	}
	a.Queue.Resume()
}

// Run restores state, starts the scheduler and serves HTTP until ctx is cancelled.
// A final snapshot is written on the way out.
func (a *App) Run(ctx context.Context) error {
	a.ensureDirs()
	a.Restore()

	if err := a.Scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer a.Scheduler.Stop()
	defer a.saveOnExit()

	return a.Server.Start(ctx)
}

// ensureDirs creates the download directories. Failures are logged only;
// each download retries the mkdir itself.
func (a *App) ensureDirs() {
	for _, dir := range []string{a.Config.DownloadDir, a.Config.CompletedDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			a.Logger.WithError(err).WithField("dir", dir).Error("Failed to create download directory")
		}
	}
}

func (a *App) saveOnExit() {
	written, err := a.Snapshotter.Save()
	if err != nil {
		a.Logger.WithError(err).Error("Failed to save snapshot on shutdown")
		return
	}
	a.Logger.WithFields(logrus.Fields{
		"path":    a.Snapshotter.Path(),
		"written": written,
	}).Info("Snapshot saved on shutdown")
}
