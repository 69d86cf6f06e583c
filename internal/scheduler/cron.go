package scheduler

import (
	"fmt"

	"github.com/amaumene/acerpal/internal/controllers"
	"github.com/amaumene/acerpal/internal/persistence"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// PruneSchedule is how often old terminal jobs are archived when retention is enabled
const PruneSchedule = "@every 5m"

// Scheduler manages scheduled tasks
type Scheduler struct {
	cron             *cron.Cron
	snapshotter      *persistence.Snapshotter
	cleanupCtrl      *controllers.CleanupController
	snapshotSchedule string
	logger           *logrus.Logger
}

// NewScheduler creates a new scheduler
func NewScheduler(
	snapshotter *persistence.Snapshotter,
	cleanupCtrl *controllers.CleanupController,
	snapshotSchedule string,
	logger *logrus.Logger,
) *Scheduler {
	return &Scheduler{
		cron:             cron.New(),
		snapshotter:      snapshotter,
		cleanupCtrl:      cleanupCtrl,
		snapshotSchedule: snapshotSchedule,
		logger:           logger,
	}
}

// Start registers the enabled jobs and starts the scheduler
func (s *Scheduler) Start() error {
	s.logger.Info("Starting scheduler")

	// Autosave: best-effort snapshot of jobs, queue and search history
	if s.snapshotSchedule != "" {
		if _, err := s.cron.AddFunc(s.snapshotSchedule, s.runSnapshot); err != nil {
			return fmt.Errorf("failed to add snapshot job: %w", err)
		}
	} else {
		s.logger.Info("Snapshot autosave disabled")
	}

	// Retention: archive old terminal jobs
	if s.cleanupCtrl != nil && s.cleanupCtrl.Enabled() {
		if _, err := s.cron.AddFunc(PruneSchedule, s.runPrune); err != nil {
			return fmt.Errorf("failed to add prune job: %w", err)
		}
	}

	s.cron.Start()
	s.logger.WithField("jobs", len(s.cron.Entries())).Info("Scheduler started")
	return nil
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler")
	<-s.cron.Stop().Done()
}

// Entries returns the number of registered jobs
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// runSnapshot executes the autosave job
func (s *Scheduler) runSnapshot() {
	written, err := s.snapshotter.Save()
	if err != nil {
		s.logger.WithError(err).Error("Snapshot job failed")
		return
	}
	s.logger.WithField("written", written).Debug("Snapshot job completed")
}

// runPrune executes the retention job
func (s *Scheduler) runPrune() {
	archived, err := s.cleanupCtrl.PruneTerminalJobs()
	if err != nil {
		s.logger.WithError(err).Error("Prune job failed")
		return
	}
	if archived > 0 {
		s.logger.WithField("archived", archived).Info("Prune job completed successfully")
	}
}
