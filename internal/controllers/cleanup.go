package controllers

import (
	"fmt"

	"github.com/amaumene/acerpal/internal/config"
	"github.com/amaumene/acerpal/internal/models"
	"github.com/amaumene/acerpal/internal/progress"
	"github.com/sirupsen/logrus"
)

// CleanupController moves old terminal jobs out of memory into the archive
type CleanupController struct {
	store     *progress.Store
	db        *models.Database
	retention int
	logger    *logrus.Logger
}

// NewCleanupController creates a new cleanup controller
func NewCleanupController(cfg *config.Config, store *progress.Store, db *models.Database, logger *logrus.Logger) *CleanupController {
	return &CleanupController{
		store:     store,
		db:        db,
		retention: cfg.JobRetention,
		logger:    logger,
	}
}

// Enabled reports whether a retention bound is configured
func (c *CleanupController) Enabled() bool {
	return c.retention > 0
}

// PruneTerminalJobs keeps the newest terminal jobs in memory and archives the rest.
// If archiving fails the jobs are put back so nothing is lost.
func (c *CleanupController) PruneTerminalJobs() (int, error) {
	if !c.Enabled() {
		return 0, nil
	}

	removed := c.store.Prune(c.retention)
	if len(removed) == 0 {
		return 0, nil
	}

	if err := c.db.ArchiveJobs(removed); err != nil {
		restore := make(map[string]models.Job, len(removed))
		for _, job := range removed {
			restore[job.ID] = job
		}
		c.store.Import(restore)
		return 0, fmt.Errorf("failed to archive pruned jobs: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"archived": len(removed),
		"kept":     c.retention,
	}).Info("Archived old jobs")
	return len(removed), nil
}

// ArchivedJobs returns archived jobs, newest first
func (c *CleanupController) ArchivedJobs(limit int) ([]models.Job, error) {
	jobs, err := c.db.GetArchivedJobs(limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}
	return jobs, nil
}

// ArchivedCount returns the number of archived jobs
func (c *CleanupController) ArchivedCount() (int, error) {
	return c.db.CountArchivedJobs()
}

// ArchivedJob looks up one archived job
func (c *CleanupController) ArchivedJob(id string) (models.Job, error) {
	job, err := c.db.GetArchivedJob(id)
	if err != nil {
		return models.Job{}, fmt.Errorf("failed to read archive: %w", err)
	}
	if job == nil {
		return models.Job{}, fmt.Errorf("%w: %s", progress.ErrJobNotFound, id)
	}
	return *job, nil
}

// ArchivedBatchJobs returns the archived jobs of one batch
func (c *CleanupController) ArchivedBatchJobs(batchID string) ([]models.Job, error) {
	jobs, err := c.db.GetArchivedJobsByBatch(batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}
	return jobs, nil
}
