package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/amaumene/acerpal/internal/config"
	"github.com/amaumene/acerpal/internal/models"
	"github.com/amaumene/acerpal/internal/progress"
	"github.com/amaumene/acerpal/internal/queue"
	"github.com/amaumene/acerpal/internal/services/acer"
	"github.com/amaumene/acerpal/internal/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrMissingSource is returned when a download request has no source URL
	ErrMissingSource = errors.New("no source URL provided")
	// ErrInvalidBatch is returned for batch payloads that are not a non-empty list
	ErrInvalidBatch = errors.New("invalid episodes data")
)

const defaultShowTitle = "Unknown_Show"

// DownloadRequest asks for one catalog source to be downloaded
type DownloadRequest struct {
	SourceURL    string `json:"source_url"`
	SeriesType   string `json:"series_type"`
	Filename     string `json:"filename"`
	ShowTitle    string `json:"show_title"`
	EpisodeTitle string `json:"episode_title"`
	Quality      string `json:"quality"`
}

// BatchItem is one episode of a batch submission
type BatchItem struct {
	Title string `json:"title"`
	Link  string `json:"link"`
}

// DownloadController turns catalog sources into queued download jobs
type DownloadController struct {
	store        *progress.Store
	queue        *queue.Queue
	catalog      *acer.Client
	workingDir   string
	completedDir string
	batchDelay   time.Duration
	newID        func() string

	batchMu sync.Mutex
	batches map[string]*models.Batch
	running sync.WaitGroup

	logger *logrus.Logger
}

// NewDownloadController creates a new download controller
func NewDownloadController(cfg *config.Config, store *progress.Store, q *queue.Queue, catalog *acer.Client, logger *logrus.Logger) *DownloadController {
	return &DownloadController{
		store:        store,
		queue:        q,
		catalog:      catalog,
		workingDir:   cfg.DownloadDir,
		completedDir: cfg.CompletedDir,
		batchDelay:   cfg.BatchSubmitDelay,
		newID:        uuid.NewString,
		batches:      make(map[string]*models.Batch),
		logger:       logger,
	}
}

// StartDownload resolves the direct URL for a catalog source and enqueues it
func (c *DownloadController) StartDownload(ctx context.Context, req DownloadRequest) (models.Job, error) {
	if strings.TrimSpace(req.SourceURL) == "" {
		return models.Job{}, ErrMissingSource
	}

	directURL, err := c.catalog.SourceURL(ctx, req.SourceURL, req.SeriesType)
	if err != nil {
		return models.Job{}, fmt.Errorf("failed to resolve download URL: %w", err)
	}

	var filename string
	if req.ShowTitle != "" && req.EpisodeTitle != "" {
		filename = utils.EpisodeFilename(req.ShowTitle, req.EpisodeTitle, req.Quality, remoteName(directURL))
	} else {
		filename = utils.SanitizeFilename(req.Filename)
	}

	return c.Enqueue(directURL, filename, "")
}

// Enqueue creates a job for a direct URL and hands it to the admission queue
func (c *DownloadController) Enqueue(directURL, filename, batchID string) (models.Job, error) {
	filename = utils.UniqueFilename(utils.SanitizeFilename(filename), c.workingDir, c.completedDir)

	job := models.Job{
		ID:        c.newID(),
		Status:    models.JobStatusStarting,
		Filename:  filename,
		SourceURL: directURL,
		Location:  models.LocationWorking,
		BatchID:   batchID,
		CreatedAt: time.Now(),
	}
	if err := c.store.Insert(job); err != nil {
		return models.Job{}, fmt.Errorf("failed to register job: %w", err)
	}

	if err := c.queue.Submit(models.QueueEntry{
		JobID:     job.ID,
		SourceURL: directURL,
		Filename:  filename,
	}); err != nil {
		c.store.Remove(job.ID)
		return models.Job{}, fmt.Errorf("failed to submit job: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"filename": filename,
		"batch_id": batchID,
	}).Info("Download submitted")

	created, _ := c.store.Get(job.ID)
	return created, nil
}

// ParseBatchItems decodes a JSON list of {title, link} episodes
func ParseBatchItems(raw []byte) ([]BatchItem, error) {
	var items []BatchItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBatch, err)
	}
	if len(items) == 0 {
		return nil, ErrInvalidBatch
	}
	return items, nil
}

// SubmitBatch registers a batch and resolves its items in the background.
// It returns as soon as the batch is registered.
func (c *DownloadController) SubmitBatch(items []BatchItem, showTitle, quality string) (models.Batch, error) {
	if len(items) == 0 {
		return models.Batch{}, ErrInvalidBatch
	}
	if strings.TrimSpace(showTitle) == "" {
		showTitle = defaultShowTitle
	}

	batch := &models.Batch{
		ID:        uuid.NewString(),
		ShowTitle: showTitle,
		Total:     len(items),
		Status:    models.BatchStatusProcessing,
		CreatedAt: time.Now(),
	}

	c.batchMu.Lock()
	c.batches[batch.ID] = batch
	snapshot := *batch
	c.batchMu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"batch_id": batch.ID,
		"show":     showTitle,
		"episodes": len(items),
	}).Info("Batch accepted")

	c.running.Add(1)
	go func() {
		defer c.running.Done()
		c.processBatch(batch.ID, items, showTitle, quality)
	}()

	return snapshot, nil
}

func (c *DownloadController) processBatch(batchID string, items []BatchItem, showTitle, quality string) {
	log := c.logger.WithField("batch_id", batchID)
	ctx := context.Background()

	for i, item := range items {
		if i > 0 && c.batchDelay > 0 {
			time.Sleep(c.batchDelay)
		}

		ok := c.submitBatchItem(ctx, log, batchID, item, showTitle, quality)
		c.updateBatch(batchID, func(b *models.Batch) {
			b.Processed++
			if ok {
				b.Succeeded++
			}
		})
	}

	c.updateBatch(batchID, func(b *models.Batch) {
		b.Status = models.BatchStatusCompleted
	})

	batch, _ := c.Batch(batchID)
	log.WithFields(logrus.Fields{
		"succeeded": batch.Succeeded,
		"total":     batch.Total,
	}).Info("Batch processed")
}

func (c *DownloadController) submitBatchItem(ctx context.Context, log *logrus.Entry, batchID string, item BatchItem, showTitle, quality string) bool {
	if strings.TrimSpace(item.Link) == "" {
		log.WithField("episode", item.Title).Warn("Skipping episode with no link")
		return false
	}

	directURL, err := c.catalog.SourceURL(ctx, item.Link, acer.SeriesTypeEpisode)
	if err != nil {
		log.WithError(err).WithField("episode", item.Title).Error("Could not get download URL for episode")
		return false
	}

	filename := utils.EpisodeFilename(showTitle, item.Title, quality, remoteName(directURL))
	if _, err := c.Enqueue(directURL, filename, batchID); err != nil {
		log.WithError(err).WithField("episode", item.Title).Error("Failed to enqueue episode")
		return false
	}
	return true
}

func (c *DownloadController) updateBatch(id string, fn func(*models.Batch)) {
	c.batchMu.Lock()
	defer c.batchMu.Unlock()
	if b, ok := c.batches[id]; ok {
		fn(b)
	}
}

// Batch returns a copy of one batch summary
func (c *DownloadController) Batch(id string) (models.Batch, bool) {
	c.batchMu.Lock()
	defer c.batchMu.Unlock()
	b, ok := c.batches[id]
	if !ok {
		return models.Batch{}, false
	}
	return *b, true
}

// ListBatches returns batch summaries, newest first
func (c *DownloadController) ListBatches() []models.Batch {
	c.batchMu.Lock()
	out := make([]models.Batch, 0, len(c.batches))
	for _, b := range c.batches {
		out = append(out, *b)
	}
	c.batchMu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Job returns one tracked job
func (c *DownloadController) Job(id string) (models.Job, bool) {
	return c.store.Get(id)
}

// ListJobs returns every tracked job, newest first
func (c *DownloadController) ListJobs() []models.Job {
	return c.store.List()
}

// QueueStats returns the admission queue occupancy
func (c *DownloadController) QueueStats() models.QueueStats {
	return c.queue.Stats()
}

// Wait blocks until every background batch has been processed
func (c *DownloadController) Wait() {
	c.running.Wait()
}

// remoteName returns the last path segment of a URL, used only for its extension
func remoteName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return path.Base(rawURL)
	}
	return path.Base(u.Path)
}
