package handlers

import (
	"encoding/json"

	"github.com/amaumene/acerpal/internal/controllers"
	"github.com/amaumene/acerpal/internal/models"
	"github.com/amaumene/acerpal/internal/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// DownloadHandler handles job submission and job listings
type DownloadHandler struct {
	downloadCtrl *controllers.DownloadController
	cleanupCtrl  *controllers.CleanupController
	logger       *logrus.Logger
}

// NewDownloadHandler creates a new download handler
func NewDownloadHandler(downloadCtrl *controllers.DownloadController, cleanupCtrl *controllers.CleanupController, logger *logrus.Logger) *DownloadHandler {
	return &DownloadHandler{
		downloadCtrl: downloadCtrl,
		cleanupCtrl:  cleanupCtrl,
		logger:       logger,
	}
}

// JobView is a job plus human-readable byte counts
type JobView struct {
	models.Job
	DownloadedHuman string `json:"downloaded_human"`
	TotalHuman      string `json:"total_human"`
	SpeedHuman      string `json:"speed_human"`
}

func newJobView(job models.Job) JobView {
	return JobView{
		Job:             job,
		DownloadedHuman: utils.FormatSize(float64(job.Downloaded)),
		TotalHuman:      utils.FormatSize(float64(job.Total)),
		SpeedHuman:      utils.FormatSpeed(job.Speed),
	}
}

func jobViews(jobs []models.Job) []JobView {
	views := make([]JobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, newJobView(job))
	}
	return views
}

type batchRequest struct {
	Episodes  json.RawMessage `json:"episodes"`
	ShowTitle string          `json:"show_title"`
	Quality   string          `json:"quality"`
}

// Start handles POST /api/downloads
func (h *DownloadHandler) Start(c *fiber.Ctx) error {
	var req controllers.DownloadRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	job, err := h.downloadCtrl.StartDownload(c.UserContext(), req)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(newJobView(job))
}

// StartBatch handles POST /api/downloads/batch
func (h *DownloadHandler) StartBatch(c *fiber.Ctx) error {
	var req batchRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	// Episodes may arrive as a list or as a JSON-encoded string of one
	raw := []byte(req.Episodes)
	var encoded string
	if json.Unmarshal(raw, &encoded) == nil {
		raw = []byte(encoded)
	}

	items, err := controllers.ParseBatchItems(raw)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	batch, err := h.downloadCtrl.SubmitBatch(items, req.ShowTitle, req.Quality)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(batch)
}

// List handles GET /api/downloads
func (h *DownloadHandler) List(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"jobs":  jobViews(h.downloadCtrl.ListJobs()),
		"queue": h.downloadCtrl.QueueStats(),
	})
}

// Get handles GET /api/downloads/:id, falling back to the archive
func (h *DownloadHandler) Get(c *fiber.Ctx) error {
	id := c.Params("id")
	if job, ok := h.downloadCtrl.Job(id); ok {
		return c.JSON(newJobView(job))
	}

	job, err := h.cleanupCtrl.ArchivedJob(id)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(newJobView(job))
}

// ListBatches handles GET /api/batches
func (h *DownloadHandler) ListBatches(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"batches": h.downloadCtrl.ListBatches()})
}

// GetBatch handles GET /api/batches/:id
func (h *DownloadHandler) GetBatch(c *fiber.Ctx) error {
	id := c.Params("id")
	batch, ok := h.downloadCtrl.Batch(id)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "batch not found"})
	}

	var jobs []models.Job
	for _, job := range h.downloadCtrl.ListJobs() {
		if job.BatchID == id {
			jobs = append(jobs, job)
		}
	}
	archived, err := h.cleanupCtrl.ArchivedBatchJobs(id)
	if err != nil {
		h.logger.WithError(err).WithField("batch_id", id).Warn("Failed to read archived batch jobs")
	}
	jobs = append(jobs, archived...)

	return c.JSON(fiber.Map{
		"batch": batch,
		"jobs":  jobViews(jobs),
	})
}

// History handles GET /api/history?limit=
func (h *DownloadHandler) History(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	jobs, err := h.cleanupCtrl.ArchivedJobs(limit)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(fiber.Map{"jobs": jobViews(jobs)})
}
