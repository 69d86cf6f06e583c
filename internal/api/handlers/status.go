package handlers

import (
	"github.com/amaumene/acerpal/internal/controllers"
	"github.com/amaumene/acerpal/internal/models"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// StatusHandler handles status requests
type StatusHandler struct {
	downloadCtrl *controllers.DownloadController
	cleanupCtrl  *controllers.CleanupController
	logger       *logrus.Logger
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(downloadCtrl *controllers.DownloadController, cleanupCtrl *controllers.CleanupController, logger *logrus.Logger) *StatusHandler {
	return &StatusHandler{
		downloadCtrl: downloadCtrl,
		cleanupCtrl:  cleanupCtrl,
		logger:       logger,
	}
}

// StatusResponse represents the status response
type StatusResponse struct {
	TotalJobs   int               `json:"total_jobs"`
	Starting    int               `json:"starting"`
	Queued      int               `json:"queued"`
	Downloading int               `json:"downloading"`
	Moving      int               `json:"moving"`
	Completed   int               `json:"completed"`
	Failed      int               `json:"failed"`
	Archived    int               `json:"archived"`
	Queue       models.QueueStats `json:"queue"`
	Batches     int               `json:"batches"`
}

// Handle handles the status endpoint
func (h *StatusHandler) Handle(c *fiber.Ctx) error {
	jobs := h.downloadCtrl.ListJobs()

	response := StatusResponse{
		TotalJobs: len(jobs),
		Queue:     h.downloadCtrl.QueueStats(),
		Batches:   len(h.downloadCtrl.ListBatches()),
	}

	for _, job := range jobs {
		switch job.Status {
		case models.JobStatusStarting:
			response.Starting++
		case models.JobStatusQueued:
			response.Queued++
		case models.JobStatusDownloading:
			response.Downloading++
		case models.JobStatusMoving:
			response.Moving++
		case models.JobStatusCompleted:
			response.Completed++
		case models.JobStatusError:
			response.Failed++
		}
	}

	archived, err := h.cleanupCtrl.ArchivedCount()
	if err != nil {
		h.logger.WithError(err).Warn("Failed to count archived jobs")
	}
	response.Archived = archived

	return c.JSON(response)
}
