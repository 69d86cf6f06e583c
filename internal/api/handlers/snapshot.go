package handlers

import (
	"github.com/amaumene/acerpal/internal/persistence"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// SnapshotHandler triggers a state snapshot on demand
type SnapshotHandler struct {
	snapshotter *persistence.Snapshotter
	logger      *logrus.Logger
}

// NewSnapshotHandler creates a new snapshot handler
func NewSnapshotHandler(snapshotter *persistence.Snapshotter, logger *logrus.Logger) *SnapshotHandler {
	return &SnapshotHandler{
		snapshotter: snapshotter,
		logger:      logger,
	}
}

// Save handles POST /api/snapshot
func (h *SnapshotHandler) Save(c *fiber.Ctx) error {
	written, err := h.snapshotter.Save()
	if err != nil {
		return respondError(c, h.logger, err)
	}

	h.logger.WithFields(logrus.Fields{
		"path":    h.snapshotter.Path(),
		"written": written,
	}).Info("Snapshot requested")

	return c.JSON(fiber.Map{
		"written": written,
		"path":    h.snapshotter.Path(),
	})
}
