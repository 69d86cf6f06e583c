package handlers

import (
	"github.com/amaumene/acerpal/internal/controllers"
	"github.com/amaumene/acerpal/internal/models"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// FileHandler serves and deletes downloaded files
type FileHandler struct {
	fileCtrl *controllers.FileController
	logger   *logrus.Logger
}

// NewFileHandler creates a new file handler
func NewFileHandler(fileCtrl *controllers.FileController, logger *logrus.Logger) *FileHandler {
	return &FileHandler{
		fileCtrl: fileCtrl,
		logger:   logger,
	}
}

// List handles GET /api/files?location=
func (h *FileHandler) List(c *fiber.Ctx) error {
	location := models.Location(c.Query("location", string(models.LocationWorking)))
	files, err := h.fileCtrl.List(location)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(fiber.Map{
		"location": location,
		"files":    files,
	})
}

// Download handles GET /api/files/download?location=&filename=
func (h *FileHandler) Download(c *fiber.Ctx) error {
	filename := c.Query("filename")
	path, err := h.fileCtrl.Resolve(models.Location(c.Query("location")), filename)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.Download(path, filename)
}

// Delete handles DELETE /api/files?location=&filename=
func (h *FileHandler) Delete(c *fiber.Ctx) error {
	filename := c.Query("filename")
	if err := h.fileCtrl.Delete(models.Location(c.Query("location")), filename); err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(fiber.Map{
		"status":   "deleted",
		"filename": filename,
	})
}
