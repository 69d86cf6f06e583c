package handlers

import (
	"errors"

	"github.com/amaumene/acerpal/internal/controllers"
	"github.com/amaumene/acerpal/internal/progress"
	"github.com/amaumene/acerpal/internal/services/acer"
	"github.com/amaumene/acerpal/internal/services/fetch"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// ErrorResponse is the JSON body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
}

// statusFor maps domain errors to HTTP status codes and user-facing messages
func statusFor(err error) (int, string) {
	var nerr *fetch.NetworkError
	switch {
	case errors.Is(err, controllers.ErrEmptyQuery),
		errors.Is(err, controllers.ErrMissingSource),
		errors.Is(err, controllers.ErrInvalidBatch),
		errors.Is(err, controllers.ErrInvalidFilename),
		errors.Is(err, controllers.ErrInvalidLocation):
		return fiber.StatusBadRequest, err.Error()
	case errors.Is(err, controllers.ErrFileNotFound),
		errors.Is(err, progress.ErrJobNotFound):
		return fiber.StatusNotFound, err.Error()
	case errors.Is(err, acer.ErrNoResult):
		return fiber.StatusBadGateway, "No result from the catalog, try again later"
	case errors.As(err, &nerr):
		return fiber.StatusBadGateway, "Could not reach the catalog: " + nerr.Err.Error()
	}
	return fiber.StatusInternalServerError, "Internal server error"
}

func respondError(c *fiber.Ctx, logger *logrus.Logger, err error) error {
	status, message := statusFor(err)

	entry := logger.WithError(err).WithFields(logrus.Fields{
		"path":   c.Path(),
		"status": status,
	})
	if status >= fiber.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Debug("Request rejected")
	}

	return c.Status(status).JSON(ErrorResponse{Error: message})
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: message})
}
