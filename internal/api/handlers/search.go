package handlers

import (
	"github.com/amaumene/acerpal/internal/controllers"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// SearchHandler handles catalog lookups
type SearchHandler struct {
	searchCtrl *controllers.SearchController
	logger     *logrus.Logger
}

// NewSearchHandler creates a new search handler
func NewSearchHandler(searchCtrl *controllers.SearchController, logger *logrus.Logger) *SearchHandler {
	return &SearchHandler{
		searchCtrl: searchCtrl,
		logger:     logger,
	}
}

type urlRequest struct {
	URL string `json:"url"`
}

// Search handles GET /api/search?q=
func (h *SearchHandler) Search(c *fiber.Ctx) error {
	results, err := h.searchCtrl.Search(c.UserContext(), c.Query("q"))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(fiber.Map{
		"results": results,
		"history": h.searchCtrl.History(),
	})
}

// History handles GET /api/search/history
func (h *SearchHandler) History(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"history": h.searchCtrl.History()})
}

// Qualities handles POST /api/qualities
func (h *SearchHandler) Qualities(c *fiber.Ctx) error {
	var req urlRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	qualities, err := h.searchCtrl.Qualities(c.UserContext(), req.URL)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(fiber.Map{"qualities": qualities})
}

// Episodes handles POST /api/episodes
func (h *SearchHandler) Episodes(c *fiber.Ctx) error {
	var req urlRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	episodes, err := h.searchCtrl.Episodes(c.UserContext(), req.URL)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(fiber.Map{"episodes": episodes})
}
