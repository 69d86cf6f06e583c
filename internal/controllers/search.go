package controllers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/amaumene/acerpal/internal/history"
	"github.com/amaumene/acerpal/internal/services/acer"
	"github.com/amaumene/acerpal/internal/utils"
	"github.com/sirupsen/logrus"
)

// ErrEmptyQuery is returned for blank search or lookup input
var ErrEmptyQuery = errors.New("query is required")

// SearchController handles catalog lookups
type SearchController struct {
	catalog   *acer.Client
	history   *history.SearchHistory
	blacklist *utils.Blacklist
	logger    *logrus.Logger
}

// NewSearchController creates a new search controller
func NewSearchController(catalog *acer.Client, h *history.SearchHistory, blacklist *utils.Blacklist, logger *logrus.Logger) *SearchController {
	return &SearchController{
		catalog:   catalog,
		history:   h,
		blacklist: blacklist,
		logger:    logger,
	}
}

// Search records the query, then returns catalog hits minus blacklisted
// titles, closest title first
func (c *SearchController) Search(ctx context.Context, query string) ([]acer.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	c.history.Record(query)

	results, err := c.catalog.Search(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	filtered := make([]acer.SearchResult, 0, len(results))
	for _, r := range results {
		if term, blocked := c.blacklist.Match(r.Title); blocked {
			c.logger.WithFields(logrus.Fields{
				"title": r.Title,
				"term":  term,
			}).Debug("Result matched blacklist")
			continue
		}
		filtered = append(filtered, r)
	}

	ranked := utils.RankByTitle(filtered, query, func(r acer.SearchResult) string { return r.Title })

	c.logger.WithFields(logrus.Fields{
		"query":       query,
		"results":     len(results),
		"blacklisted": len(results) - len(filtered),
	}).Info("Search completed")

	return ranked, nil
}

// Qualities lists the quality options of a catalog item
func (c *SearchController) Qualities(ctx context.Context, itemURL string) ([]acer.Quality, error) {
	if strings.TrimSpace(itemURL) == "" {
		return nil, ErrEmptyQuery
	}
	return c.catalog.Qualities(ctx, itemURL)
}

// Episodes lists the episodes behind an episodes URL
func (c *SearchController) Episodes(ctx context.Context, episodesURL string) ([]acer.Episode, error) {
	if strings.TrimSpace(episodesURL) == "" {
		return nil, ErrEmptyQuery
	}
	return c.catalog.Episodes(ctx, episodesURL)
}

// History returns recent searches, newest first
func (c *SearchController) History() []string {
	return c.history.List()
}
