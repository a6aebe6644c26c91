package http

import (
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"scrapeforge/internal/model"
	"scrapeforge/internal/store"
)

// crawlSubmitHandler implements spec.md §6's "Submit crawl": it creates a
// CrawlState, starts its Controller, and returns immediately with the
// status URL the caller polls.
func crawlSubmitHandler(ce *CrawlEngine, publicBaseURL string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req CrawlRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Success: false,
				Error:   "invalid request body",
			})
		}
		if req.URL == "" {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Success: false,
				Error:   "url is required",
			})
		}

		opts := crawlOptionsFromRequest(req)
		id := uuid.New().String()

		if _, err := ce.SubmitCrawl(c.Context(), id, req.URL, opts); err != nil {
			return writeScrapeError(c, err)
		}

		return c.Status(fiber.StatusOK).JSON(CrawlSubmitResponse{
			ID:  id,
			URL: fmt.Sprintf("%s/v1/crawl/%s", publicBaseURL, id),
		})
	}
}

func crawlOptionsFromRequest(req CrawlRequest) model.CrawlOptions {
	opts := model.CrawlOptions{
		IncludePaths: req.IncludePaths,
		ExcludePaths: req.ExcludePaths,
	}
	if req.MaxDepth != nil {
		opts.MaxDepth = *req.MaxDepth
	}
	if req.Limit != nil {
		opts.Limit = *req.Limit
	}
	if req.AllowBackwardLinks != nil {
		opts.AllowBackward = *req.AllowBackwardLinks
	}
	if req.AllowExternalLinks != nil {
		opts.AllowExternal = *req.AllowExternalLinks
	}
	if req.IgnoreRobotsTxt != nil {
		opts.IgnoreRobots = *req.IgnoreRobotsTxt
	}
	if req.IgnoreSitemap != nil {
		opts.IgnoreSitemap = *req.IgnoreSitemap
	}
	if req.MaxConcurrency != nil {
		opts.MaxConcurrency = *req.MaxConcurrency
	}
	if req.ScrapeOptions != nil {
		opts.Scrape = scrapeOptionsFromRequest(*req.ScrapeOptions)
	} else {
		opts.Scrape = model.ScrapeOptions{OnlyMainContent: true, Formats: []string{"markdown"}}
	}
	return opts
}

// crawlStatusHandler implements spec.md §6's "Crawl status": current
// phase, counters, and a page of the completed documents gathered so far,
// with Next carrying the cursor to the following page when more remain.
func crawlStatusHandler(ce *CrawlEngine, st *store.Store, publicBaseURL string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")

		state, ok := ce.Status(id)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
				Success: false,
				Error:   "crawl not found",
			})
		}

		var cursor int64
		if raw := c.Query("next"); raw != "" {
			if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
				cursor = parsed
			}
		}

		var docs []*model.Document
		var next string
		if st != nil {
			loaded, nextCursor, err := st.ListCompletedDocuments(c.Context(), id, cursor, 0)
			if err == nil {
				docs = loaded
				if nextCursor != 0 {
					next = fmt.Sprintf("%s/v1/crawl/%s?next=%d", publicBaseURL, id, nextCursor)
				}
			}
		}

		return c.JSON(CrawlStatusResponse{
			Status:    string(state.Phase),
			Total:     state.Queued,
			Completed: state.Completed,
			Next:      next,
			Data:      docs,
		})
	}
}

// crawlCancelHandler implements spec.md §6's "Crawl cancel".
func crawlCancelHandler(ce *CrawlEngine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")

		state, ok := ce.Cancel(c.Context(), id)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
				Success: false,
				Error:   "crawl not found",
			})
		}

		return c.JSON(CrawlCancelResponse{Status: string(state.Phase)})
	}
}
