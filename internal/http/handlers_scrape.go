package http

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"scrapeforge/internal/apperr"
	"scrapeforge/internal/formats"
	"scrapeforge/internal/model"
	"scrapeforge/internal/scrapeutil"
)

// scrapeHandler implements spec.md §6's "Submit scrape": it enqueues one
// scrape Job through the Job Queue/Worker Pool and waits synchronously for
// its fetch-then-transform-then-extract pass to finish.
func scrapeHandler(ce *CrawlEngine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req ScrapeRequest
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

		opts := scrapeOptionsFromRequest(req)

		doc, err := ce.SubmitScrape(c.Context(), req.URL, opts)
		if err != nil {
			return writeScrapeError(c, err)
		}

		return c.JSON(ScrapeResponse{Success: true, Data: doc})
	}
}

func scrapeOptionsFromRequest(req ScrapeRequest) model.ScrapeOptions {
	opts := model.ScrapeOptions{
		Formats:       formatStrings(req.Formats),
		IncludeTags:   req.IncludeTags,
		ExcludeTags:   req.ExcludeTags,
		Headers:       req.Headers,
		ExtractPrompt: req.ExtractPrompt,
		ExtractSchema: req.ExtractSchema,
	}
	if req.OnlyMainContent != nil {
		opts.OnlyMainContent = *req.OnlyMainContent
	} else {
		opts.OnlyMainContent = true
	}
	if req.WaitFor != nil {
		opts.WaitForMs = *req.WaitFor
	}
	if req.Timeout != nil {
		opts.TimeoutMs = *req.Timeout
	}
	if req.Mobile != nil {
		opts.Mobile = *req.Mobile
	}
	if req.SkipTLSVerification != nil {
		opts.SkipTLSVerify = *req.SkipTLSVerification
	}
	if req.MaxAge != nil && *req.MaxAge > 0 {
		opts.MaxAge = time.Duration(*req.MaxAge) * time.Millisecond
	}

	// formats may carry object-shaped "json"/"branding" entries with their
	// own prompt/schema; those fill extractPrompt/Schema only where the
	// top-level fields are empty, so the top-level fields win when both are set.
	if wantsJSON, prompt, schema := scrapeutil.GetJSONFormatConfig(req.Formats); wantsJSON {
		if opts.ExtractSchema == nil {
			opts.ExtractSchema = schema
		}
		if opts.ExtractPrompt == "" {
			opts.ExtractPrompt = prompt
		}
	}
	opts.WantSummary = formats.HasFormat(req.Formats, string(formats.FormatSummary))
	if wantsBranding, prompt := scrapeutil.GetBrandingFormatConfig(req.Formats); wantsBranding {
		opts.WantBranding = true
		opts.BrandingPrompt = prompt
	}

	return opts
}

func formatStrings(rawFormats []any) []string {
	out := make([]string, 0, len(rawFormats))
	for _, f := range rawFormats {
		if s, ok := f.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// writeScrapeError maps an apperr.Code onto the HTTP status + error body
// shape from spec.md §7.
func writeScrapeError(c *fiber.Ctx, err error) error {
	return c.Status(statusForCode(apperr.CodeOf(err))).JSON(ErrorResponse{Success: false, Error: err.Error()})
}

// statusForCode maps a spec.md §7 error code onto its HTTP status.
func statusForCode(code apperr.Code) int {
	switch code {
	case apperr.CodeInvalidURL, apperr.CodeDisallowed:
		return fiber.StatusBadRequest
	case apperr.CodeRobotsDenied, apperr.CodeBlocked:
		return fiber.StatusForbidden
	case apperr.CodeNotFound, apperr.CodeNotFoundJob:
		return fiber.StatusNotFound
	case apperr.CodeInvalidContent, apperr.CodeTransformFailed, apperr.CodeExtractFailed:
		return fiber.StatusUnprocessableEntity
	case apperr.CodeTimeout:
		return fiber.StatusGatewayTimeout
	case apperr.CodeFetchFailed:
		return fiber.StatusBadGateway
	case apperr.CodeLimitExceeded:
		return fiber.StatusTooManyRequests
	default:
		return fiber.StatusInternalServerError
	}
}
