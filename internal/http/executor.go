package http

import (
	"context"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"scrapeforge/internal/apperr"
	"scrapeforge/internal/config"
	"scrapeforge/internal/content"
	"scrapeforge/internal/extract"
	"scrapeforge/internal/fetcher"
	"scrapeforge/internal/formats"
	"scrapeforge/internal/llm"
	"scrapeforge/internal/model"
	"scrapeforge/internal/robots"
	"scrapeforge/internal/urlnorm"
)

// documentCache persists and serves back documents keyed by canonical URL,
// backing ScrapeOptions.MaxAge. internal/store.Store implements this.
type documentCache interface {
	SaveScrapeDocument(ctx context.Context, canonicalURL string, doc *model.Document) error
	LoadScrapeDocument(ctx context.Context, canonicalURL string, maxAge time.Duration) (*model.Document, bool, error)
}

// Engine runs the scrape path — Fetcher Selector then Content Pipeline,
// then the opaque extractor — for one URL. It is shared by the synchronous
// "Submit scrape" handler and the crawlPage job handler, per spec.md §2:
// "each child repeats the scrape path."
type Engine struct {
	selector *fetcher.Selector
	extract  *extract.Service
	robots   *robots.Cache
	cache    documentCache
	cfg      *config.Config
	logger   *slog.Logger

	inFlight chan struct{}
}

// NewEngine builds the Fetcher Selector from configuration (skipping any
// strategy whose backing service is disabled) and wires the extractor.
// cache may be nil, in which case ScrapeOptions.MaxAge is a no-op.
func NewEngine(cfg *config.Config, robotsCache *robots.Cache, cache documentCache, logger *slog.Logger) *Engine {
	plain := fetcher.NewPlainHttp(cfg.Scraper.UserAgent, cfg.Scraper.MaxBytesPerSecond, cfg.Scraper.MaxRetries)

	var headless, stealthProxy fetcher.Strategy
	if cfg.Rod.Enabled {
		timeout := time.Duration(cfg.Scraper.TimeoutMs) * time.Millisecond
		headless = fetcher.NewHeadless(timeout, false, cfg.Rod.WSURL)
		stealthProxy = fetcher.NewHeadless(timeout, true, cfg.Rod.WSURL)
	}

	var fireEngine fetcher.Strategy
	if cfg.FireEngine.Enabled {
		fireEngine = fetcher.NewFireEngine(cfg.FireEngine.BaseURL, cfg.FireEngine.APIKey, nil)
	}

	selector := fetcher.NewSelector(plain, headless, stealthProxy, fireEngine)

	extractSvc := extract.NewService(func() (llm.Client, llm.Provider, string, error) {
		return llm.NewClientFromConfig(cfg, "", "")
	})

	global := cfg.Worker.GlobalMaxConcurrency
	if global <= 0 {
		global = 50
	}

	return &Engine{
		selector: selector,
		extract:  extractSvc,
		robots:   robotsCache,
		cache:    cache,
		cfg:      cfg,
		logger:   logger,
		inFlight: make(chan struct{}, global),
	}
}

// Scrape runs one URL through fetch-then-transform-then-extract, admitted
// through Engine's global concurrency gate. If opts.MaxAge is set and a
// fresh-enough document was previously stored for rawURL's canonical form,
// that document is returned without re-fetching.
func (e *Engine) Scrape(ctx context.Context, rawURL string, opts model.ScrapeOptions) (*model.Document, error) {
	var canonicalURL string
	if opts.MaxAge > 0 && e.cache != nil {
		if c, err := urlnorm.Canonicalize(rawURL, urlnorm.CanonicalizeOptions{SortQuery: true}); err == nil {
			canonicalURL = c
			if cached, ok, err := e.cache.LoadScrapeDocument(ctx, canonicalURL, opts.MaxAge); err == nil && ok {
				return cached, nil
			} else if err != nil && e.logger != nil {
				e.logger.Warn("load cached scrape document failed", "url", rawURL, "err", err)
			}
		}
	}

	select {
	case e.inFlight <- struct{}{}:
		defer func() { <-e.inFlight }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	timeoutMs := opts.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = e.cfg.Scraper.TimeoutMs
	}
	if timeoutMs <= 0 {
		timeoutMs = 30_000
	}

	fetchOpts := fetcher.Options{
		Headers:         opts.Headers,
		WaitForMs:       opts.WaitForMs,
		TimeoutMs:       timeoutMs,
		Mobile:          opts.Mobile,
		SkipTLSVerify:   opts.SkipTLSVerify,
		NeedsScreenshot: containsFormat(opts.Formats, string(formats.FormatScreenshot)),
	}

	result, err := e.selector.Select(ctx, rawURL, fetchOpts)
	if err != nil {
		return nil, fetchErrToAppErr(err)
	}
	if e.logger != nil {
		e.logger.Debug("fetched", "url", rawURL, "strategy", result.Strategy,
			"bytes", humanize.Bytes(uint64(len(result.Fetch.Body))))
	}

	pipelineOpts := content.Options{
		OnlyMainContent:     opts.OnlyMainContent,
		IncludeTags:         opts.IncludeTags,
		ExcludeTags:         opts.ExcludeTags,
		LinksSameDomainOnly: e.cfg.Scraper.LinksSameDomainOnly,
		LinksMaxPerDocument: e.cfg.Scraper.LinksMaxPerDocument,
	}
	doc, err := content.Run(content.Input{
		HTML:       string(result.Fetch.Body),
		FinalURL:   result.Fetch.FinalURL,
		StatusCode: result.Fetch.StatusCode,
	}, pipelineOpts)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeTransformFailed, "transform failed", err)
	}

	doc.Engine = result.Strategy
	doc.Metadata.SourceURL = rawURL
	doc.FetchedAt = time.Now()

	if opts.ExtractSchema != nil {
		fields, err := e.extract.Extract(ctx, rawURL, doc.Text, opts.ExtractSchema, opts.ExtractPrompt, timeoutDuration(timeoutMs))
		if err != nil {
			// ExtractFailed is non-fatal per spec.md §7: the document is
			// still returned, just without a json field.
			if e.logger != nil {
				e.logger.Warn("extract failed", "url", rawURL, "err", err)
			}
		} else {
			doc.JSON = fields
		}
	}

	if opts.WantSummary {
		summary, err := e.extract.Summarize(ctx, rawURL, doc.Text, timeoutDuration(timeoutMs))
		if err != nil {
			if e.logger != nil {
				e.logger.Warn("summarize failed", "url", rawURL, "err", err)
			}
		} else {
			doc.Summary = summary
			doc.Metadata.Summary = summary
		}
	}

	if opts.WantBranding {
		branding, err := e.extract.Branding(ctx, rawURL, doc.Text, opts.BrandingPrompt, timeoutDuration(timeoutMs))
		if err != nil {
			if e.logger != nil {
				e.logger.Warn("branding extract failed", "url", rawURL, "err", err)
			}
		} else {
			doc.Branding = branding
			doc.Metadata.Branding = branding
		}
	}

	if canonicalURL != "" {
		if err := e.cache.SaveScrapeDocument(ctx, canonicalURL, doc); err != nil && e.logger != nil {
			e.logger.Warn("save scrape document failed", "url", rawURL, "err", err)
		}
	}

	return doc, nil
}

func timeoutDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func containsFormat(list []string, name string) bool {
	for _, f := range list {
		if f == name {
			return true
		}
	}
	return false
}

// fetchErrToAppErr maps a *fetcher.FetchError's FailureClass onto the
// user-visible error codes from spec.md §7.
func fetchErrToAppErr(err error) error {
	class := fetcher.ClassOf(err)
	switch class {
	case model.FailureBlocked:
		return apperr.Wrap(apperr.CodeBlocked, "fetch blocked", err)
	case model.FailureNotFound:
		return apperr.Wrap(apperr.CodeNotFound, "not found", err)
	case model.FailureInvalidContent:
		return apperr.Wrap(apperr.CodeInvalidContent, "invalid content", err)
	case model.FailureFatal:
		return apperr.Wrap(apperr.CodeInternal, "fatal fetch error", err)
	default:
		return apperr.Wrap(apperr.CodeFetchFailed, "fetch failed", err)
	}
}

