package crawlctl

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"scrapeforge/internal/apperr"
	"scrapeforge/internal/frontier"
	"scrapeforge/internal/jobqueue"
	"scrapeforge/internal/model"
	"scrapeforge/internal/robots"
	"scrapeforge/internal/urlnorm"
)

// priorityCrawlPage matches spec.md §3: "priority (int; lower = more
// urgent; scrape=100, crawlPage=200)".
const priorityCrawlPage = 200

// Controller is one crawl's state machine, the single writer of its
// CrawlState and Frontier per spec.md §5.
type Controller struct {
	State    *model.CrawlState
	frontier *frontier.Frontier
	queue    *jobqueue.Queue
	robots   *robots.Cache
	client   *http.Client
	userAgent string
	logger   *slog.Logger

	rootHost string
	rootPath string

	mu         sync.Mutex
	activeJobs map[string]string // jobID -> url
	failed     map[string]string // url -> classified error
}

// New builds a Controller for a freshly created CrawlState.
func New(state *model.CrawlState, queue *jobqueue.Queue, robotsCache *robots.Cache, userAgent string, logger *slog.Logger) *Controller {
	return &Controller{
		State:      state,
		frontier:   frontier.New(),
		queue:      queue,
		robots:     robotsCache,
		client:     &http.Client{Timeout: 15 * time.Second},
		userAgent:  sanitizeUserAgent(userAgent),
		logger:     logger,
		activeJobs: make(map[string]string),
		failed:     make(map[string]string),
	}
}

// Start implements the "created --start--> active" transition: fetch
// robots.txt and sitemap(s), seed the frontier, and enqueue the first wave
// of crawlPage jobs.
func (c *Controller) Start(ctx context.Context) error {
	root, err := url.Parse(c.State.RootURL)
	if err != nil {
		return c.fail(ctx, apperr.Wrap(apperr.CodeInvalidURL, "invalid root URL", err))
	}
	c.rootHost = root.Host
	c.rootPath = root.Path
	if c.rootPath == "" {
		c.rootPath = "/"
	}

	canonicalRoot, err := urlnorm.Canonicalize(c.State.RootURL, urlnorm.CanonicalizeOptions{SortQuery: true})
	if err != nil {
		return c.fail(ctx, apperr.Wrap(apperr.CodeInvalidURL, "invalid root URL", err))
	}

	c.frontier.Push(canonicalRoot, 0)

	if !c.State.Options.IgnoreSitemap {
		sitemapURLs, err := fetchSitemap(ctx, c.client, fmt.Sprintf("%s://%s/sitemap.xml", root.Scheme, root.Host), c.userAgent)
		if err != nil && c.logger != nil {
			c.logger.Warn("sitemap fetch failed, continuing without it", "crawl_id", c.State.ID, "err", err)
		}
		for _, u := range sitemapURLs {
			canon, err := urlnorm.Canonicalize(u, urlnorm.CanonicalizeOptions{SortQuery: true})
			if err != nil {
				continue
			}
			admissible, _ := c.admissible(ctx, canon, 1)
			if admissible {
				c.frontier.Push(canon, 1)
			}
		}
	}

	c.State.Phase = model.CrawlActive
	c.State.UpdatedAt = time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fillFrontierLocked(ctx)
}

// fillFrontierLocked enqueues crawlPage jobs from the frontier while page
// budget remains and the per-crawl in-flight cap is not reached. Caller
// must hold c.mu.
func (c *Controller) fillFrontierLocked(ctx context.Context) error {
	limit := c.State.Options.Limit
	if limit <= 0 {
		limit = 10_000
	}
	crawlCap := c.State.Options.MaxConcurrency
	if crawlCap <= 0 {
		crawlCap = 20
	}

	for c.State.Completed+c.State.Failed+c.State.InFlight < limit && c.State.InFlight < crawlCap {
		entry, ok := c.frontier.Pop()
		if !ok {
			break
		}

		job := &model.Job{
			Kind:     model.JobKindCrawlPage,
			CrawlID:  c.State.ID,
			TenantID: c.State.TenantID,
			URL:      entry.URL,
			Depth:    entry.Depth,
			Priority: priorityCrawlPage,
		}
		if err := c.queue.Enqueue(ctx, job); err != nil {
			return err
		}
		c.activeJobs[job.ID] = entry.URL
		c.State.Queued++
		c.State.InFlight++
	}
	return nil
}

// OnPageComplete is called by the worker executing a crawlPage job once
// that page's scrape finishes (successfully or not), per spec.md §4.H.
func (c *Controller) OnPageComplete(ctx context.Context, job *model.Job, doc *model.Document, links []string, pageErr error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.activeJobs, job.ID)
	c.State.InFlight--

	if pageErr != nil {
		c.State.Failed++
		c.failed[job.URL] = pageErr.Error()
	} else {
		c.State.Completed++
		if c.State.Visited == nil {
			c.State.Visited = make(map[string]struct{})
		}
		c.State.Visited[job.URL] = struct{}{}

		for _, link := range links {
			canon, err := urlnorm.Canonicalize(link, urlnorm.CanonicalizeOptions{SortQuery: true})
			if err != nil {
				continue
			}
			if c.frontier.Seen(canon) {
				continue
			}
			admissible, _ := c.admissible(ctx, canon, job.Depth+1)
			if !admissible {
				continue
			}
			if c.State.Phase == model.CrawlCancelled {
				continue
			}
			c.frontier.Push(canon, job.Depth+1)
		}
	}

	c.publishProgress()

	if c.State.Phase == model.CrawlCancelled {
		return
	}

	if c.frontier.Len() == 0 && c.State.InFlight == 0 {
		c.State.Phase = model.CrawlCompleted
		c.State.UpdatedAt = time.Now()
		return
	}

	limit := c.State.Options.Limit
	if limit <= 0 {
		limit = 10_000
	}
	if c.State.Completed+c.State.Failed >= limit {
		c.State.Phase = model.CrawlDraining
		if c.State.InFlight == 0 {
			c.State.Phase = model.CrawlCompleted
		}
		return
	}

	_ = c.fillFrontierLocked(ctx)
}

func (c *Controller) publishProgress() {
	denom := c.State.Queued
	if limit := c.State.Options.Limit; limit > 0 && limit < denom {
		denom = limit
	}
	if denom == 0 {
		denom = 1
	}
	c.queue.Publish(model.ProgressEvent{
		CrawlID:   c.State.ID,
		Completed: c.State.Completed,
		Queued:    c.State.Queued,
		Failed:    c.State.Failed,
		Terminal:  c.State.Phase == model.CrawlCompleted || c.State.Phase == model.CrawlCancelled || c.State.Phase == model.CrawlFailed,
	})
}

// Cancel implements "cancel -> cancelled": no new children are enqueued,
// and all currently active jobs are flagged for cancellation.
func (c *Controller) Cancel(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.State.Phase = model.CrawlCancelled
	c.State.UpdatedAt = time.Now()

	for jobID := range c.activeJobs {
		_ = c.queue.Cancel(ctx, jobID)
	}
	c.publishProgress()
	return nil
}

func (c *Controller) fail(ctx context.Context, err error) error {
	c.mu.Lock()
	c.State.Phase = model.CrawlFailed
	c.State.Error = err.Error()
	c.State.UpdatedAt = time.Now()
	c.mu.Unlock()
	return err
}

// admissible implements spec.md §4.D's full predicate, adding the
// visited/enqueued dedup check (owned by the Frontier) on top of
// urlnorm.Admissible's pure checks.
func (c *Controller) admissible(ctx context.Context, canonicalURL string, depth int) (bool, string) {
	maxDepth := c.State.Options.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 10
	}

	opts := urlnorm.AdmitOptions{
		RootHost:      c.rootHost,
		RootPath:      c.rootPath,
		Depth:         depth,
		MaxDepth:      maxDepth,
		AllowExternal: c.State.Options.AllowExternal,
		AllowBackward: c.State.Options.AllowBackward,
		IncludePaths:  c.State.Options.IncludePaths,
		ExcludePaths:  c.State.Options.ExcludePaths,
	}
	if !c.State.Options.IgnoreRobots && c.robots != nil {
		opts.RobotsAllowed = func(u *url.URL) bool {
			return c.robots.Allowed(ctx, u)
		}
	}

	ok, reason := urlnorm.Admissible(canonicalURL, opts)
	if !ok {
		return false, reason
	}

	if c.State.Visited != nil {
		if _, visited := c.State.Visited[canonicalURL]; visited {
			return false, "visited"
		}
	}
	if c.frontier.Seen(canonicalURL) {
		return false, "enqueued"
	}
	return true, ""
}

// Snapshot returns a read-only copy of the crawl's counters, safe to call
// concurrently with the controller's own goroutine.
func (c *Controller) Snapshot() model.CrawlState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.State
}

func sanitizeUserAgent(ua string) string {
	ua = strings.TrimSpace(ua)
	if ua == "" {
		return "scrapeforge/1.0"
	}
	return ua
}
