package http

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"scrapeforge/internal/apperr"
	"scrapeforge/internal/config"
	"scrapeforge/internal/crawlctl"
	"scrapeforge/internal/jobqueue"
	"scrapeforge/internal/metrics"
	"scrapeforge/internal/model"
	"scrapeforge/internal/robots"
	"scrapeforge/internal/store"
	"scrapeforge/internal/worker"
)

// CrawlEngine wires the Job Queue, Worker Pool, and Crawl Controller
// Registry together so both a standalone scrape and a crawl submitted over
// HTTP run entirely through spec.md §4.F/G/H's machinery, with every job
// re-entering Engine.Scrape.
type CrawlEngine struct {
	queue    *jobqueue.Queue
	pool     *worker.Pool
	registry *crawlctl.Registry
	results  *scrapeResults
	robots   *robots.Cache
	cfg      *config.Config
	logger   *slog.Logger
}

// scrapeResults bridges a standalone JobKindScrape job's async worker-pool
// execution back to the synchronous "Submit scrape" HTTP response: the
// handler subscribes to the job's terminal ProgressEvent, then reads the
// Document/error the worker left here.
type scrapeResults struct {
	mu   sync.Mutex
	vals map[string]scrapeResult
}

type scrapeResult struct {
	doc *model.Document
	err error
}

func newScrapeResults() *scrapeResults {
	return &scrapeResults{vals: make(map[string]scrapeResult)}
}

func (r *scrapeResults) put(jobID string, doc *model.Document, err error) {
	r.mu.Lock()
	r.vals[jobID] = scrapeResult{doc: doc, err: err}
	r.mu.Unlock()
}

func (r *scrapeResults) take(jobID string) (scrapeResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.vals[jobID]
	delete(r.vals, jobID)
	return res, ok
}

// NewCrawlEngine builds the queue/pool/registry and starts the pool's
// worker loops in the background, bound to runCtx's lifetime.
func NewCrawlEngine(runCtx context.Context, cfg *config.Config, st *store.Store, scrapeEngine *Engine, robotsCache *robots.Cache, logger *slog.Logger) *CrawlEngine {
	backoff := jobqueue.Backoff{
		Base: time.Duration(cfg.JobQueue.BaseBackoffMs) * time.Millisecond,
		Max:  time.Duration(cfg.JobQueue.MaxBackoffMs) * time.Millisecond,
	}

	var jqStore jobqueue.Store
	if st != nil {
		jqStore = st
	}
	queue := jobqueue.New(backoff, jqStore)
	registry := crawlctl.NewRegistry()

	ce := &CrawlEngine{
		queue:    queue,
		registry: registry,
		results:  newScrapeResults(),
		robots:   robotsCache,
		cfg:      cfg,
		logger:   logger,
	}

	limits := worker.Limits{
		Global: cfg.Worker.GlobalMaxConcurrency,
		Tenant: cfg.Worker.TenantMaxConcurrency,
		Crawl:  cfg.Worker.CrawlMaxConcurrency,
	}
	politeness := time.Duration(cfg.Crawler.PolitenessDelayMs) * time.Millisecond
	pool := worker.New(queue, ce.handlerFor(scrapeEngine, st), logger, limits, cfg.LeaseDuration(), time.Duration(cfg.Worker.PollIntervalMs)*time.Millisecond, politeness)
	ce.pool = pool

	workerCount := cfg.Worker.GlobalMaxConcurrency
	if workerCount <= 0 {
		workerCount = 10
	}
	go pool.Run(runCtx, workerCount)

	return ce
}

// handlerFor builds the worker.Handler that executes one job: a standalone
// scrape reports its result through ce.results for SubmitScrape to collect,
// while a crawlPage job reports its outcome (and any discovered links) back
// to the job's Crawl Controller.
func (ce *CrawlEngine) handlerFor(scrapeEngine *Engine, st *store.Store) worker.Handler {
	return func(ctx context.Context, job *model.Job) (bool, error) {
		if job.Kind == model.JobKindScrape {
			return ce.handleScrapeJob(ctx, scrapeEngine, job)
		}

		ctrl, ok := ce.registry.Get(job.CrawlID)
		if !ok {
			return false, nil
		}

		opts := ctrl.State.Options.Scrape
		doc, err := scrapeEngine.Scrape(ctx, job.URL, opts)

		if err == nil {
			if st != nil {
				if _, serr := st.AppendCompletedDocument(ctx, job.CrawlID, job.URL, doc); serr != nil && ce.logger != nil {
					ce.logger.Warn("persist crawl document failed", "crawl_id", job.CrawlID, "url", job.URL, "err", serr)
				}
			}
			metrics.RecordCrawlPage("completed")
			ce.finishPage(ctx, ctrl, st, job, doc, doc.Links, nil)
			return false, nil
		}

		metrics.RecordCrawlPage("failed")

		// spec.md §7's job-level backoff needs the raw (retryable, err) pair
		// on every attempt; only once the queue will stop retrying does the
		// Controller's per-page bookkeeping (and InFlight count) resolve.
		retryable := retryableForPageError(err)
		if retryable && job.Attempts+1 < job.MaxAttempts {
			return retryable, err
		}

		ce.finishPage(ctx, ctrl, st, job, doc, nil, err)
		return retryable, err
	}
}

// finishPage reports a crawlPage job's terminal outcome to its Controller
// and persists the resulting crawl state.
func (ce *CrawlEngine) finishPage(ctx context.Context, ctrl *crawlctl.Controller, st *store.Store, job *model.Job, doc *model.Document, links []string, err error) {
	ctrl.OnPageComplete(ctx, job, doc, links, err)
	if st != nil {
		if serr := st.SaveCrawl(ctx, ctrl.State); serr != nil && ce.logger != nil {
			ce.logger.Warn("persist crawl state failed", "crawl_id", job.CrawlID, "err", serr)
		}
	}
}

// handleScrapeJob runs a standalone JobKindScrape job's scrape path and
// leaves the result for SubmitScrape, which is blocked on this job's
// terminal ProgressEvent.
func (ce *CrawlEngine) handleScrapeJob(ctx context.Context, scrapeEngine *Engine, job *model.Job) (bool, error) {
	doc, err := scrapeEngine.Scrape(ctx, job.URL, job.Options)
	ce.results.put(job.ID, doc, err)
	if err == nil {
		return false, nil
	}
	return retryableForPageError(err), err
}

// retryableForPageError classifies a page/scrape failure for the Job
// Queue's backoff policy (spec.md §7): terminal fetch/content classes and
// TransformFailed are never retried; everything else gets the default
// maxAttempts-bounded exponential backoff.
func retryableForPageError(err error) bool {
	switch apperr.CodeOf(err) {
	case apperr.CodeNotFound, apperr.CodeInvalidContent, apperr.CodeInvalidURL,
		apperr.CodeDisallowed, apperr.CodeRobotsDenied, apperr.CodeInternal,
		apperr.CodeTransformFailed:
		return false
	default:
		return true
	}
}

// priorityScrape matches spec.md §3: "priority (int; lower = more urgent;
// scrape=100, crawlPage=200)".
const priorityScrape = 100

// SubmitScrape implements spec.md §6's "Submit scrape": it enqueues a
// priority-100 scrape Job through the same Job Queue/Worker Pool a crawl
// uses (spec.md §2: "a scrape request produces one single-URL job"), then
// blocks for that job's terminal outcome so the HTTP response stays
// synchronous.
func (ce *CrawlEngine) SubmitScrape(ctx context.Context, rawURL string, opts model.ScrapeOptions) (*model.Document, error) {
	job := &model.Job{
		ID:       uuid.NewString(),
		Kind:     model.JobKindScrape,
		URL:      rawURL,
		Priority: priorityScrape,
		Options:  opts,
	}

	// Subscribe before Enqueue so the terminal event can't be published and
	// missed before this call starts listening for it.
	sub := ce.queue.Subscribe(job.ID)
	if err := ce.queue.Enqueue(ctx, job); err != nil {
		return nil, err
	}

	select {
	case ev, ok := <-sub:
		if !ok {
			return nil, apperr.New(apperr.CodeInternal, "scrape job result channel closed")
		}
		result, ok := ce.results.take(job.ID)
		if !ok {
			return nil, apperr.New(apperr.CodeInternal, "scrape job result missing")
		}
		if ev.Status == model.JobFailed {
			return nil, result.err
		}
		return result.doc, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SubmitCrawl creates and starts a new crawl, registering its Controller
// and returning its initial state.
func (ce *CrawlEngine) SubmitCrawl(ctx context.Context, id, rootURL string, opts model.CrawlOptions) (*model.CrawlState, error) {
	applyDefaultCrawlOptions(&opts, ce.cfg)

	state := &model.CrawlState{
		ID:        id,
		RootURL:   rootURL,
		Phase:     model.CrawlCreated,
		Options:   opts,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	ctrl := crawlctl.New(state, ce.queue, ce.robots, ce.cfg.Scraper.UserAgent, ce.logger)
	ce.registry.Put(ctrl)

	if err := ctrl.Start(ctx); err != nil {
		return state, err
	}
	return state, nil
}

// Cancel requests cancellation of a running crawl.
func (ce *CrawlEngine) Cancel(ctx context.Context, id string) (*model.CrawlState, bool) {
	ctrl, ok := ce.registry.Get(id)
	if !ok {
		return nil, false
	}
	_ = ctrl.Cancel(ctx)
	snap := ctrl.Snapshot()
	return &snap, true
}

// Status returns a snapshot of a crawl's current state.
func (ce *CrawlEngine) Status(id string) (*model.CrawlState, bool) {
	ctrl, ok := ce.registry.Get(id)
	if !ok {
		return nil, false
	}
	snap := ctrl.Snapshot()
	return &snap, true
}

func applyDefaultCrawlOptions(opts *model.CrawlOptions, cfg *config.Config) {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = cfg.Crawler.MaxDepthDefault
	}
	if opts.Limit <= 0 {
		opts.Limit = cfg.Crawler.MaxPagesDefault
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = cfg.Crawler.MaxConcurrencyDefault
	}
}
