// Package worker implements the bounded-concurrency Worker Pool from
// spec.md §4.G: a fixed number of concurrent workers per process, each
// looping lease -> execute -> complete/fail, admitted through nested
// global/tenant/crawl semaphores and a per-host politeness rate limiter.
package worker

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"scrapeforge/internal/jobqueue"
	"scrapeforge/internal/metrics"
	"scrapeforge/internal/model"
)

// Handler executes one leased job's work (fetch + content pipeline for a
// scrape or crawlPage job) and reports whether the error is retryable.
type Handler func(ctx context.Context, job *model.Job) (retryable bool, err error)

// Limits configures the three nested concurrency caps from spec.md §4.G.
type Limits struct {
	Global int
	Tenant int
	Crawl  int
}

// Pool runs a fixed set of worker loops against a jobqueue.Queue.
type Pool struct {
	queue        *jobqueue.Queue
	handler      Handler
	logger       *slog.Logger
	limits       Limits
	leaseFor     time.Duration
	pollInterval time.Duration

	globalSem chan struct{}

	semMu     sync.Mutex
	tenantSem map[string]chan struct{}
	crawlSem  map[string]chan struct{}

	hostMu       sync.Mutex
	hostLimiters map[string]*rate.Limiter
	politeness   time.Duration
}

// New builds a Pool. politeness, when > 0, enforces a minimum delay between
// requests to the same host across the whole pool.
func New(queue *jobqueue.Queue, handler Handler, logger *slog.Logger, limits Limits, leaseFor, pollInterval, politeness time.Duration) *Pool {
	return &Pool{
		queue:        queue,
		handler:      handler,
		logger:       logger,
		limits:       limits,
		leaseFor:     leaseFor,
		pollInterval: pollInterval,
		globalSem:    make(chan struct{}, limits.Global),
		tenantSem:    make(map[string]chan struct{}),
		crawlSem:     make(map[string]chan struct{}),
		hostLimiters: make(map[string]*rate.Limiter),
		politeness:   politeness,
	}
}

// Run starts n worker loops and blocks until ctx is cancelled. The loops
// then stop leasing, and Run returns once the jobs they are already running
// have returned; those handlers run with the same, now cancelled, ctx.
// Jobs still queued are left in the queue.
func (p *Pool) Run(ctx context.Context, n int) {
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		id := i
		go func() {
			p.loop(ctx, workerID(id))
			done <- struct{}{}
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}
}

func workerID(i int) string {
	return "worker-" + itoa(i)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	digits := []byte{}
	for i > 0 {
		digits = append([]byte{byte('0' + i%10)}, digits...)
		i /= 10
	}
	return string(digits)
}

func (p *Pool) loop(ctx context.Context, id string) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		job, ok := p.queue.Lease(ctx, id, p.leaseFor)
		if !ok {
			continue
		}

		p.admitAndRun(ctx, id, job)
	}
}

func (p *Pool) admitAndRun(ctx context.Context, workerID string, job *model.Job) {
	release := p.acquire(job)
	defer release()

	metrics.RecordJobLeased(kindOf(job))

	p.waitPoliteness(ctx, job.URL)

	if p.queue.IsCancelled(job.ID) {
		_ = p.queue.MarkCancelledDone(ctx, job.ID)
		return
	}

	retryable, err := p.handler(ctx, job)

	if p.queue.IsCancelled(job.ID) {
		_ = p.queue.MarkCancelledDone(ctx, job.ID)
		return
	}

	if err != nil {
		if ferr := p.queue.Fail(ctx, job.ID, err, retryable); ferr != nil && p.logger != nil {
			p.logger.Error("job fail record failed", "job_id", job.ID, "err", ferr)
		}
		if !retryable {
			metrics.RecordJobFailed(kindOf(job))
		}
		return
	}
	if cerr := p.queue.Complete(ctx, job.ID); cerr != nil && p.logger != nil {
		p.logger.Error("job complete record failed", "job_id", job.ID, "err", cerr)
	}
}

// kindOf labels a job for metrics, preferring the explicit Kind and
// falling back to the crawl-id heuristic for jobs that predate it.
func kindOf(job *model.Job) string {
	if job.Kind != "" {
		return string(job.Kind)
	}
	if job.CrawlID == "" {
		return "scrape"
	}
	return "crawlPage"
}

// acquire takes global -> tenant -> crawl semaphores in order and returns a
// release func that releases them in reverse order.
func (p *Pool) acquire(job *model.Job) func() {
	p.globalSem <- struct{}{}

	tenantSem := p.semFor(p.tenantSem, job.TenantID, p.limits.Tenant)
	tenantSem <- struct{}{}

	crawlSem := p.semFor(p.crawlSem, job.CrawlID, p.limits.Crawl)
	crawlSem <- struct{}{}

	return func() {
		<-crawlSem
		<-tenantSem
		<-p.globalSem
	}
}

func (p *Pool) semFor(m map[string]chan struct{}, key string, n int) chan struct{} {
	if key == "" {
		key = "_default"
	}
	if n <= 0 {
		n = 1
	}
	p.semMu.Lock()
	defer p.semMu.Unlock()
	if sem, ok := m[key]; ok {
		return sem
	}
	sem := make(chan struct{}, n)
	m[key] = sem
	return sem
}

func (p *Pool) waitPoliteness(ctx context.Context, rawURL string) {
	if p.politeness <= 0 {
		return
	}
	host := hostOf(rawURL)
	if host == "" {
		return
	}
	p.hostMu.Lock()
	limiter, ok := p.hostLimiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(p.politeness), 1)
		p.hostLimiters[host] = limiter
	}
	p.hostMu.Unlock()
	_ = limiter.Wait(ctx)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
