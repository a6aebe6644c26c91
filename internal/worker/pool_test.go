package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"scrapeforge/internal/jobqueue"
	"scrapeforge/internal/model"
)

func newTestQueue() *jobqueue.Queue {
	return jobqueue.New(jobqueue.Backoff{Base: time.Millisecond, Max: time.Second}, nil)
}

func TestPoolRunsHandlerAndCompletesJob(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, &model.Job{ID: "a", URL: "https://example.com/a"}))

	var called int32
	handler := func(_ context.Context, job *model.Job) (bool, error) {
		atomic.AddInt32(&called, 1)
		require.Equal(t, "a", job.ID)
		return false, nil
	}

	p := New(q, handler, nil, Limits{Global: 2, Tenant: 2, Crawl: 2}, time.Second, time.Millisecond, 0)

	runCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	p.Run(runCtx, 2)

	require.Equal(t, int32(1), atomic.LoadInt32(&called))
	j, _ := q.Get("a")
	require.Equal(t, model.JobDone, j.Status)
}

func TestPoolRetriesOnRetryableFailure(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, &model.Job{ID: "a", URL: "https://example.com/a", MaxAttempts: 5}))

	var attempts int32
	handler := func(_ context.Context, job *model.Job) (bool, error) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 2 {
			return true, errors.New("transient")
		}
		return false, nil
	}

	p := New(q, handler, nil, Limits{Global: 1, Tenant: 1, Crawl: 1}, time.Second, time.Millisecond, 0)
	runCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	p.Run(runCtx, 1)

	require.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(2))
	j, _ := q.Get("a")
	require.Equal(t, model.JobDone, j.Status)
}

func TestPoolNeverLeasesJobCancelledWhilePending(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, &model.Job{ID: "a", URL: "https://example.com/a"}))
	require.NoError(t, q.Cancel(ctx, "a"))

	called := false
	handler := func(_ context.Context, job *model.Job) (bool, error) {
		called = true
		return false, nil
	}

	p := New(q, handler, nil, Limits{Global: 1, Tenant: 1, Crawl: 1}, time.Second, time.Millisecond, 0)
	runCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	p.Run(runCtx, 1)

	// A job cancelled while still pending is already terminal, so Lease
	// never hands it to a worker at all.
	require.False(t, called)
}

func TestAcquireEnforcesGlobalConcurrencyLimit(t *testing.T) {
	p := New(newTestQueue(), nil, nil, Limits{Global: 1, Tenant: 5, Crawl: 5}, time.Second, time.Millisecond, 0)

	release1 := p.acquire(&model.Job{ID: "1", TenantID: "t1", CrawlID: "c1"})

	acquired := make(chan struct{})
	go func() {
		release2 := p.acquire(&model.Job{ID: "2", TenantID: "t1", CrawlID: "c1"})
		close(acquired)
		release2()
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire must block while the global semaphore is held")
	case <-time.After(50 * time.Millisecond):
	}

	release1()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire should unblock once the first releases")
	}
}

func TestSemForReusesSameChannelPerKey(t *testing.T) {
	p := New(newTestQueue(), nil, nil, Limits{}, time.Second, time.Millisecond, 0)

	m := make(map[string]chan struct{})
	a := p.semFor(m, "tenant-1", 3)
	b := p.semFor(m, "tenant-1", 3)
	require.Same(t, a, b)

	c := p.semFor(m, "tenant-2", 3)
	require.NotSame(t, a, c)
}

func TestKindOfLabelsScrapeVsCrawlPage(t *testing.T) {
	require.Equal(t, "scrape", kindOf(&model.Job{}))
	require.Equal(t, "crawlPage", kindOf(&model.Job{CrawlID: "crawl-1"}))
}

func TestWaitPolitenessSerializesSameHostRequests(t *testing.T) {
	p := New(newTestQueue(), nil, nil, Limits{}, time.Second, time.Millisecond, 50*time.Millisecond)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p.waitPoliteness(context.Background(), "https://example.com/page")
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	require.Len(t, order, 2, "both calls must eventually complete despite the shared host limiter")
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond, "the second same-host call must wait out the politeness delay")
}
