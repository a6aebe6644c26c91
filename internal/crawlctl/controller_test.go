package crawlctl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"scrapeforge/internal/jobqueue"
	"scrapeforge/internal/model"
)

func newTestController(t *testing.T, opts model.CrawlOptions) (*Controller, *jobqueue.Queue) {
	t.Helper()
	q := jobqueue.New(jobqueue.Backoff{}, nil)
	state := &model.CrawlState{
		ID:      "crawl-1",
		RootURL: "https://example.com/blog",
		Phase:   model.CrawlCreated,
		Options: opts,
	}
	c := New(state, q, nil, "scrapeforge-test/1.0", nil)
	c.rootHost = "example.com"
	c.rootPath = "/blog"
	return c, q
}

func TestStartSeedsFrontierAndEnqueuesRoot(t *testing.T) {
	c, q := newTestController(t, model.CrawlOptions{IgnoreSitemap: true, Limit: 10, MaxConcurrency: 5})

	require.NoError(t, c.Start(context.Background()))

	require.Equal(t, model.CrawlActive, c.State.Phase)
	require.Equal(t, 1, c.State.Queued)
	require.Equal(t, 1, c.State.InFlight)

	leased, ok := q.Lease(context.Background(), "worker-1", 60*time.Second)
	require.True(t, ok)
	require.Equal(t, "https://example.com/blog", leased.URL)
}

func TestOnPageCompleteEnqueuesDiscoveredLinks(t *testing.T) {
	c, q := newTestController(t, model.CrawlOptions{IgnoreSitemap: true, Limit: 10, MaxConcurrency: 5})
	require.NoError(t, c.Start(context.Background()))

	job, ok := q.Lease(context.Background(), "worker-1", 60*time.Second)
	require.True(t, ok)

	doc := &model.Document{}
	c.OnPageComplete(context.Background(), job, doc, []string{"https://example.com/blog/post-1"}, nil)

	require.Equal(t, 1, c.State.Completed)
	require.Equal(t, 2, c.State.Queued, "the newly discovered link must be enqueued")
}

func TestOnPageCompleteRejectsExternalLinks(t *testing.T) {
	c, q := newTestController(t, model.CrawlOptions{IgnoreSitemap: true, Limit: 10, MaxConcurrency: 5})
	require.NoError(t, c.Start(context.Background()))

	job, ok := q.Lease(context.Background(), "worker-1", 60*time.Second)
	require.True(t, ok)

	doc := &model.Document{}
	c.OnPageComplete(context.Background(), job, doc, []string{"https://evil.com/offsite"}, nil)

	require.Equal(t, 1, c.State.Queued, "an external link must not be admitted without AllowExternal")
}

func TestOnPageCompleteRecordsFailure(t *testing.T) {
	c, q := newTestController(t, model.CrawlOptions{IgnoreSitemap: true, Limit: 10, MaxConcurrency: 5})
	require.NoError(t, c.Start(context.Background()))

	job, ok := q.Lease(context.Background(), "worker-1", 60*time.Second)
	require.True(t, ok)

	c.OnPageComplete(context.Background(), job, nil, nil, errBoom{})

	require.Equal(t, 1, c.State.Failed)
	require.Equal(t, 0, c.State.Completed)
}

func TestOnPageCompleteReachesCompletedWhenFrontierDrains(t *testing.T) {
	c, q := newTestController(t, model.CrawlOptions{IgnoreSitemap: true, Limit: 10, MaxConcurrency: 5})
	require.NoError(t, c.Start(context.Background()))

	job, ok := q.Lease(context.Background(), "worker-1", 60*time.Second)
	require.True(t, ok)

	c.OnPageComplete(context.Background(), job, &model.Document{}, nil, nil)

	require.Equal(t, model.CrawlCompleted, c.State.Phase)
}

func TestCancelFlagsActiveJobsAndPreventsNewWork(t *testing.T) {
	c, q := newTestController(t, model.CrawlOptions{IgnoreSitemap: true, Limit: 10, MaxConcurrency: 5})
	require.NoError(t, c.Start(context.Background()))

	job, ok := q.Lease(context.Background(), "worker-1", 60*time.Second)
	require.True(t, ok)

	require.NoError(t, c.Cancel(context.Background()))
	require.Equal(t, model.CrawlCancelled, c.State.Phase)
	require.True(t, q.IsCancelled(job.ID))
}

func TestRegistryPutGetRemove(t *testing.T) {
	r := NewRegistry()
	c, _ := newTestController(t, model.CrawlOptions{})

	r.Put(c)
	got, ok := r.Get("crawl-1")
	require.True(t, ok)
	require.Same(t, c, got)

	r.Remove("crawl-1")
	_, ok = r.Get("crawl-1")
	require.False(t, ok)
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }
