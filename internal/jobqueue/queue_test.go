package jobqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"scrapeforge/internal/model"
)

type fakeStore struct {
	saved map[string]*model.Job
}

func newFakeStore() *fakeStore {
	return &fakeStore{saved: make(map[string]*model.Job)}
}

func (s *fakeStore) SaveJob(_ context.Context, job *model.Job) error {
	cp := *job
	s.saved[job.ID] = &cp
	return nil
}

func (s *fakeStore) LoadPendingJobs(_ context.Context) ([]*model.Job, error) {
	var out []*model.Job
	for _, j := range s.saved {
		if j.Status == model.JobPending {
			out = append(out, j)
		}
	}
	return out, nil
}

func newTestQueue(store Store) (*Queue, *clock.Mock) {
	q := New(Backoff{Base: time.Second, Max: time.Minute}, store)
	mock := clock.NewMock()
	q.clock = mock
	return q, mock
}

func TestEnqueueAndLeaseByPriority(t *testing.T) {
	q, _ := newTestQueue(nil)
	ctx := context.Background()

	low := &model.Job{ID: "low", URL: "https://example.com/low", Priority: 10}
	high := &model.Job{ID: "high", URL: "https://example.com/high", Priority: 1}
	require.NoError(t, q.Enqueue(ctx, low))
	require.NoError(t, q.Enqueue(ctx, high))

	leased, ok := q.Lease(ctx, "worker-1", time.Minute)
	require.True(t, ok)
	require.Equal(t, "high", leased.ID, "lower priority number must lease first")
	require.Equal(t, model.JobLeased, leased.Status)
}

func TestLeaseFIFOWithinSamePriority(t *testing.T) {
	q, mock := newTestQueue(nil)
	ctx := context.Background()

	first := &model.Job{ID: "a", URL: "https://example.com/a", Priority: 5}
	require.NoError(t, q.Enqueue(ctx, first))
	mock.Add(time.Millisecond)
	second := &model.Job{ID: "b", URL: "https://example.com/b", Priority: 5}
	require.NoError(t, q.Enqueue(ctx, second))

	leased, ok := q.Lease(ctx, "worker-1", time.Minute)
	require.True(t, ok)
	require.Equal(t, "a", leased.ID)
}

func TestLeaseReturnsFalseWhenEmpty(t *testing.T) {
	q, _ := newTestQueue(nil)
	_, ok := q.Lease(context.Background(), "worker-1", time.Minute)
	require.False(t, ok)
}

func TestExpiredLeaseIsReclaimed(t *testing.T) {
	q, mock := newTestQueue(nil)
	ctx := context.Background()

	job := &model.Job{ID: "a", URL: "https://example.com/a"}
	require.NoError(t, q.Enqueue(ctx, job))

	_, ok := q.Lease(ctx, "worker-1", time.Second)
	require.True(t, ok)

	// No second job is ready while the lease is live.
	_, ok = q.Lease(ctx, "worker-2", time.Second)
	require.False(t, ok)

	mock.Add(2 * time.Second)

	reclaimed, ok := q.Lease(ctx, "worker-2", time.Second)
	require.True(t, ok)
	require.Equal(t, "a", reclaimed.ID)
	require.Equal(t, "worker-2", reclaimed.LeaseOwner)
}

func TestFailRetriesWithBackoffThenFails(t *testing.T) {
	q, mock := newTestQueue(nil)
	ctx := context.Background()

	job := &model.Job{ID: "a", URL: "https://example.com/a", MaxAttempts: 2}
	require.NoError(t, q.Enqueue(ctx, job))

	leased, ok := q.Lease(ctx, "worker-1", time.Minute)
	require.True(t, ok)

	require.NoError(t, q.Fail(ctx, leased.ID, errors.New("boom"), true))
	j, _ := q.Get("a")
	require.Equal(t, model.JobPending, j.Status, "first retryable failure re-queues the job")
	require.Equal(t, 1, j.Attempts)

	// Not yet ready: NotBefore is in the future.
	_, ok = q.Lease(ctx, "worker-2", time.Minute)
	require.False(t, ok)

	mock.Add(time.Minute)
	leased2, ok := q.Lease(ctx, "worker-2", time.Minute)
	require.True(t, ok)

	require.NoError(t, q.Fail(ctx, leased2.ID, errors.New("boom again"), true))
	j, _ = q.Get("a")
	require.Equal(t, model.JobFailed, j.Status, "exhausting MaxAttempts must be terminal")
}

func TestFailNonRetryableIsTerminal(t *testing.T) {
	q, _ := newTestQueue(nil)
	ctx := context.Background()

	job := &model.Job{ID: "a", URL: "https://example.com/a", MaxAttempts: 5}
	require.NoError(t, q.Enqueue(ctx, job))
	leased, _ := q.Lease(ctx, "worker-1", time.Minute)

	require.NoError(t, q.Fail(ctx, leased.ID, errors.New("fatal"), false))
	j, _ := q.Get("a")
	require.Equal(t, model.JobFailed, j.Status)
}

func TestCompletePublishesTerminalEvent(t *testing.T) {
	q, _ := newTestQueue(nil)
	ctx := context.Background()

	job := &model.Job{ID: "a", URL: "https://example.com/a"}
	require.NoError(t, q.Enqueue(ctx, job))
	sub := q.Subscribe("a")

	require.NoError(t, q.Complete(ctx, "a"))

	ev, ok := <-sub
	require.True(t, ok)
	require.True(t, ev.Terminal)
	require.Equal(t, model.JobDone, ev.Status)

	_, ok = <-sub
	require.False(t, ok, "channel must close after a terminal event")
}

func TestCancelPendingJobIsImmediate(t *testing.T) {
	q, _ := newTestQueue(nil)
	ctx := context.Background()

	job := &model.Job{ID: "a", URL: "https://example.com/a"}
	require.NoError(t, q.Enqueue(ctx, job))

	require.NoError(t, q.Cancel(ctx, "a"))
	j, _ := q.Get("a")
	require.Equal(t, model.JobCancelled, j.Status)
	require.True(t, q.IsCancelled("a"))
}

func TestCancelActiveJobIsFlaggedNotImmediate(t *testing.T) {
	q, _ := newTestQueue(nil)
	ctx := context.Background()

	job := &model.Job{ID: "a", URL: "https://example.com/a"}
	require.NoError(t, q.Enqueue(ctx, job))
	q.Lease(ctx, "worker-1", time.Minute)

	require.NoError(t, q.Cancel(ctx, "a"))
	j, _ := q.Get("a")
	require.Equal(t, model.JobLeased, j.Status, "an active job stays leased until the worker observes cancellation")
	require.True(t, q.IsCancelled("a"))

	require.NoError(t, q.MarkCancelledDone(ctx, "a"))
	j, _ = q.Get("a")
	require.Equal(t, model.JobCancelled, j.Status)
}

func TestEnqueuePersistsToStore(t *testing.T) {
	store := newFakeStore()
	q, _ := newTestQueue(store)
	ctx := context.Background()

	job := &model.Job{ID: "a", URL: "https://example.com/a"}
	require.NoError(t, q.Enqueue(ctx, job))

	saved, ok := store.saved["a"]
	require.True(t, ok)
	require.Equal(t, model.JobPending, saved.Status)
}

func TestRestoreRebuildsHeapFromStore(t *testing.T) {
	store := newFakeStore()
	store.saved["a"] = &model.Job{ID: "a", URL: "https://example.com/a", Status: model.JobPending}

	q, _ := newTestQueue(store)
	require.NoError(t, q.Restore(context.Background()))

	leased, ok := q.Lease(context.Background(), "worker-1", time.Minute)
	require.True(t, ok)
	require.Equal(t, "a", leased.ID)
}

func TestOperationsOnUnknownJobReturnNotFound(t *testing.T) {
	q, _ := newTestQueue(nil)
	ctx := context.Background()

	require.Error(t, q.Complete(ctx, "missing"))
	require.Error(t, q.Fail(ctx, "missing", errors.New("x"), true))
	require.Error(t, q.Cancel(ctx, "missing"))
	require.Error(t, q.MarkCancelledDone(ctx, "missing"))
}
