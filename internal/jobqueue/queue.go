// Package jobqueue implements the durable priority Job Queue from
// spec.md §4.F: atomic enqueue, exclusive time-bounded leases, retry with
// exponential backoff, best-effort cancellation, and progress subscription.
//
// The queue keeps an in-memory priority heap (O(log n) lease selection)
// mirroring a durable backing Store; Store writes happen synchronously on
// every state transition so a process restart can rebuild the heap from
// persisted rows (see internal/store).
package jobqueue

import (
	"container/heap"
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"scrapeforge/internal/apperr"
	"scrapeforge/internal/model"
)

// Store persists job state so the queue survives process restarts. The
// in-process jobqueue.Queue is the sole writer; Store implementations
// (internal/store) must tolerate being called synchronously on the hot path.
type Store interface {
	SaveJob(ctx context.Context, job *model.Job) error
	LoadPendingJobs(ctx context.Context) ([]*model.Job, error)
}

// Backoff configures retry delay computation.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

func (b Backoff) delay(attempt int, jitter func() float64) time.Duration {
	d := float64(b.Base) * math.Pow(2, float64(attempt))
	if d > float64(b.Max) {
		d = float64(b.Max)
	}
	// Jitter in [0.5, 1.5) so retries from many failed jobs don't thunder.
	d *= 0.5 + jitter()
	return time.Duration(d)
}

// Queue is the in-memory priority queue backing the Job Queue contract.
type Queue struct {
	clock   clock.Clock
	backoff Backoff
	store   Store
	rand    func() float64

	mu       sync.Mutex
	heapData jobHeap
	byID     map[string]*model.Job
	cancelled map[string]struct{}

	subMu sync.Mutex
	subs  map[string][]chan model.ProgressEvent
}

// New builds a Queue. store may be nil for a purely in-memory queue (tests).
func New(backoff Backoff, store Store) *Queue {
	return &Queue{
		clock:     clock.New(),
		backoff:   backoff,
		store:     store,
		rand:      defaultRand,
		byID:      make(map[string]*model.Job),
		cancelled: make(map[string]struct{}),
		subs:      make(map[string][]chan model.ProgressEvent),
	}
}

// defaultRand draws the backoff jitter factor in [0, 1); tests that need
// exact delays can replace Queue.rand.
func defaultRand() float64 { return rand.Float64() }

// Restore loads pending jobs from the Store into the in-memory heap, for
// use at process startup.
func (q *Queue) Restore(ctx context.Context) error {
	if q.store == nil {
		return nil
	}
	jobs, err := q.store.LoadPendingJobs(ctx)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range jobs {
		q.byID[j.ID] = j
		heap.Push(&q.heapData, j)
	}
	return nil
}

// Enqueue atomically accepts a job, returning once it is durably recorded.
func (q *Queue) Enqueue(ctx context.Context, job *model.Job) error {
	if job.ID == "" {
		job.ID = newID()
	}
	now := q.clock.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	job.Status = model.JobPending
	if job.MaxAttempts == 0 {
		job.MaxAttempts = 3
	}

	q.mu.Lock()
	q.byID[job.ID] = job
	heap.Push(&q.heapData, job)
	q.mu.Unlock()

	return q.persist(ctx, job)
}

// Lease returns the highest-priority ready job and assigns an exclusive,
// time-bounded lease to workerID, or ok=false if none is ready.
func (q *Queue) Lease(ctx context.Context, workerID string, leaseDuration time.Duration) (*model.Job, bool) {
	now := q.clock.Now()

	q.mu.Lock()
	defer q.mu.Unlock()

	// Re-queue any job whose lease has expired (worker crash recovery).
	for _, j := range q.byID {
		if j.Status == model.JobLeased && now.After(j.LeaseUntil) {
			j.Status = model.JobPending
			j.LeaseOwner = ""
			heap.Push(&q.heapData, j)
		}
	}

	var deferred []*model.Job
	var picked *model.Job
	for q.heapData.Len() > 0 {
		j := heap.Pop(&q.heapData).(*model.Job)
		if j.Status != model.JobPending {
			continue // stale heap entry (already leased/completed elsewhere)
		}
		if j.NotBefore.After(now) {
			deferred = append(deferred, j)
			continue
		}
		picked = j
		break
	}
	for _, d := range deferred {
		heap.Push(&q.heapData, d)
	}
	if picked == nil {
		return nil, false
	}

	picked.Status = model.JobLeased
	picked.LeaseOwner = workerID
	picked.LeaseUntil = now.Add(leaseDuration)
	picked.UpdatedAt = now
	_ = q.persist(ctx, picked)
	return picked, true
}

// Complete releases the lease and marks the job done.
func (q *Queue) Complete(ctx context.Context, id string) error {
	q.mu.Lock()
	j, ok := q.byID[id]
	if !ok {
		q.mu.Unlock()
		return apperr.New(apperr.CodeNotFoundJob, id)
	}
	j.Status = model.JobDone
	j.UpdatedAt = q.clock.Now()
	q.mu.Unlock()

	q.publish(j, true)
	return q.persist(ctx, j)
}

// Fail records a failure. If retryable and attempts < maxAttempts, the job
// is re-enqueued with exponential backoff; otherwise it is marked failed.
func (q *Queue) Fail(ctx context.Context, id string, cause error, retryable bool) error {
	q.mu.Lock()
	j, ok := q.byID[id]
	if !ok {
		q.mu.Unlock()
		return apperr.New(apperr.CodeNotFoundJob, id)
	}

	j.Attempts++
	j.Error = cause.Error()
	now := q.clock.Now()
	j.UpdatedAt = now

	if retryable && j.Attempts < j.MaxAttempts {
		j.Status = model.JobPending
		j.NotBefore = now.Add(q.backoff.delay(j.Attempts, q.rand))
		heap.Push(&q.heapData, j)
	} else {
		j.Status = model.JobFailed
	}
	q.mu.Unlock()

	if j.Status == model.JobFailed {
		q.publish(j, true)
	}
	return q.persist(ctx, j)
}

// Cancel is best-effort: a queued job is removed immediately; an active
// job is flagged so the worker observes it at the next phase boundary.
func (q *Queue) Cancel(ctx context.Context, id string) error {
	q.mu.Lock()
	j, ok := q.byID[id]
	if !ok {
		q.mu.Unlock()
		return apperr.New(apperr.CodeNotFoundJob, id)
	}
	q.cancelled[id] = struct{}{}
	if j.Status == model.JobPending {
		j.Status = model.JobCancelled
	}
	now := q.clock.Now()
	j.UpdatedAt = now
	q.mu.Unlock()

	if j.Status == model.JobCancelled {
		q.publish(j, true)
		return q.persist(ctx, j)
	}
	return nil
}

// IsCancelled reports whether id has been requested for cancellation,
// checked by workers between processing phases.
func (q *Queue) IsCancelled(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.cancelled[id]
	return ok
}

// MarkCancelledDone transitions an active job to the terminal Cancelled
// state once the worker observes the flag, per spec.md §4.G.
func (q *Queue) MarkCancelledDone(ctx context.Context, id string) error {
	q.mu.Lock()
	j, ok := q.byID[id]
	if !ok {
		q.mu.Unlock()
		return apperr.New(apperr.CodeNotFoundJob, id)
	}
	j.Status = model.JobCancelled
	j.UpdatedAt = q.clock.Now()
	q.mu.Unlock()

	q.publish(j, true)
	return q.persist(ctx, j)
}

// Get returns the job by id.
func (q *Queue) Get(id string) (*model.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.byID[id]
	return j, ok
}

// Subscribe returns a channel of progress events for jobID until a
// terminal event is delivered, after which the channel is closed. If the
// job is already terminal, the channel carries one terminal event built
// from the job's current in-memory state and is then closed.
func (q *Queue) Subscribe(jobID string) <-chan model.ProgressEvent {
	ch := make(chan model.ProgressEvent, 16)
	q.subMu.Lock()
	defer q.subMu.Unlock()
	q.mu.Lock()
	j, ok := q.byID[jobID]
	terminal := ok && (j.Status == model.JobDone || j.Status == model.JobFailed || j.Status == model.JobCancelled)
	var ev model.ProgressEvent
	if terminal {
		ev = model.ProgressEvent{CrawlID: j.CrawlID, JobID: j.ID, URL: j.URL, Status: j.Status, Terminal: true, Error: j.Error}
	}
	q.mu.Unlock()
	if terminal {
		ch <- ev
		close(ch)
		return ch
	}
	q.subs[jobID] = append(q.subs[jobID], ch)
	return ch
}

// Publish delivers a progress event to jobID's subscribers (used by the
// Crawl Controller as pages complete, not only by the queue itself).
func (q *Queue) Publish(ev model.ProgressEvent) {
	q.subMu.Lock()
	defer q.subMu.Unlock()
	chans := q.subs[ev.JobID]
	for _, ch := range chans {
		select {
		case ch <- ev:
		default:
		}
		if ev.Terminal {
			close(ch)
		}
	}
	if ev.Terminal {
		delete(q.subs, ev.JobID)
	}
}

func (q *Queue) publish(j *model.Job, terminal bool) {
	q.Publish(model.ProgressEvent{
		CrawlID:  j.CrawlID,
		JobID:    j.ID,
		URL:      j.URL,
		Status:   j.Status,
		Terminal: terminal,
		Error:    j.Error,
	})
}

func (q *Queue) persist(ctx context.Context, j *model.Job) error {
	if q.store == nil {
		return nil
	}
	return q.store.SaveJob(ctx, j)
}

func newID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// jobHeap implements container/heap.Interface ordered by (priority asc,
// createdAt asc) so lower-priority-number jobs lease first, FIFO within a
// priority tier, per spec.md §4.F.
type jobHeap []*model.Job

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].CreatedAt.Before(h[j].CreatedAt)
}
func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x any)   { *h = append(*h, x.(*model.Job)) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
