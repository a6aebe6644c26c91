// Package store persists jobs, crawls, and documents to Postgres. There is
// no sqlc-generated layer here — the queries below are hand-written and
// driven through database/sql via the pgx stdlib driver, since the
// generator that produced the teacher's internal/db package is not
// available in this environment.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"scrapeforge/internal/apperr"
	"scrapeforge/internal/model"
)

// Store wraps a *sql.DB opened against the pgx stdlib driver.
type Store struct {
	db *sql.DB
}

// Open opens a Postgres connection pool using dsn (a pgx-compatible
// connection string) and verifies connectivity with a ping.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an already-open *sql.DB, for callers that manage the pool
// themselves (tests, cmd wiring that also runs migrations on the same handle).
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the underlying connection is reachable, for the deep
// health check endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveJob upserts a job row, implementing jobqueue.Store.
func (s *Store) SaveJob(ctx context.Context, job *model.Job) error {
	optsJSON, err := json.Marshal(job.Options)
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "marshal job options", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (
			id, kind, crawl_id, tenant_id, url, depth, priority, status, attempts,
			max_attempts, lease_owner, lease_until, not_before, created_at,
			updated_at, error, options
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			attempts = EXCLUDED.attempts,
			lease_owner = EXCLUDED.lease_owner,
			lease_until = EXCLUDED.lease_until,
			not_before = EXCLUDED.not_before,
			updated_at = EXCLUDED.updated_at,
			error = EXCLUDED.error
	`,
		job.ID, nullableJobKind(job.Kind), nullableString(job.CrawlID), nullableString(job.TenantID), job.URL,
		job.Depth, job.Priority, string(job.Status), job.Attempts, job.MaxAttempts,
		nullableString(job.LeaseOwner), nullableTime(job.LeaseUntil), nullableTime(job.NotBefore),
		job.CreatedAt, job.UpdatedAt, nullableString(job.Error), optsJSON,
	)
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "save job", err)
	}
	return nil
}

// LoadPendingJobs returns all jobs not yet in a terminal state, for
// rebuilding the in-memory Job Queue heap at startup.
func (s *Store) LoadPendingJobs(ctx context.Context) ([]*model.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, crawl_id, tenant_id, url, depth, priority, status, attempts,
			max_attempts, lease_owner, lease_until, not_before, created_at,
			updated_at, error, options
		FROM jobs
		WHERE status IN ('pending', 'leased')
	`)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "load pending jobs", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		j := &model.Job{}
		var kind, crawlID, tenantID, leaseOwner, jobErr sql.NullString
		var leaseUntil, notBefore sql.NullTime
		var status string
		var optsJSON []byte
		if err := rows.Scan(
			&j.ID, &kind, &crawlID, &tenantID, &j.URL, &j.Depth, &j.Priority, &status,
			&j.Attempts, &j.MaxAttempts, &leaseOwner, &leaseUntil, &notBefore,
			&j.CreatedAt, &j.UpdatedAt, &jobErr, &optsJSON,
		); err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal, "scan job row", err)
		}
		j.Kind = model.JobKind(kind.String)
		j.CrawlID = crawlID.String
		j.TenantID = tenantID.String
		j.LeaseOwner = leaseOwner.String
		j.LeaseUntil = leaseUntil.Time
		j.NotBefore = notBefore.Time
		j.Status = model.JobStatus(status)
		j.Error = jobErr.String
		if len(optsJSON) > 0 {
			_ = json.Unmarshal(optsJSON, &j.Options)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func nullableJobKind(k model.JobKind) any {
	if k == "" {
		return nil
	}
	return string(k)
}

// CrawlRecord is the row shape of spec.md's crawl persistence layout:
// {id, tenantId, root, options, status, counters, startedAt, finishedAt}.
type CrawlRecord struct {
	ID         string
	TenantID   string
	Root       string
	Options    model.CrawlOptions
	Status     model.CrawlPhase
	Queued     int
	InFlight   int
	Completed  int
	Failed     int
	StartedAt  time.Time
	FinishedAt sql.NullTime
	Error      string
}

// SaveCrawl upserts a crawl record from the live CrawlState.
func (s *Store) SaveCrawl(ctx context.Context, state *model.CrawlState) error {
	optsJSON, err := json.Marshal(state.Options)
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "marshal crawl options", err)
	}

	var finishedAt any
	if isTerminalCrawlPhase(state.Phase) {
		finishedAt = state.UpdatedAt
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO crawls (
			id, tenant_id, root_url, options, status, queued, in_flight,
			completed, failed, started_at, finished_at, error
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			queued = EXCLUDED.queued,
			in_flight = EXCLUDED.in_flight,
			completed = EXCLUDED.completed,
			failed = EXCLUDED.failed,
			finished_at = EXCLUDED.finished_at,
			error = EXCLUDED.error
	`,
		state.ID, nullableString(state.TenantID), state.RootURL, optsJSON, string(state.Phase),
		state.Queued, state.InFlight, state.Completed, state.Failed,
		state.CreatedAt, finishedAt, nullableString(state.Error),
	)
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "save crawl", err)
	}
	return nil
}

func isTerminalCrawlPhase(p model.CrawlPhase) bool {
	return p == model.CrawlCompleted || p == model.CrawlCancelled || p == model.CrawlFailed
}

// LoadCrawl returns a crawl record by id, or apperr.CodeNotFoundJob if absent.
func (s *Store) LoadCrawl(ctx context.Context, id string) (*CrawlRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, root_url, options, status, queued, in_flight,
			completed, failed, started_at, finished_at, error
		FROM crawls WHERE id = $1
	`, id)

	rec := &CrawlRecord{}
	var tenantID, jobErr sql.NullString
	var optsJSON []byte
	var status string
	if err := row.Scan(
		&rec.ID, &tenantID, &rec.Root, &optsJSON, &status, &rec.Queued, &rec.InFlight,
		&rec.Completed, &rec.Failed, &rec.StartedAt, &rec.FinishedAt, &jobErr,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.CodeNotFoundJob, id)
		}
		return nil, apperr.Wrap(apperr.CodeInternal, "load crawl", err)
	}
	rec.TenantID = tenantID.String
	rec.Status = model.CrawlPhase(status)
	rec.Error = jobErr.String
	_ = json.Unmarshal(optsJSON, &rec.Options)
	return rec, nil
}

// AppendCompletedDocument records crawlID's next document sequence number
// and stores the document blob keyed by (crawlId, docSequence), per spec.md's
// append-only completed-document-id list.
func (s *Store) AppendCompletedDocument(ctx context.Context, crawlID, sourceURL string, doc *model.Document) (int64, error) {
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeInternal, "marshal document", err)
	}

	var seq int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO crawl_documents (crawl_id, doc_sequence, source_url, document, fetched_at)
		VALUES ($1, (SELECT COALESCE(MAX(doc_sequence), 0) + 1 FROM crawl_documents WHERE crawl_id = $1), $2, $3, $4)
		RETURNING doc_sequence
	`, crawlID, sourceURL, docJSON, doc.FetchedAt).Scan(&seq)
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeInternal, "append completed document", err)
	}
	return seq, nil
}

// CrawlStatusPageSize is the default number of documents ListCompletedDocuments
// returns per page, backing spec.md §6's "data is paginated via next".
const CrawlStatusPageSize = 100

// ListCompletedDocuments returns up to pageSize documents stored for a
// crawl with doc_sequence > afterSequence, in sequence order, plus the
// cursor to pass back in as afterSequence for the next page (0 once no
// documents remain). pageSize <= 0 uses CrawlStatusPageSize.
func (s *Store) ListCompletedDocuments(ctx context.Context, crawlID string, afterSequence int64, pageSize int) ([]*model.Document, int64, error) {
	if pageSize <= 0 {
		pageSize = CrawlStatusPageSize
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT document, doc_sequence FROM crawl_documents
		WHERE crawl_id = $1 AND doc_sequence > $2
		ORDER BY doc_sequence ASC
		LIMIT $3
	`, crawlID, afterSequence, pageSize+1)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.CodeInternal, "list completed documents", err)
	}
	defer rows.Close()

	var docs []*model.Document
	var seqs []int64
	for rows.Next() {
		var raw []byte
		var seq int64
		if err := rows.Scan(&raw, &seq); err != nil {
			return nil, 0, apperr.Wrap(apperr.CodeInternal, "scan document row", err)
		}
		var doc model.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, 0, apperr.Wrap(apperr.CodeInternal, "unmarshal document", err)
		}
		docs = append(docs, &doc)
		seqs = append(seqs, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperr.Wrap(apperr.CodeInternal, "list completed documents", err)
	}

	var nextCursor int64
	if len(docs) > pageSize {
		docs = docs[:pageSize]
		nextCursor = seqs[pageSize-1]
	}
	return docs, nextCursor, nil
}

// DeleteJobsOlderThan deletes terminal jobs last updated before cutoff,
// returning the count removed, for the retention sweep.
func (s *Store) DeleteJobsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE status IN ('done', 'failed', 'cancelled') AND updated_at < $1
	`, cutoff)
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeInternal, "delete old jobs", err)
	}
	return res.RowsAffected()
}

// DeleteDocumentsOlderThan deletes crawl_documents rows older than cutoff,
// returning the count removed.
func (s *Store) DeleteDocumentsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM crawl_documents WHERE fetched_at < $1
	`, cutoff)
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeInternal, "delete old documents", err)
	}
	return res.RowsAffected()
}

// SaveScrapeDocument upserts the most recently fetched document for a
// canonical URL, backing ScrapeOptions.MaxAge's cache-serve path.
func (s *Store) SaveScrapeDocument(ctx context.Context, canonicalURL string, doc *model.Document) error {
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "marshal scrape document", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scrape_documents (canonical_url, document, fetched_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (canonical_url) DO UPDATE SET
			document = EXCLUDED.document,
			fetched_at = EXCLUDED.fetched_at
	`, canonicalURL, docJSON, doc.FetchedAt)
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "save scrape document", err)
	}
	return nil
}

// LoadScrapeDocument returns the stored document for canonicalURL if one
// exists and was fetched within maxAge of now, for ScrapeOptions.MaxAge.
// A miss (no row, or the row is too old) is not an error: ok is false.
func (s *Store) LoadScrapeDocument(ctx context.Context, canonicalURL string, maxAge time.Duration) (doc *model.Document, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT document, fetched_at FROM scrape_documents WHERE canonical_url = $1
	`, canonicalURL)

	var docJSON []byte
	var fetchedAt time.Time
	if scanErr := row.Scan(&docJSON, &fetchedAt); scanErr != nil {
		if errors.Is(scanErr, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, apperr.Wrap(apperr.CodeInternal, "load scrape document", scanErr)
	}

	if time.Since(fetchedAt) > maxAge {
		return nil, false, nil
	}

	var d model.Document
	if err := json.Unmarshal(docJSON, &d); err != nil {
		return nil, false, apperr.Wrap(apperr.CodeInternal, "unmarshal scrape document", err)
	}
	return &d, true, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
