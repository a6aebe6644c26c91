// Package retention runs the periodic TTL-based cleanup of terminal jobs
// and stored crawl documents described by the engine's RetentionConfig.
package retention

import (
	"context"
	"log/slog"
	"time"

	"scrapeforge/internal/config"
	"scrapeforge/internal/metrics"
	"scrapeforge/internal/store"
)

// Sweeper periodically deletes jobs and documents older than their
// configured TTL.
type Sweeper struct {
	store  *store.Store
	cfg    config.RetentionConfig
	logger *slog.Logger
}

// New builds a Sweeper. It is a no-op if cfg.Enabled is false.
func New(st *store.Store, cfg config.RetentionConfig, logger *slog.Logger) *Sweeper {
	return &Sweeper{store: st, cfg: cfg, logger: logger}
}

// Run blocks, sweeping on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		return
	}

	interval := time.Duration(s.cfg.CleanupIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	jobDays := s.cfg.Jobs.DefaultDays
	if jobDays <= 0 {
		jobDays = 30
	}
	jobCutoff := time.Now().Add(-time.Duration(jobDays) * 24 * time.Hour)
	deletedJobs, err := s.store.DeleteJobsOlderThan(ctx, jobCutoff)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("retention: delete old jobs failed", "err", err)
		}
	} else {
		metrics.RecordRetentionJobs("default", deletedJobs)
	}

	docDays := s.cfg.Documents.DefaultDays
	if docDays <= 0 {
		docDays = 30
	}
	docCutoff := time.Now().Add(-time.Duration(docDays) * 24 * time.Hour)
	deletedDocs, err := s.store.DeleteDocumentsOlderThan(ctx, docCutoff)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("retention: delete old documents failed", "err", err)
		}
	} else {
		metrics.RecordRetentionDocuments(deletedDocs)
	}
}
