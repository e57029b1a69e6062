// Package scheduler runs bounded sync passes over the connections that are due.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"familyhub/backend/internal/domain"
)

const (
	DefaultBatchLimit     = 50
	DefaultMaxConcurrency = 4
)

type DueSource interface {
	GetDueForSync(ctx context.Context, now time.Time, limit int) ([]domain.CalendarConnection, error)
}

type Syncer interface {
	SyncConnection(ctx context.Context, conn domain.CalendarConnection) domain.SyncSummary
}

type Config struct {
	BatchLimit     int
	MaxConcurrency int
}

// PassSummary aggregates one scheduler pass. Skipped counts due connections
// that were not started because the pass was cancelled.
type PassSummary struct {
	Due       int
	Attempted int
	Succeeded int
	Failed    int
	Skipped   int
	Summaries []domain.SyncSummary
}

type Scheduler struct {
	due    DueSource
	syncer Syncer
	cfg    Config
	now    func() time.Time
	log    *slog.Logger
}

func New(due DueSource, syncer Syncer, cfg Config, log *slog.Logger) *Scheduler {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = DefaultBatchLimit
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		due:    due,
		syncer: syncer,
		cfg:    cfg,
		now:    time.Now,
		log:    log.With(slog.String("component", "scheduler")),
	}
}

// RunDueSyncs syncs up to limit due connections, at most MaxConcurrency at a
// time. A limit <= 0 uses the configured batch limit. Failures of individual
// connections are reported in the summary; an error is returned only when
// the due set cannot be loaded.
//
// Once ctx is cancelled no further connection is started. Syncs already in
// flight run to completion, bounded by the syncer's provider timeouts.
func (s *Scheduler) RunDueSyncs(ctx context.Context, limit int) (PassSummary, error) {
	if limit <= 0 {
		limit = s.cfg.BatchLimit
	}
	started := s.now()

	due, err := s.due.GetDueForSync(ctx, started.UTC(), limit)
	if err != nil {
		return PassSummary{}, fmt.Errorf("load due connections: %w", err)
	}
	pass := PassSummary{Due: len(due)}
	if len(due) == 0 {
		return pass, nil
	}

	var (
		mu        sync.Mutex
		summaries = make([]domain.SyncSummary, 0, len(due))
		skipped   int
	)
	work := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(s.cfg.MaxConcurrency)
	for _, conn := range due {
		conn := conn
		if ctx.Err() != nil {
			mu.Lock()
			skipped++
			mu.Unlock()
			continue
		}
		// Go may block waiting for a free slot; cancellation during that
		// wait is checked again once the goroutine runs.
		g.Go(func() error {
			if ctx.Err() != nil {
				mu.Lock()
				skipped++
				mu.Unlock()
				return nil
			}
			summary := s.syncer.SyncConnection(work, conn)
			mu.Lock()
			summaries = append(summaries, summary)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	pass.Skipped = skipped

	pass.Summaries = summaries
	pass.Attempted = len(summaries)
	for _, sum := range summaries {
		if sum.Success {
			pass.Succeeded++
		} else {
			pass.Failed++
		}
	}

	s.log.Info("sync pass finished",
		slog.Int("due", pass.Due),
		slog.Int("succeeded", pass.Succeeded),
		slog.Int("failed", pass.Failed),
		slog.Int("skipped", pass.Skipped),
		slog.Duration("elapsed", s.now().Sub(started)),
	)
	return pass, nil
}
