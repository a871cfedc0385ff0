package pipeline

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"digger/internal/logging"
	"digger/internal/store"
)

// Pool runs long-polling workers over the job queue. Each claimed entry is
// processed start-to-finish on one worker.
type Pool struct {
	store        *store.Store
	orchestrator *Orchestrator
	workers      int
	pollInterval time.Duration
}

// NewPool creates a worker pool. workers below 1 is coerced to 1; a zero
// pollInterval defaults to 5 seconds.
func NewPool(s *store.Store, o *Orchestrator, workers int, pollInterval time.Duration) *Pool {
	if workers < 1 {
		workers = 1
	}
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Pool{store: s, orchestrator: o, workers: workers, pollInterval: pollInterval}
}

// Run blocks until ctx is done, polling the queue with p.workers workers.
func (p *Pool) Run(ctx context.Context) error {
	log := logging.L(logging.CategoryWorker)
	log.Infow("worker pool starting", "workers", p.workers, "poll_interval", p.pollInterval)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		id := i
		g.Go(func() error {
			return p.loop(ctx, id)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Pool) loop(ctx context.Context, workerID int) error {
	log := logging.L(logging.CategoryWorker)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		entry, err := p.store.ClaimNext()
		if err != nil {
			log.Warnw("claim failed", "worker", workerID, "error", err)
			entry = nil
		}
		if entry == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.pollInterval):
			}
			continue
		}

		log.Infow("claimed entry", "worker", workerID, "entry_id", entry.ID, "job_id", entry.JobID)
		err = p.orchestrator.Process(ctx, entry.JobID)
		switch {
		case err == nil:
			if err := p.store.CompleteEntry(entry.ID); err != nil {
				log.Warnw("failed to complete entry", "entry_id", entry.ID, "error", err)
			}
		case errors.Is(err, ErrCancelled):
			if err := p.store.FailEntry(entry.ID, "User Cancelled"); err != nil {
				log.Warnw("failed to fail entry", "entry_id", entry.ID, "error", err)
			}
		default:
			log.Errorw("job processing failed", "worker", workerID, "job_id", entry.JobID, "error", err)
			if err := p.store.FailEntry(entry.ID, err.Error()); err != nil {
				log.Warnw("failed to fail entry", "entry_id", entry.ID, "error", err)
			}
		}
	}
}
