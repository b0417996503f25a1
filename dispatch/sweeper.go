package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StrandedPolicy decides what the sweeper does with a job whose worker
// disappeared mid-flight.
type StrandedPolicy string

const (
	// PolicyRequeue returns stranded jobs to QUEUED for another attempt.
	// Safe only for idempotent stages; blob writes use deterministic keys,
	// so a re-run overwrites rather than duplicates.
	PolicyRequeue StrandedPolicy = "requeue"

	// PolicyFail marks stranded jobs FAILED and leaves retry to operators.
	PolicyFail StrandedPolicy = "fail"
)

// Sweeper recovers jobs stranded in RUNNING after a worker crash. A RUNNING
// row counts as stranded once its started_at is older than the lease; the
// lease must be longer than the slowest legitimate job.
type Sweeper struct {
	queue  *Queue
	store  *Store
	lease  time.Duration
	policy StrandedPolicy
	logger *zap.SugaredLogger
}

// NewSweeper creates a sweeper with the given lease and stranded policy.
func NewSweeper(queue *Queue, lease time.Duration, policy StrandedPolicy, logger *zap.SugaredLogger) *Sweeper {
	return &Sweeper{
		queue:  queue,
		store:  queue.Store(),
		lease:  lease,
		policy: policy,
		logger: logger.Named("sweeper"),
	}
}

// Sweep runs one pass and returns how many jobs it recovered. Each transition
// is conditional on the row still being RUNNING, so a worker that finishes
// between the list and the update is left alone.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	stranded, err := s.store.ListStranded(s.lease)
	if err != nil {
		return 0, err
	}
	if len(stranded) == 0 {
		return 0, nil
	}

	s.logger.Infow("Found stranded jobs",
		"count", len(stranded), "lease", s.lease, "policy", s.policy)

	recovered := 0
	for _, job := range stranded {
		select {
		case <-ctx.Done():
			return recovered, ctx.Err()
		default:
		}

		var applied bool
		switch s.policy {
		case PolicyFail:
			applied, err = s.store.FailStranded(job.ID, "worker lease expired")
		default:
			// Push before flipping the row. If the flip then fails, the row
			// stays RUNNING and the next sweep retries; the extra queue entry
			// is discarded by the claim check.
			if err = s.queue.Requeue(ctx, job); err == nil {
				applied, err = s.store.RequeueStranded(job.ID)
			}
		}
		if err != nil {
			s.logger.Errorw("Failed to recover stranded job", "job_id", job.ID, "error", err)
			continue
		}
		if !applied {
			continue
		}

		recovered++
		s.logger.Infow("Recovered stranded job",
			"job_id", job.ID, "type", job.Type, "worker_id", job.WorkerID, "policy", s.policy)
	}
	return recovered, nil
}

// Run sweeps on the given interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Errorw("Sweep pass failed", "error", err)
			}
		}
	}
}
