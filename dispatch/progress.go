package dispatch

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ProgressTTL keeps progress records around long enough to outlive any
// single job, then lets redis clean them up.
const ProgressTTL = 24 * time.Hour

// ProgressSink receives advisory progress reports from a stage adapter.
// Reports are best-effort: consumers must tolerate missing or stale values,
// and a failed write never fails the job.
type ProgressSink interface {
	Report(pct int, msg string)
}

// redisProgressSink writes progress to the job:<id> hash. Only the worker
// that owns the claim holds a sink for the job.
type redisProgressSink struct {
	rdb    *redis.Client
	store  *Store
	jobID  string
	logger *zap.SugaredLogger
}

// NewProgressSink creates the sink the runtime hands to adapters for one
// job. The store may be nil; row mirroring is then skipped.
func NewProgressSink(rdb *redis.Client, store *Store, jobID string, logger *zap.SugaredLogger) ProgressSink {
	return &redisProgressSink{rdb: rdb, store: store, jobID: jobID, logger: logger}
}

func (s *redisProgressSink) Report(pct int, msg string) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := ProgressKey(s.jobID)
	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, key, "progress", pct)
	if msg != "" {
		pipe.HSet(ctx, key, "message", msg)
	}
	pipe.Expire(ctx, key, ProgressTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warnw("Failed to write progress record",
			"job_id", s.jobID, "progress", pct, "error", err)
	}

	if s.store != nil {
		if err := s.store.SetProgress(s.jobID, pct); err != nil {
			s.logger.Debugw("Failed to mirror progress to job row",
				"job_id", s.jobID, "error", err)
		}
	}
}

// ReadProgress fetches the advisory progress record for a job. Returns
// (0, "", nil) when no record exists.
func ReadProgress(ctx context.Context, rdb *redis.Client, jobID string) (int, string, error) {
	vals, err := rdb.HGetAll(ctx, ProgressKey(jobID)).Result()
	if err != nil {
		return 0, "", err
	}
	pct := 0
	if v, ok := vals["progress"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			pct = n
		}
	}
	return pct, vals["message"], nil
}
