package dispatch

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/voicepipe/voicepipe/errors"
)

// Queue couples the relational job rows with the redis id lists. Ids are
// pushed on the left and popped on the right, so each (type, priority) list
// is FIFO.
type Queue struct {
	rdb    *redis.Client
	store  *Store
	logger *zap.SugaredLogger
}

// NewQueue creates a queue over the given redis client and job store.
func NewQueue(rdb *redis.Client, store *Store, logger *zap.SugaredLogger) *Queue {
	return &Queue{rdb: rdb, store: store, logger: logger}
}

// Store exposes the underlying job store.
func (q *Queue) Store() *Store {
	return q.store
}

// Enqueue inserts the QUEUED row and appends the job id to its
// (type, priority) list. If the push fails the row is deleted again so the
// two stores stay consistent; an id never appears on a queue without a row.
func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	if !IsValidType(string(job.Type)) {
		return errors.Newf("unknown job type: %s", job.Type)
	}
	if !IsValidPriority(string(job.Priority)) {
		return errors.Newf("unknown priority: %s", job.Priority)
	}

	if err := q.store.CreateJob(job); err != nil {
		return errors.Wrap(err, "failed to enqueue job")
	}

	key := QueueKey(job.Type, job.Priority)
	if err := q.rdb.LPush(ctx, key, job.ID).Err(); err != nil {
		if delErr := q.store.DeleteJob(job.ID); delErr != nil {
			q.logger.Errorw("Failed to roll back job row after queue push error",
				"job_id", job.ID, "error", delErr)
		}
		return errors.Wrapf(err, "failed to push job %s onto %s", job.ID, key)
	}

	q.logger.Debugw("Enqueued job",
		"job_id", job.ID, "type", job.Type, "priority", job.Priority)
	return nil
}

// Requeue pushes an existing job id back onto its queue. Used by the
// recovery sweeper after resetting a stranded row to QUEUED.
func (q *Queue) Requeue(ctx context.Context, job *Job) error {
	key := QueueKey(job.Type, job.Priority)
	if err := q.rdb.LPush(ctx, key, job.ID).Err(); err != nil {
		return errors.Wrapf(err, "failed to requeue job %s onto %s", job.ID, key)
	}
	return nil
}

// Pop blocks on the given queue keys for up to timeout and returns the next
// job id, or "" when every queue stayed empty. Keys are checked in order,
// which is what gives urgent queues dominance over low ones.
func (q *Queue) Pop(ctx context.Context, keys []string, timeout time.Duration) (string, error) {
	res, err := q.rdb.BRPop(ctx, timeout, keys...).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to pop from queues")
	}
	// BRPOP returns (key, value)
	return res[1], nil
}

// Depth returns the number of ids waiting on a single queue.
func (q *Queue) Depth(ctx context.Context, jobType JobType, priority Priority) (int64, error) {
	n, err := q.rdb.LLen(ctx, QueueKey(jobType, priority)).Result()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read queue depth")
	}
	return n, nil
}
