package dispatch

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voicepipe/voicepipe/errors"
)

// RuntimeConfig contains configuration for the worker runtime.
type RuntimeConfig struct {
	Workers    int           `json:"workers"`     // concurrent workers in this process
	PopTimeout time.Duration `json:"pop_timeout"` // blocking-pop timeout per queue scan
}

// DefaultRuntimeConfig returns sensible defaults.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		Workers:    1,
		PopTimeout: time.Second,
	}
}

// Runtime runs the pop/claim/process loop for a set of stage adapters. Each
// worker goroutine scans its adapter queues highest priority first, claims the
// popped id, and hands the decoded payload to the adapter.
type Runtime struct {
	queue     *Queue
	store     *Store
	registry  *adapterRegistry
	config    RuntimeConfig
	workerID  string
	scanKeys  []string
	parentCtx context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    *zap.SugaredLogger
}

// NewRuntime creates a worker runtime over the given queue and adapters. The
// worker id is stable for the life of the process; it is what the claim and
// terminal writes are conditioned on.
func NewRuntime(ctx context.Context, queue *Queue, cfg RuntimeConfig, logger *zap.SugaredLogger, adapters ...StageAdapter) (*Runtime, error) {
	registry, err := newAdapterRegistry(adapters...)
	if err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = time.Second
	}

	hostname, _ := os.Hostname()
	workerID := fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])

	workerCtx, cancel := context.WithCancel(ctx)
	return &Runtime{
		queue:     queue,
		store:     queue.Store(),
		registry:  registry,
		config:    cfg,
		workerID:  workerID,
		scanKeys:  ScanKeys(registry.order),
		parentCtx: ctx,
		ctx:       workerCtx,
		cancel:    cancel,
		logger:    logger.Named("dispatch"),
	}, nil
}

// WorkerID returns the identity this runtime claims jobs under.
func (r *Runtime) WorkerID() string {
	return r.workerID
}

// Start launches the worker goroutines.
func (r *Runtime) Start() {
	select {
	case <-r.ctx.Done():
		r.ctx, r.cancel = context.WithCancel(r.parentCtx)
		r.logger.Debugw("Recreated worker context after previous shutdown")
	default:
	}

	checkMemoryPressure(r.logger)

	r.logger.Infow("Starting worker runtime",
		"worker_id", r.workerID,
		"workers", r.config.Workers,
		"job_types", r.registry.order)

	for i := 0; i < r.config.Workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
}

// Stop cancels the workers and waits for in-flight jobs to finish, up to a
// generous timeout. A job interrupted mid-flight keeps its RUNNING row; the
// recovery sweeper returns it to the queue after the lease expires.
func (r *Runtime) Stop() {
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	timeout := 30 * time.Second
	select {
	case <-done:
		r.logger.Infow("Worker runtime stopped cleanly")
	case <-time.After(timeout):
		r.logger.Warnw("Worker runtime stop timed out with jobs still in flight", "timeout", timeout)
	}
}

// worker is one pop/claim/process loop. The blocking pop paces the loop, so
// there is no ticker; errors apply exponential backoff after a streak.
func (r *Runtime) worker(id int) {
	defer r.wg.Done()

	errorCount := 0
	const maxConsecutiveErrors = 5
	backoffDuration := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		if err := r.processNext(); err != nil {
			select {
			case <-r.ctx.Done():
				return
			default:
			}
			if errors.Is(err, sql.ErrConnDone) {
				return
			}

			errorCount++
			r.logger.Errorw("Worker error processing job",
				"worker", id,
				"error", err,
				"consecutive_errors", errorCount)

			if errorCount >= maxConsecutiveErrors {
				r.logger.Warnw("Worker backing off after consecutive errors",
					"worker", id, "backoff", backoffDuration)
				select {
				case <-r.ctx.Done():
					return
				case <-time.After(backoffDuration):
				}
				backoffDuration = min(backoffDuration*2, maxBackoff)
			}
			continue
		}

		if errorCount > 0 {
			r.logger.Infow("Worker recovered from errors",
				"worker", id, "previous_error_count", errorCount)
		}
		errorCount = 0
		backoffDuration = time.Second
	}
}

// processNext pops one job id and runs it to a terminal state. Returning nil
// covers both "processed a job" and "queues were empty".
func (r *Runtime) processNext() error {
	jobID, err := r.queue.Pop(r.ctx, r.scanKeys, r.config.PopTimeout)
	if err != nil {
		if r.ctx.Err() != nil {
			return nil
		}
		return err
	}
	if jobID == "" {
		return nil
	}

	claimed, err := r.store.ClaimJob(jobID, r.workerID)
	if err != nil {
		return err
	}
	if !claimed {
		// Duplicate delivery or cancelled while queued. Discard the pop;
		// whoever holds the claim owns the job.
		claimsLost.Inc()
		r.logger.Debugw("Discarding pop for unclaimed job", "job_id", jobID)
		return nil
	}

	job, err := r.store.GetJob(jobID)
	if err != nil {
		return err
	}

	r.runJob(job)
	return nil
}

// runJob executes a claimed job. Every path out of here attempts a terminal
// write conditioned on this worker still holding the claim; if the write does
// not apply, an operator cancelled the job mid-flight and the result is
// discarded.
func (r *Runtime) runJob(job *Job) {
	jobsActive.Inc()
	defer jobsActive.Dec()
	start := time.Now()

	r.logger.Infow("Processing job",
		"job_id", job.ID, "type", job.Type, "priority", job.Priority)

	input, err := DecodeInput(job.Type, job.InputData)
	if err != nil {
		r.finishFailed(job, err)
		return
	}

	adapter := r.registry.get(job.Type)
	if adapter == nil {
		r.finishFailed(job, errors.Newf("no adapter for job type %s", job.Type))
		return
	}

	sink := NewProgressSink(r.queue.rdb, r.store, job.ID, r.logger)
	out, err := adapter.Process(r.ctx, job, input, sink)
	if err != nil {
		r.finishFailed(job, err)
		jobDuration.WithLabelValues(string(job.Type)).Observe(time.Since(start).Seconds())
		return
	}

	output, err := marshalOutput(out)
	if err != nil {
		r.finishFailed(job, err)
		return
	}

	applied, err := r.store.CompleteJob(job.ID, r.workerID, output)
	if err != nil {
		r.logger.Errorw("Failed to record job completion", "job_id", job.ID, "error", err)
		return
	}
	if !applied {
		r.logger.Warnw("Completion discarded, job no longer owned by this worker",
			"job_id", job.ID)
		return
	}

	jobsProcessed.WithLabelValues(string(job.Type), string(StatusCompleted)).Inc()
	jobDuration.WithLabelValues(string(job.Type)).Observe(time.Since(start).Seconds())
	r.logger.Infow("Job completed",
		"job_id", job.ID, "type", job.Type, "duration", time.Since(start))
}

func (r *Runtime) finishFailed(job *Job, cause error) {
	applied, err := r.store.FailJob(job.ID, r.workerID, cause.Error())
	if err != nil {
		r.logger.Errorw("Failed to record job failure",
			"job_id", job.ID, "cause", cause, "error", err)
		return
	}
	if !applied {
		r.logger.Warnw("Failure discarded, job no longer owned by this worker",
			"job_id", job.ID, "cause", cause)
		return
	}
	jobsProcessed.WithLabelValues(string(job.Type), string(StatusFailed)).Inc()
	r.logger.Warnw("Job failed", "job_id", job.ID, "type", job.Type, "error", cause)
}
