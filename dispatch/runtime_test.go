package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingAdapter handles transcription jobs and records every Process call.
type recordingAdapter struct {
	mu      sync.Mutex
	calls   []string
	fail    bool
	blockMs int
}

func (a *recordingAdapter) Types() []JobType {
	return []JobType{JobTypeTranscription}
}

func (a *recordingAdapter) Process(ctx context.Context, job *Job, input InputData, sink ProgressSink) (any, error) {
	a.mu.Lock()
	a.calls = append(a.calls, job.ID)
	a.mu.Unlock()

	if a.blockMs > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(a.blockMs) * time.Millisecond):
		}
	}
	if a.fail {
		return nil, assertError("synthetic adapter failure")
	}

	in := input.(*TranscriptionInput)
	sink.Report(100, "done")
	return &TranscriptionOutput{
		TranscriptKey: TranscriptKey(in.EpisodeID),
		Language:      "en",
	}, nil
}

func (a *recordingAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

type assertError string

func (e assertError) Error() string { return string(e) }

func newTestRuntime(t *testing.T, q *Queue, adapter StageAdapter) *Runtime {
	t.Helper()
	rt, err := NewRuntime(context.Background(), q, RuntimeConfig{
		Workers:    1,
		PopTimeout: 50 * time.Millisecond,
	}, zap.NewNop().Sugar(), adapter)
	require.NoError(t, err)
	return rt
}

func waitForTerminal(t *testing.T, store *Store, jobID string) *Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetJob(jobID)
		require.NoError(t, err)
		if job.Status.Terminal() {
			return job
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal state", jobID)
	return nil
}

func TestRuntimeProcessesJobToCompletion(t *testing.T) {
	q := newTestQueue(t)
	adapter := &recordingAdapter{}
	rt := newTestRuntime(t, q, adapter)

	job := NewJob(JobTypeTranscription, PriorityNormal, transcriptionPayload("ep-1"))
	require.NoError(t, q.Enqueue(context.Background(), job))

	rt.Start()
	defer rt.Stop()

	got := waitForTerminal(t, q.Store(), job.ID)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, rt.WorkerID(), got.WorkerID)

	var out TranscriptionOutput
	require.NoError(t, json.Unmarshal(got.OutputData, &out))
	assert.Equal(t, "transcripts/ep-1/whisperx.json", out.TranscriptKey)
}

func TestRuntimeRecordsAdapterFailure(t *testing.T) {
	q := newTestQueue(t)
	adapter := &recordingAdapter{fail: true}
	rt := newTestRuntime(t, q, adapter)

	job := NewJob(JobTypeTranscription, PriorityNormal, transcriptionPayload("ep-1"))
	require.NoError(t, q.Enqueue(context.Background(), job))

	rt.Start()
	defer rt.Stop()

	got := waitForTerminal(t, q.Store(), job.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "synthetic adapter failure")
}

func TestRuntimeFailsSchemaMismatchWithoutAdapterCall(t *testing.T) {
	q := newTestQueue(t)
	adapter := &recordingAdapter{}
	rt := newTestRuntime(t, q, adapter)

	job := NewJob(JobTypeTranscription, PriorityNormal, json.RawMessage(`{"wrong":"shape"}`))
	require.NoError(t, q.Enqueue(context.Background(), job))

	rt.Start()
	defer rt.Stop()

	got := waitForTerminal(t, q.Store(), job.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "schema mismatch")
	assert.Equal(t, 0, adapter.callCount())
}

// A duplicated id on the queue must not run the job twice: the second pop
// loses the claim race and is discarded.
func TestRuntimeDiscardsDuplicateDelivery(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	adapter := &recordingAdapter{}
	rt := newTestRuntime(t, q, adapter)

	job := NewJob(JobTypeTranscription, PriorityNormal, transcriptionPayload("ep-1"))
	require.NoError(t, q.Enqueue(ctx, job))
	// Simulate an at-least-once delivery fault
	require.NoError(t, q.Requeue(ctx, job))

	rt.Start()
	defer rt.Stop()

	got := waitForTerminal(t, q.Store(), job.ID)
	assert.Equal(t, StatusCompleted, got.Status)

	// Give the duplicate pop time to drain, then check the adapter ran once
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		depth, err := q.Depth(ctx, JobTypeTranscription, PriorityNormal)
		require.NoError(t, err)
		if depth == 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, adapter.callCount())
}

// A job cancelled while in flight keeps CANCELLED; the worker's result is
// discarded when its terminal write does not apply.
func TestRuntimeCancellationWinsOverCompletion(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	adapter := &recordingAdapter{blockMs: 300}
	rt := newTestRuntime(t, q, adapter)

	job := NewJob(JobTypeTranscription, PriorityNormal, transcriptionPayload("ep-1"))
	require.NoError(t, q.Enqueue(ctx, job))

	rt.Start()
	defer rt.Stop()

	// Wait for the claim, then cancel while Process is blocked
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := q.Store().GetJob(job.ID)
		require.NoError(t, err)
		if got.Status == StatusRunning {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancelled, err := q.Store().CancelJob(job.ID, "operator request")
	require.NoError(t, err)
	require.True(t, cancelled)

	time.Sleep(500 * time.Millisecond)
	got, err := q.Store().GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
}

func TestRuntimeStopsCleanly(t *testing.T) {
	q := newTestQueue(t)
	rt := newTestRuntime(t, q, &recordingAdapter{})

	rt.Start()
	done := make(chan struct{})
	go func() {
		rt.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop() did not return")
	}
}

func TestNewRuntimeRejectsDuplicateAdapters(t *testing.T) {
	q := newTestQueue(t)

	_, err := NewRuntime(context.Background(), q, DefaultRuntimeConfig(),
		zap.NewNop().Sugar(), &recordingAdapter{}, &recordingAdapter{})
	assert.ErrorContains(t, err, "already registered")
}
