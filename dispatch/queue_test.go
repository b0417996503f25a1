package dispatch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	vptest "github.com/voicepipe/voicepipe/internal/testing"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	_, rdb := vptest.CreateTestRedis(t)
	store := NewStore(vptest.CreateTestDB(t))
	return NewQueue(rdb, store, zap.NewNop().Sugar())
}

func transcriptionPayload(episode string) json.RawMessage {
	return json.RawMessage(`{"episodeId":"` + episode + `","s3Key":"raw/` + episode + `.wav"}`)
}

func TestQueueEnqueuePop(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job := NewJob(JobTypeTranscription, PriorityNormal, transcriptionPayload("ep-1"))
	require.NoError(t, q.Enqueue(ctx, job))

	depth, err := q.Depth(ctx, JobTypeTranscription, PriorityNormal)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	id, err := q.Pop(ctx, ScanKeys([]JobType{JobTypeTranscription}), 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, job.ID, id)

	// Row exists alongside the queue entry
	got, err := q.Store().GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, got.Status)
}

func TestQueueEnqueueRejectsUnknownType(t *testing.T) {
	q := newTestQueue(t)

	bad := NewJob(JobType("MASTERING"), PriorityNormal, transcriptionPayload("ep-1"))
	err := q.Enqueue(context.Background(), bad)
	assert.ErrorContains(t, err, "unknown job type")

	bad = NewJob(JobTypeTranscription, Priority("SOMEDAY"), transcriptionPayload("ep-1"))
	err = q.Enqueue(context.Background(), bad)
	assert.ErrorContains(t, err, "unknown priority")
}

func TestQueuePopEmptyReturnsNoID(t *testing.T) {
	q := newTestQueue(t)

	id, err := q.Pop(context.Background(), ScanKeys([]JobType{JobTypeTranscription}), 50*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestQueueFIFOWithinPriority(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	first := NewJob(JobTypeTranscription, PriorityNormal, transcriptionPayload("ep-1"))
	second := NewJob(JobTypeTranscription, PriorityNormal, transcriptionPayload("ep-2"))
	require.NoError(t, q.Enqueue(ctx, first))
	require.NoError(t, q.Enqueue(ctx, second))

	keys := ScanKeys([]JobType{JobTypeTranscription})
	id, err := q.Pop(ctx, keys, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, first.ID, id)

	id, err = q.Pop(ctx, keys, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, second.ID, id)
}

// With HIGH and NORMAL jobs already queued, a worker drains HIGH completely
// before touching NORMAL, regardless of enqueue order.
func TestQueuePriorityDominance(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	normal := NewJob(JobTypeTranscription, PriorityNormal, transcriptionPayload("ep-a"))
	high1 := NewJob(JobTypeTranscription, PriorityHigh, transcriptionPayload("ep-b"))
	high2 := NewJob(JobTypeTranscription, PriorityHigh, transcriptionPayload("ep-c"))

	require.NoError(t, q.Enqueue(ctx, normal))
	require.NoError(t, q.Enqueue(ctx, high1))
	require.NoError(t, q.Enqueue(ctx, high2))

	keys := ScanKeys([]JobType{JobTypeTranscription})

	var order []string
	for i := 0; i < 3; i++ {
		id, err := q.Pop(ctx, keys, 100*time.Millisecond)
		require.NoError(t, err)
		order = append(order, id)
	}

	assert.Equal(t, []string{high1.ID, high2.ID, normal.ID}, order)
}

func TestScanKeysOrder(t *testing.T) {
	keys := ScanKeys([]JobType{JobTypeTTSSynthesis, JobTypeTTSTraining})

	assert.Equal(t, []string{
		"queue:TTS_SYNTHESIS:URGENT",
		"queue:TTS_SYNTHESIS:HIGH",
		"queue:TTS_SYNTHESIS:NORMAL",
		"queue:TTS_SYNTHESIS:LOW",
		"queue:TTS_TRAINING:URGENT",
		"queue:TTS_TRAINING:HIGH",
		"queue:TTS_TRAINING:NORMAL",
		"queue:TTS_TRAINING:LOW",
	}, keys)
}
