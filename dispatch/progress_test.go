package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	vptest "github.com/voicepipe/voicepipe/internal/testing"
)

func TestProgressSinkWritesHash(t *testing.T) {
	mr, rdb := vptest.CreateTestRedis(t)
	ctx := context.Background()

	sink := NewProgressSink(rdb, nil, "job-1", zap.NewNop().Sugar())
	sink.Report(42, "separating speakers")

	pct, msg, err := ReadProgress(ctx, rdb, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 42, pct)
	assert.Equal(t, "separating speakers", msg)

	ttl := mr.TTL(ProgressKey("job-1"))
	assert.Equal(t, ProgressTTL, ttl)
}

func TestProgressSinkClampsRange(t *testing.T) {
	_, rdb := vptest.CreateTestRedis(t)
	ctx := context.Background()

	sink := NewProgressSink(rdb, nil, "job-1", zap.NewNop().Sugar())

	sink.Report(-10, "")
	pct, _, err := ReadProgress(ctx, rdb, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 0, pct)

	sink.Report(150, "")
	pct, _, err = ReadProgress(ctx, rdb, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 100, pct)
}

func TestProgressSinkKeepsLastMessage(t *testing.T) {
	_, rdb := vptest.CreateTestRedis(t)
	ctx := context.Background()

	sink := NewProgressSink(rdb, nil, "job-1", zap.NewNop().Sugar())
	sink.Report(10, "loading model")
	sink.Report(20, "")

	pct, msg, err := ReadProgress(ctx, rdb, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 20, pct)
	assert.Equal(t, "loading model", msg)
}

func TestReadProgressMissingJob(t *testing.T) {
	_, rdb := vptest.CreateTestRedis(t)

	pct, msg, err := ReadProgress(context.Background(), rdb, "nope")
	require.NoError(t, err)
	assert.Equal(t, 0, pct)
	assert.Empty(t, msg)
}
