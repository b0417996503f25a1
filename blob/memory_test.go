package blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	exists, err := store.Exists(ctx, "raw/ep-1.wav")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.Put(ctx, "raw/ep-1.wav", []byte("audio"), "audio/wav"))

	exists, err = store.Exists(ctx, "raw/ep-1.wav")
	require.NoError(t, err)
	assert.True(t, exists)

	data, err := store.Get(ctx, "raw/ep-1.wav")
	require.NoError(t, err)
	assert.Equal(t, []byte("audio"), data)

	require.NoError(t, store.Delete(ctx, "raw/ep-1.wav"))
	_, err = store.Get(ctx, "raw/ep-1.wav")
	assert.ErrorContains(t, err, "object not found")
}

func TestMemoryStoreCopiesData(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	src := []byte("audio")
	require.NoError(t, store.Put(ctx, "k", src, ""))
	src[0] = 'x'

	data, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("audio"), data)
}
