package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_BootCacheRoundTrip(t *testing.T) {
	store, err := Open("")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, store.UpsertPeer(ctx, BootCacheEntry{Name: "alice", Namespace: "g", IP: "10.0.0.1", Port: 7000, LastSeen: now}))
	require.NoError(t, store.MarkFailed(ctx, "alice", "g"))

	candidates, err := store.BootCandidates(ctx, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "alice", candidates[0].Name)
	assert.Equal(t, 1, candidates[0].FailCount)

	require.NoError(t, store.UpsertPeer(ctx, BootCacheEntry{Name: "alice", Namespace: "g", IP: "10.0.0.2", Port: 7001, LastSeen: now}))
	candidates, err = store.BootCandidates(ctx, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "10.0.0.2", candidates[0].IP)
	assert.Equal(t, 0, candidates[0].FailCount)
}
