package data

import (
	"context"
	"testing"
	"time"

	pkgerrors "ToolSync/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupQueueRepo creates an UpdateQueueRepo backed by a live miniredis.
func setupQueueRepo(t *testing.T) (*UpdateQueueRepo, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { client.Close() })

	store := NewResilientStore(client, fastSyncConf(), nil, log.DefaultLogger)
	return NewUpdateQueueRepo(store, log.DefaultLogger), mr
}

// setupDeadQueueRepo creates a repo whose store cannot reach Redis.
func setupDeadQueueRepo(t *testing.T) *UpdateQueueRepo {
	return NewUpdateQueueRepo(setupDeadStore(t), log.DefaultLogger)
}

func TestUpdateQueueRepo_PushAndPop(t *testing.T) {
	repo, _ := setupQueueRepo(t)
	ctx := context.Background()

	n, err := repo.PushUpdate(ctx, "toolsync:updates", `{"id":"m1"}`)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.PushUpdate(ctx, "toolsync:updates", `{"id":"m2"}`)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Oldest message first.
	payload, err := repo.PopUpdate(ctx, "toolsync:updates", 0)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"m1"}`, payload)

	payload, err = repo.PopUpdate(ctx, "toolsync:updates", 0)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"m2"}`, payload)

	// Drained queue yields no message, not an error.
	payload, err = repo.PopUpdate(ctx, "toolsync:updates", 0)
	require.NoError(t, err)
	assert.Empty(t, payload)
}

func TestUpdateQueueRepo_PopBlocking(t *testing.T) {
	repo, _ := setupQueueRepo(t)
	ctx := context.Background()

	_, err := repo.PushUpdate(ctx, "toolsync:updates", `{"id":"m1"}`)
	require.NoError(t, err)

	payload, err := repo.PopUpdate(ctx, "toolsync:updates", 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"m1"}`, payload)
}

func TestUpdateQueueRepo_PopSurfacesStoreErrors(t *testing.T) {
	repo := setupDeadQueueRepo(t)

	_, err := repo.PopUpdate(context.Background(), "toolsync:updates", 0)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsStoreUnavailableError(err), "poll loop needs the raw error to drive its backoff")
}

func TestUpdateQueueRepo_QueueDepth(t *testing.T) {
	t.Run("reports current length", func(t *testing.T) {
		repo, _ := setupQueueRepo(t)
		ctx := context.Background()

		assert.Equal(t, int64(0), repo.QueueDepth(ctx, "toolsync:updates"))

		_, err := repo.PushUpdate(ctx, "toolsync:updates", `{"id":"m1"}`)
		require.NoError(t, err)
		_, err = repo.PushUpdate(ctx, "toolsync:updates", `{"id":"m2"}`)
		require.NoError(t, err)

		assert.Equal(t, int64(2), repo.QueueDepth(ctx, "toolsync:updates"))
	})

	t.Run("degrades to -1 when store unavailable", func(t *testing.T) {
		repo := setupDeadQueueRepo(t)

		assert.Equal(t, int64(-1), repo.QueueDepth(context.Background(), "toolsync:updates"))
	})
}

func TestUpdateQueueRepo_ReadInventory(t *testing.T) {
	t.Run("missing snapshot yields empty inventory", func(t *testing.T) {
		repo, _ := setupQueueRepo(t)

		entries, err := repo.ReadInventory(context.Background(), "toolsync:inventory")
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("parses snapshot entries", func(t *testing.T) {
		repo, mr := setupQueueRepo(t)
		snapshot := `[
			{"name":"search","providerName":"agent-x","metadata":{"version":"1.2.0"}},
			{"name":"translate","providerName":"agent-y"}
		]`
		require.NoError(t, mr.Set("toolsync:inventory", snapshot))

		entries, err := repo.ReadInventory(context.Background(), "toolsync:inventory")
		require.NoError(t, err)
		require.Len(t, entries, 2)

		assert.Equal(t, "search", entries[0].Name)
		assert.Equal(t, "agent-x", entries[0].ProviderName)
		assert.JSONEq(t, `{"version":"1.2.0"}`, string(entries[0].Metadata))

		assert.Equal(t, "translate", entries[1].Name)
		assert.Equal(t, "agent-y", entries[1].ProviderName)
		assert.Empty(t, entries[1].Metadata)
	})

	t.Run("corrupt snapshot is an error", func(t *testing.T) {
		repo, mr := setupQueueRepo(t)
		require.NoError(t, mr.Set("toolsync:inventory", "{not json"))

		_, err := repo.ReadInventory(context.Background(), "toolsync:inventory")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse inventory")
	})

	t.Run("no fallback when store unavailable", func(t *testing.T) {
		repo := setupDeadQueueRepo(t)

		_, err := repo.ReadInventory(context.Background(), "toolsync:inventory")
		require.Error(t, err)
		assert.True(t, pkgerrors.IsStoreUnavailableError(err))
	})
}
