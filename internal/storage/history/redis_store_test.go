package history

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	srv := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), "redis://"+srv.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRedisStore_Log(t *testing.T) {
	runLogSuite(t, func(t *testing.T) Log {
		return newTestRedisStore(t)
	})
}

func TestRedisStore_LargeHistory(t *testing.T) {
	ctx := context.Background()
	store := newTestRedisStore(t)

	const total = redisScanCount*2 + 17
	for i := 0; i < total; i++ {
		require.NoError(t, store.Append(ctx, record(alice, int64(i+1)*1_000, "1")))
	}
	require.NoError(t, store.Append(ctx, record(bob, 1_000, "1")))

	records, err := store.LoadForAccount(ctx, alice)
	require.NoError(t, err)
	require.Len(t, records, total)
	for i := 1; i < len(records); i++ {
		require.True(t, records[i-1].Timestamp.Before(records[i].Timestamp))
	}

	require.NoError(t, store.DeleteForAccount(ctx, alice))
	remaining, err := store.client.HLen(ctx, redisHashKey).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), remaining, "only bob's field is left")
}

func TestRedisStore_SkipsForeignFields(t *testing.T) {
	ctx := context.Background()
	store := newTestRedisStore(t)

	require.NoError(t, store.client.HSet(ctx, redisHashKey, "nounderscore", "{}").Err())
	require.NoError(t, store.Append(ctx, record(alice, 1_000, "1")))

	all, err := store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Len(t, all[alice], 1)
}

func TestRedisStore_CorruptPayload(t *testing.T) {
	ctx := context.Background()
	store := newTestRedisStore(t)

	require.NoError(t, store.client.HSet(ctx, redisHashKey, RecordKey(alice, record(alice, 1_000, "1").Timestamp), "not json").Err())

	_, err := store.LoadForAccount(ctx, alice)
	assert.Error(t, err)
}

func TestNewRedisStore_Errors(t *testing.T) {
	_, err := NewRedisStore(context.Background(), "")
	assert.Error(t, err)

	_, err = NewRedisStore(context.Background(), "not-a-url")
	assert.Error(t, err)
}
