package history

import (
	"context"
	"testing"
	"time"

	"github.com/mioxtw/sol-wallet-monitor/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	bob   = "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"
)

func record(address string, ms int64, sol string) domain.HistoryRecord {
	amount := decimal.RequireFromString(sol)
	return domain.HistoryRecord{
		Timestamp: time.UnixMilli(ms).UTC(),
		Address:   address,
		SOL:       amount,
		WSOL:      decimal.Zero,
		Total:     amount,
	}
}

func TestWALStore_DeleteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewWALStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.DeleteForAccount(ctx, alice), "deleting an empty wallet is allowed")

	require.NoError(t, store.Append(ctx, record(alice, 1_000, "1")))
	require.NoError(t, store.Append(ctx, record(bob, 1_000, "1")))
	require.NoError(t, store.DeleteForAccount(ctx, alice))

	records, err := store.LoadForAccount(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, records)

	// wallet re-added after deletion keeps only new points
	require.NoError(t, store.Append(ctx, record(alice, 2_000, "5")))
	require.NoError(t, store.Close())

	reopened, err := NewWALStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	all, err := reopened.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all[alice], 1)
	assert.Equal(t, int64(2_000), all[alice][0].Timestamp.UnixMilli())
	assert.Len(t, all[bob], 1)
}

func TestRecordKey(t *testing.T) {
	key := RecordKey(alice, time.UnixMilli(1_700_000_000_123))
	assert.Equal(t, alice+"_1700000000123", key)

	address, ok := AddressFromKey(key)
	require.True(t, ok)
	assert.Equal(t, alice, address)

	_, ok = AddressFromKey("nounderscore")
	assert.False(t, ok)
}

func TestWALStore_KeepsEveryRecordAcrossRotations(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	const (
		threshold = 10
		total     = threshold*100 + 50
	)

	store, err := NewWALStore(dir, WithSegmentThreshold(threshold))
	require.NoError(t, err)
	for i := 0; i < total; i++ {
		require.NoError(t, store.Append(ctx, record(alice, int64(i+1)*1_000, "1")))
	}
	require.NoError(t, store.Close())

	reopened, err := NewWALStore(dir, WithSegmentThreshold(threshold))
	require.NoError(t, err)
	defer reopened.Close()

	records, err := reopened.LoadForAccount(ctx, alice)
	require.NoError(t, err)
	require.Len(t, records, total)
	assert.Equal(t, int64(1_000), records[0].Timestamp.UnixMilli())
	assert.Equal(t, int64(total)*1_000, records[total-1].Timestamp.UnixMilli())
}

func TestWALStore_MaxSegmentsDropsOldest(t *testing.T) {
	ctx := context.Background()
	store, err := NewWALStore(t.TempDir(), WithSegmentThreshold(10), WithMaxSegments(2))
	require.NoError(t, err)
	defer store.Close()

	for i := 0; i < 100; i++ {
		require.NoError(t, store.Append(ctx, record(alice, int64(i+1)*1_000, "1")))
	}

	records, err := store.LoadForAccount(ctx, alice)
	require.NoError(t, err)
	require.NotEmpty(t, records)
	assert.Less(t, len(records), 100)
	assert.Equal(t, int64(100_000), records[len(records)-1].Timestamp.UnixMilli())
}
