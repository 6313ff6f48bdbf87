package history_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/herald/internal/history"
)

func openStore(t *testing.T) *history.Store {
	t.Helper()
	store, err := history.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_RecordAndUpdate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openStore(t)

	require.NoError(t, store.Record(ctx, history.Entry{
		TransactionID: "contract.ethereum.internal.1",
		Chain:         "ethereum",
		ExtrinsicHash: "0xabc",
		Address:       "0x01",
		Status:        history.StatusProcessing,
		Amount:        "1.5",
		Symbol:        "ETH",
	}))

	require.NoError(t, store.Update(ctx, "ethereum", "0xabc", history.Patch{
		Status:      history.StatusSuccess,
		BlockHash:   "0xblock",
		BlockNumber: 42,
	}))

	got, err := store.Get(ctx, "contract.ethereum.internal.1")
	require.NoError(t, err)
	assert.Equal(t, history.StatusSuccess, got.Status)
	assert.Equal(t, "0xblock", got.BlockHash)
	assert.Equal(t, uint64(42), got.BlockNumber)
	assert.Equal(t, "1.5", got.Amount, "untouched fields are kept")

	err = store.Update(ctx, "polkadot", "0xabc", history.Patch{Status: history.StatusFailed})
	require.ErrorIs(t, err, history.ErrEntryNotFound)

	_, err = store.Get(ctx, "missing")
	require.ErrorIs(t, err, history.ErrEntryNotFound)
}

func TestStore_List(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openStore(t)

	entries := []history.Entry{
		{TransactionID: "a", Chain: "ethereum", Address: "0x01", Status: history.StatusSuccess},
		{TransactionID: "b", Chain: "polkadot", Address: "15oF", Status: history.StatusFailed},
		{TransactionID: "c", Chain: "ethereum", Address: "0x01", Status: history.StatusProcessing},
	}
	for _, e := range entries {
		require.NoError(t, store.Record(ctx, e))
	}

	tests := []struct {
		name   string
		filter history.Filter
		want   []string
	}{
		{"all newest first", history.Filter{}, []string{"c", "b", "a"}},
		{"by chain", history.Filter{Chain: "ethereum"}, []string{"c", "a"}},
		{"by address", history.Filter{Address: "15oF"}, []string{"b"}},
		{"by status", history.Filter{Status: history.StatusSuccess}, []string{"a"}},
		{"limit", history.Filter{Limit: 1}, []string{"c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.List(ctx, tt.filter)
			require.NoError(t, err)
			ids := make([]string, 0, len(got))
			for _, e := range got {
				ids = append(ids, e.TransactionID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestOpen_File(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	store, err := history.Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Record(ctx, history.Entry{TransactionID: "x", Chain: "ethereum"}))
	require.NoError(t, store.Close())

	reopened, err := history.Open(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	got, err := reopened.List(ctx, history.Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "x", got[0].TransactionID)
}
