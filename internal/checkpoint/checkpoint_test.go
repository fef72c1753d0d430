package checkpoint

import (
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HenryR2112/NYSE-XDP/internal/book"
	"github.com/HenryR2112/NYSE-XDP/internal/xdp"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "badger"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoadOfUnwrittenSymbolReportsNotFound(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.Load(999)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveThenLoadRoundTripsLevelsAndOrders(t *testing.T) {
	s := openTestStore(t)

	snap := book.Snapshot{
		TopBidLevels: []book.Level{
			{Price: decimal.NewFromFloat(100.25), Aggregate: 500},
			{Price: decimal.NewFromFloat(100.20), Aggregate: 300},
		},
		TopAskLevels: []book.Level{
			{Price: decimal.NewFromFloat(100.30), Aggregate: 200},
		},
	}
	orders := []book.Order{
		{OrderID: 1, PriceTick: 10025, Volume: 500, Side: xdp.SideBuy},
		{OrderID: 2, PriceTick: 10030, Volume: 200, Side: xdp.SideSell},
	}

	require.NoError(t, s.Save(42, snap, orders))

	restored, ok, err := s.Load(42)
	require.NoError(t, err)
	require.True(t, ok)

	require.Len(t, restored.Bids, 2)
	assert.True(t, decimal.NewFromFloat(100.25).Equal(restored.Bids[0].Price))
	assert.Equal(t, uint32(500), restored.Bids[0].Aggregate)

	require.Len(t, restored.Asks, 1)
	assert.True(t, decimal.NewFromFloat(100.30).Equal(restored.Asks[0].Price))

	require.Len(t, restored.Orders, 2)
	assert.Equal(t, uint64(1), restored.Orders[0].OrderID)
	assert.Equal(t, xdp.SideBuy, restored.Orders[0].Side)
	assert.Equal(t, xdp.SideSell, restored.Orders[1].Side)
}

func TestSaveOverwritesPriorCheckpointForSameSymbol(t *testing.T) {
	s := openTestStore(t)

	first := book.Snapshot{TopBidLevels: []book.Level{{Price: decimal.NewFromFloat(10), Aggregate: 1}}}
	require.NoError(t, s.Save(7, first, nil))

	second := book.Snapshot{TopBidLevels: []book.Level{{Price: decimal.NewFromFloat(20), Aggregate: 2}}}
	require.NoError(t, s.Save(7, second, nil))

	restored, ok, err := s.Load(7)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, restored.Bids, 1)
	assert.True(t, decimal.NewFromFloat(20).Equal(restored.Bids[0].Price))
}

func TestSaveKeepsDistinctSymbolsIndependent(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Save(1, book.Snapshot{TopBidLevels: []book.Level{{Price: decimal.NewFromFloat(1), Aggregate: 1}}}, nil))
	require.NoError(t, s.Save(2, book.Snapshot{TopBidLevels: []book.Level{{Price: decimal.NewFromFloat(2), Aggregate: 2}}}, nil))

	r1, ok, err := s.Load(1)
	require.NoError(t, err)
	require.True(t, ok)
	r2, ok, err := s.Load(2)
	require.NoError(t, err)
	require.True(t, ok)

	assert.True(t, decimal.NewFromFloat(1).Equal(r1.Bids[0].Price))
	assert.True(t, decimal.NewFromFloat(2).Equal(r2.Bids[0].Price))
}

func TestFromSnapshotLevelsSkipsUnparsablePriceStrings(t *testing.T) {
	levels := fromSnapshotLevels([]snapshotLevel{
		{Price: "10.5", Aggregate: 1},
		{Price: "not-a-number", Aggregate: 2},
		{Price: "20.25", Aggregate: 3},
	})
	require.Len(t, levels, 2)
	assert.True(t, decimal.NewFromFloat(10.5).Equal(levels[0].Price))
	assert.True(t, decimal.NewFromFloat(20.25).Equal(levels[1].Price))
}
