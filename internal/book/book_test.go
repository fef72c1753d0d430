package book

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HenryR2112/NYSE-XDP/internal/xdp"
	"github.com/HenryR2112/NYSE-XDP/internal/xdperrors"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestAddUpdatesTotalsAndBBO(t *testing.T) {
	b := New()
	b.Add(1, dec("10.00"), 100, xdp.SideBuy)
	b.Add(2, dec("10.05"), 50, xdp.SideBuy)
	b.Add(3, dec("10.10"), 200, xdp.SideSell)

	stats := b.Stats()
	require.True(t, stats.HasBid)
	require.True(t, stats.HasAsk)
	assert.True(t, stats.BestBid.Equal(dec("10.05")))
	assert.True(t, stats.BestAsk.Equal(dec("10.10")))
	assert.Equal(t, uint32(150), stats.TotalBidQty)
	assert.Equal(t, uint32(200), stats.TotalAskQty)
}

func TestAddDuplicateOrderIDIsNoOp(t *testing.T) {
	b := New()
	require.NoError(t, b.Add(1, dec("10.00"), 100, xdp.SideBuy))
	err := b.Add(1, dec("20.00"), 999, xdp.SideSell)
	require.Error(t, err)
	assert.True(t, errors.Is(err, xdperrors.ErrEventGuarded))

	stats := b.Stats()
	assert.True(t, stats.BestBid.Equal(dec("10.00")))
	assert.Equal(t, uint32(100), stats.TotalBidQty)
	assert.Equal(t, uint32(0), stats.TotalAskQty)
}

func TestModifyUnknownOrderIsNoOp(t *testing.T) {
	b := New()
	require.NoError(t, b.Add(1, dec("10.00"), 100, xdp.SideBuy))
	err := b.Modify(999, dec("11.00"), 50)
	require.Error(t, err)
	assert.True(t, errors.Is(err, xdperrors.ErrEventGuarded))

	stats := b.Stats()
	assert.Equal(t, uint32(100), stats.TotalBidQty)
}

func TestModifyMovesLevelAndErasesEmptyOldLevel(t *testing.T) {
	b := New()
	b.Add(1, dec("10.00"), 100, xdp.SideBuy)
	b.Modify(1, dec("10.05"), 75)

	stats := b.Stats()
	assert.True(t, stats.BestBid.Equal(dec("10.05")))
	assert.Equal(t, uint32(75), stats.TotalBidQty)
	assert.Equal(t, 1, stats.BidLevels)
}

func TestDeleteUnknownOrderIsNoOp(t *testing.T) {
	b := New()
	err := b.Delete(42)
	require.Error(t, err)
	assert.True(t, errors.Is(err, xdperrors.ErrEventGuarded))
	assert.Equal(t, 0, b.Stats().BidLevels)
}

func TestDeleteIncrementsCancelCountersBeforeRemoving(t *testing.T) {
	b := New()
	b.Add(1, dec("10.00"), 100, xdp.SideBuy)
	b.Delete(1)

	stats := b.Stats()
	assert.False(t, stats.HasBid)
	assert.Equal(t, uint32(0), stats.TotalBidQty)
	// adds=1, cancels=1: cancel_ratio=0.5, score = 0.5*0.40 = 0.20
	assert.InDelta(t, 0.20, b.Toxicity(dec("10.00"), xdp.SideBuy), 1e-9)
}

func TestExecutePartialFillReducesVolume(t *testing.T) {
	b := New()
	b.Add(1, dec("10.00"), 100, xdp.SideBuy)
	b.Execute(1, 40, dec("10.00"))

	stats := b.Stats()
	assert.Equal(t, uint32(60), stats.TotalBidQty)
}

func TestExecuteFullFillRemovesOrderAndLevel(t *testing.T) {
	b := New()
	b.Add(1, dec("10.00"), 100, xdp.SideBuy)
	b.Execute(1, 100, dec("10.00"))

	stats := b.Stats()
	assert.False(t, stats.HasBid)
	assert.Equal(t, 0, stats.BidLevels)
}

func TestExecuteUnknownOrderIsNoOp(t *testing.T) {
	b := New()
	err := b.Execute(42, 10, dec("10.00"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, xdperrors.ErrEventGuarded))
}

func TestClearDropsAllState(t *testing.T) {
	b := New()
	b.Add(1, dec("10.00"), 100, xdp.SideBuy)
	b.Add(2, dec("10.10"), 100, xdp.SideSell)
	b.Execute(1, 100, dec("10.00"))
	b.Clear()

	stats := b.Stats()
	assert.False(t, stats.HasBid)
	assert.False(t, stats.HasAsk)
	assert.Equal(t, 0, stats.BidLevels)
	assert.Equal(t, 0, stats.AskLevels)
}

func TestToxicityScoreWeights(t *testing.T) {
	b := New()
	// four pings (< 10 vol) then one cancel, all at the same price level.
	for i := uint64(1); i <= 4; i++ {
		b.Add(i, dec("10.00"), 5, xdp.SideBuy)
	}
	b.Delete(1)

	score := b.Toxicity(dec("10.00"), xdp.SideBuy)
	// adds=4, cancels=1, total=5; cancel_ratio=0.2, ping_ratio=4/5=0.8,
	// odd_lot_ratio=4/5=0.8 (5 is not a multiple of 100)
	// score = 0.2*0.40 + 0.8*0.20 + 0.8*0.15 = 0.08 + 0.16 + 0.12 = 0.36
	assert.InDelta(t, 0.36, score, 1e-9)
}

func TestToxicityScoreClampedAtOne(t *testing.T) {
	b := New()
	for i := uint64(1); i <= 20; i++ {
		b.Add(i, dec("10.01"), 1, xdp.SideBuy) // ping + resistance level
	}
	for i := uint64(1); i <= 20; i++ {
		b.Delete(i)
	}
	score := b.Toxicity(dec("10.01"), xdp.SideBuy)
	assert.LessOrEqual(t, score, 1.0)
}

func TestToxicityUnknownLevelIsZero(t *testing.T) {
	b := New()
	assert.Equal(t, 0.0, b.Toxicity(dec("99.00"), xdp.SideBuy))
}

func TestTopNOrdering(t *testing.T) {
	b := New()
	b.Add(1, dec("10.00"), 100, xdp.SideBuy)
	b.Add(2, dec("10.05"), 100, xdp.SideBuy)
	b.Add(3, dec("10.02"), 100, xdp.SideBuy)
	b.Add(4, dec("10.10"), 50, xdp.SideSell)
	b.Add(5, dec("10.20"), 50, xdp.SideSell)

	snap := b.TopN(3)
	require.Len(t, snap.TopBidLevels, 3)
	assert.True(t, snap.TopBidLevels[0].Price.Equal(dec("10.05")))
	assert.True(t, snap.TopBidLevels[1].Price.Equal(dec("10.02")))
	assert.True(t, snap.TopBidLevels[2].Price.Equal(dec("10.00")))

	require.Len(t, snap.TopAskLevels, 2)
	assert.True(t, snap.TopAskLevels[0].Price.Equal(dec("10.10")))
	assert.True(t, snap.TopAskLevels[1].Price.Equal(dec("10.20")))
}

func TestRestoreClearsToxicityButSeedsLadders(t *testing.T) {
	b := New()
	b.Add(1, dec("10.00"), 100, xdp.SideBuy)

	b.Restore(RestoreState{
		Bids: []Level{{Price: dec("9.00"), Aggregate: 500}},
		Asks: []Level{{Price: dec("9.05"), Aggregate: 300}},
	})

	stats := b.Stats()
	assert.True(t, stats.BestBid.Equal(dec("9.00")))
	assert.True(t, stats.BestAsk.Equal(dec("9.05")))
	assert.Equal(t, uint32(500), stats.TotalBidQty)
	assert.Equal(t, uint32(300), stats.TotalAskQty)
	assert.Equal(t, 0.0, b.Toxicity(dec("9.00"), xdp.SideBuy))
}

func TestCheckpointSnapshotOmitsOrdersBeyondCapturedDepth(t *testing.T) {
	b := New()
	b.Add(1, dec("10.05"), 100, xdp.SideBuy) // top level, within depth 1
	b.Add(2, dec("10.00"), 200, xdp.SideBuy) // one level deeper, outside depth 1

	snap, orders := b.CheckpointSnapshot(1)
	require.Len(t, snap.TopBidLevels, 1)
	assert.True(t, snap.TopBidLevels[0].Price.Equal(dec("10.05")))

	require.Len(t, orders, 1, "order resting at a level beyond the captured depth must not appear in the order table either")
	assert.Equal(t, uint64(1), orders[0].OrderID)
}

func TestCheckpointSnapshotThenRestoreStaysConsistent(t *testing.T) {
	b := New()
	b.Add(1, dec("10.05"), 100, xdp.SideBuy)
	b.Add(2, dec("10.00"), 200, xdp.SideBuy)

	snap, orders := b.CheckpointSnapshot(1)

	restored := New()
	restored.Restore(RestoreState{Bids: snap.TopBidLevels, Asks: snap.TopAskLevels, Orders: orders})

	// A fresh order arriving at the depth-1 restored level must add onto
	// the restored aggregate, not seed a level that never existed.
	restored.Add(3, dec("10.05"), 50, xdp.SideBuy)
	stats := restored.Stats()
	assert.Equal(t, uint32(150), stats.TotalBidQty)
}

func TestInvariantAggregateVolumeMatchesSumOfOrders(t *testing.T) {
	b := New()
	b.Add(1, dec("10.00"), 30, xdp.SideBuy)
	b.Add(2, dec("10.00"), 70, xdp.SideBuy)
	stats := b.Stats()
	assert.Equal(t, uint32(100), stats.TotalBidQty)

	b.Execute(1, 30, dec("10.00"))
	stats = b.Stats()
	assert.Equal(t, uint32(70), stats.TotalBidQty)
}
