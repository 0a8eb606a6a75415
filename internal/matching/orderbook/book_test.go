package orderbook

import (
	"testing"
	"time"

	"github.com/abdoElHodaky/fixsim/pkg/fixtypes"
	"github.com/abdoElHodaky/fixsim/pkg/tradserr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequentialID(prefix string) IDFunc {
	n := 0
	return func() string {
		n++
		return prefix + string(rune('0'+n))
	}
}

func newOrder(id string, side fixtypes.Side, ordType fixtypes.OrdType, qty int64, price float64) *fixtypes.Order {
	return &fixtypes.Order{
		OrderID:   id,
		ClOrdID:   id,
		Symbol:    "AAPL",
		Side:      side,
		OrdType:   ordType,
		Qty:       qty,
		Price:     price,
		Status:    fixtypes.OrdStatusNew,
		CreatedAt: time.Now(),
	}
}

func TestBook_NoMatchWithoutCross(t *testing.T) {
	b := New("AAPL", sequentialID("E"))
	b.Add(newOrder("buy-1", fixtypes.SideBuy, fixtypes.OrdTypeLimit, 100, 150.00))

	execs := b.Match()
	assert.Empty(t, execs)

	bestBid, ok := b.BestBid()
	require.True(t, ok)
	assert.Equal(t, 150.00, bestBid)
}

func TestBook_BasicCross(t *testing.T) {
	b := New("AAPL", sequentialID("E"))
	b.Add(newOrder("buy-1", fixtypes.SideBuy, fixtypes.OrdTypeLimit, 100, 150.50))
	b.Add(newOrder("sell-1", fixtypes.SideSell, fixtypes.OrdTypeLimit, 50, 150.50))

	execs := b.Match()
	require.Len(t, execs, 1)

	exec := execs[0]
	assert.Equal(t, "buy-1", exec.BuyOrderID)
	assert.Equal(t, "sell-1", exec.SellOrderID)
	assert.Equal(t, int64(50), exec.LastQty)
	assert.Equal(t, 150.50, exec.LastPx)

	buy, ok := b.Get("buy-1")
	require.True(t, ok)
	assert.Equal(t, fixtypes.OrdStatusPartiallyFilled, buy.Status)
	assert.Equal(t, int64(50), buy.Remaining())

	_, ok = b.Get("sell-1")
	assert.False(t, ok, "fully filled order leaves the book")
}

func TestBook_RestingSidePricing(t *testing.T) {
	// Resting buy at 150.50 crossed by an aggressive sell at 150.00: the
	// trade prints at the resting order's price, not the aggressor's.
	b := New("AAPL", sequentialID("E"))
	b.Add(newOrder("buy-1", fixtypes.SideBuy, fixtypes.OrdTypeLimit, 100, 150.50))
	b.Add(newOrder("sell-1", fixtypes.SideSell, fixtypes.OrdTypeLimit, 100, 150.00))

	execs := b.Match()
	require.Len(t, execs, 1)
	assert.Equal(t, 150.50, execs[0].LastPx)
}

func TestBook_PriceTimePriority(t *testing.T) {
	b := New("AAPL", sequentialID("E"))
	b.Add(newOrder("buy-1", fixtypes.SideBuy, fixtypes.OrdTypeLimit, 50, 150.00))
	b.Add(newOrder("buy-2", fixtypes.SideBuy, fixtypes.OrdTypeLimit, 50, 150.50))
	b.Add(newOrder("sell-1", fixtypes.SideSell, fixtypes.OrdTypeLimit, 50, 150.00))

	execs := b.Match()
	require.Len(t, execs, 1)
	assert.Equal(t, "buy-2", execs[0].BuyOrderID, "better price trades first regardless of arrival order")
}

func TestBook_FIFOWithinLevel(t *testing.T) {
	b := New("AAPL", sequentialID("E"))
	b.Add(newOrder("buy-1", fixtypes.SideBuy, fixtypes.OrdTypeLimit, 50, 150.00))
	b.Add(newOrder("buy-2", fixtypes.SideBuy, fixtypes.OrdTypeLimit, 50, 150.00))
	b.Add(newOrder("sell-1", fixtypes.SideSell, fixtypes.OrdTypeLimit, 50, 150.00))

	execs := b.Match()
	require.Len(t, execs, 1)
	assert.Equal(t, "buy-1", execs[0].BuyOrderID, "earlier order at the same price trades first")
}

func TestBook_MarketOrderSweepsAndNeverRests(t *testing.T) {
	b := New("AAPL", sequentialID("E"))
	b.Add(newOrder("sell-1", fixtypes.SideSell, fixtypes.OrdTypeLimit, 50, 150.00))
	b.Add(newOrder("buy-1", fixtypes.SideBuy, fixtypes.OrdTypeMarket, 100, 0))

	execs := b.Match()
	require.Len(t, execs, 1)
	assert.Equal(t, int64(50), execs[0].LastQty)
	assert.Equal(t, 150.00, execs[0].LastPx, "market taker prints at the resting limit price")

	_, ok := b.Get("buy-1")
	assert.False(t, ok, "unfilled market residual is canceled, never rests")

	_, ok = b.BestBid()
	assert.False(t, ok, "book has no remaining bid liquidity")
}

func TestBook_MarketOrderFullyFilled(t *testing.T) {
	b := New("AAPL", sequentialID("E"))
	b.Add(newOrder("sell-1", fixtypes.SideSell, fixtypes.OrdTypeLimit, 100, 150.00))
	b.Add(newOrder("buy-1", fixtypes.SideBuy, fixtypes.OrdTypeMarket, 100, 0))

	execs := b.Match()
	require.Len(t, execs, 1)
	assert.Equal(t, int64(100), execs[0].LastQty)

	buy, ok := b.Get("buy-1")
	assert.False(t, ok)
	_ = buy

	_, ok = b.BestAsk()
	assert.False(t, ok, "fully filled resting ask leaves the book too")
}

func TestBook_CancelResting(t *testing.T) {
	b := New("AAPL", sequentialID("E"))
	b.Add(newOrder("buy-1", fixtypes.SideBuy, fixtypes.OrdTypeLimit, 100, 150.00))

	canceled, err := b.Cancel("buy-1")
	require.NoError(t, err)
	assert.Equal(t, fixtypes.OrdStatusCanceled, canceled.Status)

	_, ok := b.Get("buy-1")
	assert.False(t, ok)

	_, ok = b.BestBid()
	assert.False(t, ok)
}

func TestBook_CancelUnknownOrder(t *testing.T) {
	b := New("AAPL", sequentialID("E"))
	_, err := b.Cancel("missing")
	require.Error(t, err)
	assert.True(t, tradserr.Is(err, tradserr.ErrOrderNotFound))
}

func TestBook_CancelTerminalOrder(t *testing.T) {
	b := New("AAPL", sequentialID("E"))
	b.Add(newOrder("buy-1", fixtypes.SideBuy, fixtypes.OrdTypeLimit, 50, 150.00))
	b.Add(newOrder("sell-1", fixtypes.SideSell, fixtypes.OrdTypeLimit, 50, 150.00))
	b.Match()

	_, err := b.Cancel("sell-1")
	require.Error(t, err)
	assert.True(t, tradserr.Is(err, tradserr.ErrOrderNotFound), "filled order no longer tracked by the book")
}

func TestBook_PartialFillLeavesLevelConsistent(t *testing.T) {
	b := New("AAPL", sequentialID("E"))
	b.Add(newOrder("buy-1", fixtypes.SideBuy, fixtypes.OrdTypeLimit, 100, 150.00))
	b.Add(newOrder("sell-1", fixtypes.SideSell, fixtypes.OrdTypeLimit, 30, 150.00))

	execs := b.Match()
	require.Len(t, execs, 1)

	snap := b.Snapshot()
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, int64(70), snap.Bids[0].Qty)
}

func TestBook_SnapshotAggregatesMultipleOrdersPerLevel(t *testing.T) {
	b := New("AAPL", sequentialID("E"))
	b.Add(newOrder("buy-1", fixtypes.SideBuy, fixtypes.OrdTypeLimit, 50, 150.00))
	b.Add(newOrder("buy-2", fixtypes.SideBuy, fixtypes.OrdTypeLimit, 25, 150.00))

	snap := b.Snapshot()
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, int64(75), snap.Bids[0].Qty)
}
