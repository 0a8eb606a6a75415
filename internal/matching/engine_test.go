package matching

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdoElHodaky/fixsim/pkg/fixtypes"
)

func sequentialID(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return prefix + string(rune('0'+n))
	}
}

type stubPublisher struct {
	orders []fixtypes.OrderSnapshot
	execs  []fixtypes.Execution
}

func (s *stubPublisher) PublishOrder(_ context.Context, o fixtypes.OrderSnapshot, _ string) {
	s.orders = append(s.orders, o)
}

func (s *stubPublisher) PublishExecution(_ context.Context, e fixtypes.Execution) {
	s.execs = append(s.execs, e)
}

func newTestOrder(id string, side fixtypes.Side, qty int64, price float64) *fixtypes.Order {
	return &fixtypes.Order{
		OrderID:   id,
		ClOrdID:   id,
		Symbol:    "AAPL",
		Side:      side,
		OrdType:   fixtypes.OrdTypeLimit,
		Qty:       qty,
		Price:     price,
		Status:    fixtypes.OrdStatusNew,
		CreatedAt: time.Now(),
	}
}

func TestEngine_SubmitCreatesBookLazily(t *testing.T) {
	e := New(sequentialID("E"), nil, nil)

	_, err := e.Submit(context.Background(), newTestOrder("o1", fixtypes.SideBuy, 100, 150.00))
	require.NoError(t, err)

	snap, err := e.Snapshot("AAPL")
	require.NoError(t, err)
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, int64(100), snap.Bids[0].Qty)
}

func TestEngine_SubmitRejectsUnknownSymbol(t *testing.T) {
	e := New(sequentialID("E"), nil, nil)
	_, err := e.Submit(context.Background(), newTestOrder("o1", fixtypes.SideBuy, 100, 150.00))
	_ = err

	o := newTestOrder("o2", fixtypes.SideBuy, 100, 1.00)
	o.Symbol = "ZZZZ"
	_, err = e.Submit(context.Background(), o)
	require.Error(t, err)
}

func TestEngine_SubmitPublishesOrderAndExecution(t *testing.T) {
	pub := &stubPublisher{}
	e := New(sequentialID("E"), nil, pub)

	_, err := e.Submit(context.Background(), newTestOrder("buy-1", fixtypes.SideBuy, 100, 150.00))
	require.NoError(t, err)
	_, err = e.Submit(context.Background(), newTestOrder("sell-1", fixtypes.SideSell, 100, 150.00))
	require.NoError(t, err)

	require.Len(t, pub.orders, 2)
	require.Len(t, pub.execs, 1)
	assert.Equal(t, "buy-1", pub.execs[0].BuyOrderID)
}

func TestEngine_CancelRequiresKnownSymbol(t *testing.T) {
	e := New(sequentialID("E"), nil, nil)
	_, err := e.Cancel(context.Background(), "AAPL", "missing")
	require.Error(t, err)
}

func TestEngine_CancelResolvesWithinSymbol(t *testing.T) {
	e := New(sequentialID("E"), nil, nil)
	_, err := e.Submit(context.Background(), newTestOrder("o1", fixtypes.SideBuy, 100, 150.00))
	require.NoError(t, err)

	canceled, err := e.Cancel(context.Background(), "AAPL", "o1")
	require.NoError(t, err)
	assert.Equal(t, fixtypes.OrdStatusCanceled, canceled.Status)
}

func TestEngine_StatsTracksThroughput(t *testing.T) {
	e := New(sequentialID("E"), nil, nil)
	_, err := e.Submit(context.Background(), newTestOrder("buy-1", fixtypes.SideBuy, 100, 150.00))
	require.NoError(t, err)
	_, err = e.Submit(context.Background(), newTestOrder("sell-1", fixtypes.SideSell, 100, 150.00))
	require.NoError(t, err)

	stats := e.Stats()
	assert.Equal(t, uint64(2), stats.OrdersSubmitted)
	assert.Equal(t, uint64(1), stats.Executions)
	assert.False(t, stats.LastProcessedAt.IsZero())
}
