package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdoElHodaky/fixsim/pkg/fixtypes"
)

func TestStore_SaveAndFindOrder(t *testing.T) {
	s := New()
	ctx := context.Background()

	o := fixtypes.OrderSnapshot{OrderID: "o1", Symbol: "AAPL", Status: fixtypes.OrdStatusNew, Timestamp: time.Now()}
	require.NoError(t, s.SaveOrder(ctx, o))

	got, err := s.FindOrder(ctx, "o1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "AAPL", got.Symbol)
}

func TestStore_FindOrderMissingReturnsNilNotError(t *testing.T) {
	s := New()
	got, err := s.FindOrder(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_SaveOrderIdempotentOnSameState(t *testing.T) {
	s := New()
	ctx := context.Background()
	o := fixtypes.OrderSnapshot{OrderID: "o1", Status: fixtypes.OrdStatusNew, FilledQty: 0}
	require.NoError(t, s.SaveOrder(ctx, o))
	require.NoError(t, s.SaveOrder(ctx, o))

	count, err := s.CountOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestStore_SaveExecutionIdempotentOnSameExecID(t *testing.T) {
	s := New()
	ctx := context.Background()
	e := fixtypes.Execution{ExecID: "e1", Symbol: "AAPL"}
	require.NoError(t, s.SaveExecution(ctx, e))
	require.NoError(t, s.SaveExecution(ctx, e))

	got, err := s.RecentExecutions(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestStore_OrdersBySymbolFilters(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.SaveOrder(ctx, fixtypes.OrderSnapshot{OrderID: "o1", Symbol: "AAPL"}))
	require.NoError(t, s.SaveOrder(ctx, fixtypes.OrderSnapshot{OrderID: "o2", Symbol: "MSFT"}))

	got, err := s.OrdersBySymbol(ctx, "AAPL")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "o1", got[0].OrderID)
}

func TestStore_RecentExecutionsRespectsLimit(t *testing.T) {
	s := New()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveExecution(ctx, fixtypes.Execution{ExecID: string(rune('a' + i))}))
	}

	got, err := s.RecentExecutions(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
