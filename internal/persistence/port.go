// Package persistence defines the durability boundary between the matching
// core and whatever storage backs it. The Port is intentionally narrow and
// opaque to the matching engine: an order book never knows whether its
// fills are landing in Postgres or an in-memory map, and a persistence
// stall must never be allowed to stall matching — see Guarded.
package persistence

import (
	"context"

	"github.com/abdoElHodaky/fixsim/pkg/fixtypes"
)

// Port is the append-only sink the matching core writes through. Every
// write is idempotent on (OrderID, Status, FilledQty): replaying the same
// snapshot twice must not create a duplicate record or corrupt state.
type Port interface {
	SaveOrder(ctx context.Context, o fixtypes.OrderSnapshot) error
	SaveExecution(ctx context.Context, e fixtypes.Execution) error
	FindOrder(ctx context.Context, orderID string) (*fixtypes.OrderSnapshot, error)
	OrdersBySymbol(ctx context.Context, symbol string) ([]fixtypes.OrderSnapshot, error)
	OrdersByStatus(ctx context.Context, status fixtypes.OrdStatus) ([]fixtypes.OrderSnapshot, error)
	RecentExecutions(ctx context.Context, limit int) ([]fixtypes.Execution, error)
	CountOrders(ctx context.Context) (int64, error)
}
