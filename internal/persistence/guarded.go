package persistence

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/fixsim/pkg/fixtypes"
	"github.com/abdoElHodaky/fixsim/pkg/tradserr"
)

// Guarded wraps a Port in a circuit breaker so a stalled or failing backend
// degrades to a logged PersistenceError rather than blocking Submit: per
// spec, a persistence failure must never fail matching.
type Guarded struct {
	inner Port
	cb    *gobreaker.CircuitBreaker
	log   *zap.Logger
}

// NewGuarded wraps inner with a circuit breaker named name. The breaker
// trips after 5 consecutive failures and probes again after 10 seconds,
// mirroring the teacher's resilience defaults for an outbound dependency.
func NewGuarded(name string, inner Port, logger *zap.Logger) *Guarded {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(n string, from, to gobreaker.State) {
			if logger != nil {
				logger.Warn("persistence circuit breaker state change",
					zap.String("name", n), zap.String("from", from.String()), zap.String("to", to.String()))
			}
		},
	})
	return &Guarded{inner: inner, cb: cb, log: logger}
}

func (g *Guarded) SaveOrder(ctx context.Context, o fixtypes.OrderSnapshot) error {
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, g.inner.SaveOrder(ctx, o)
	})
	return g.wrap(err, "save_order")
}

func (g *Guarded) SaveExecution(ctx context.Context, e fixtypes.Execution) error {
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, g.inner.SaveExecution(ctx, e)
	})
	return g.wrap(err, "save_execution")
}

func (g *Guarded) FindOrder(ctx context.Context, orderID string) (*fixtypes.OrderSnapshot, error) {
	v, err := g.cb.Execute(func() (interface{}, error) {
		return g.inner.FindOrder(ctx, orderID)
	})
	if err != nil {
		return nil, g.wrap(err, "find_order")
	}
	o, _ := v.(*fixtypes.OrderSnapshot)
	return o, nil
}

func (g *Guarded) OrdersBySymbol(ctx context.Context, symbol string) ([]fixtypes.OrderSnapshot, error) {
	v, err := g.cb.Execute(func() (interface{}, error) {
		return g.inner.OrdersBySymbol(ctx, symbol)
	})
	if err != nil {
		return nil, g.wrap(err, "orders_by_symbol")
	}
	out, _ := v.([]fixtypes.OrderSnapshot)
	return out, nil
}

func (g *Guarded) OrdersByStatus(ctx context.Context, status fixtypes.OrdStatus) ([]fixtypes.OrderSnapshot, error) {
	v, err := g.cb.Execute(func() (interface{}, error) {
		return g.inner.OrdersByStatus(ctx, status)
	})
	if err != nil {
		return nil, g.wrap(err, "orders_by_status")
	}
	out, _ := v.([]fixtypes.OrderSnapshot)
	return out, nil
}

func (g *Guarded) RecentExecutions(ctx context.Context, limit int) ([]fixtypes.Execution, error) {
	v, err := g.cb.Execute(func() (interface{}, error) {
		return g.inner.RecentExecutions(ctx, limit)
	})
	if err != nil {
		return nil, g.wrap(err, "recent_executions")
	}
	out, _ := v.([]fixtypes.Execution)
	return out, nil
}

func (g *Guarded) CountOrders(ctx context.Context) (int64, error) {
	v, err := g.cb.Execute(func() (interface{}, error) {
		return g.inner.CountOrders(ctx)
	})
	if err != nil {
		return 0, g.wrap(err, "count_orders")
	}
	n, _ := v.(int64)
	return n, nil
}

func (g *Guarded) wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	if g.log != nil {
		g.log.Error("persistence operation failed", zap.String("op", op), zap.Error(err))
	}
	return tradserr.Wrap(err, tradserr.ErrPersistenceUnavailable, "persistence operation failed").WithDetail("op", op)
}
