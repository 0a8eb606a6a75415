package orderbook

import (
	"container/list"

	"github.com/abdoElHodaky/fixsim/pkg/fixtypes"
)

// priceLevel is the FIFO queue of resting orders at a single price, plus
// the aggregate quantity still resting there. The head of the queue, after
// skipping any terminal orders, is the next eligible taker-target.
type priceLevel struct {
	price     float64
	orders    *list.List // of *fixtypes.Order
	restingQty int64
}

func newPriceLevel(price float64) *priceLevel {
	return &priceLevel{price: price, orders: list.New()}
}

func (pl *priceLevel) push(o *fixtypes.Order) {
	pl.orders.PushBack(o)
	pl.restingQty += o.Remaining()
}

// front returns the first non-terminal order, popping any terminal heads.
func (pl *priceLevel) front() *fixtypes.Order {
	for {
		e := pl.orders.Front()
		if e == nil {
			return nil
		}
		o := e.Value.(*fixtypes.Order)
		if o.Terminal() {
			pl.orders.Remove(e)
			continue
		}
		return o
	}
}

// remove drops an order from the level by id, wherever it sits in the queue.
func (pl *priceLevel) remove(orderID string) bool {
	for e := pl.orders.Front(); e != nil; e = e.Next() {
		o := e.Value.(*fixtypes.Order)
		if o.OrderID == orderID {
			pl.orders.Remove(e)
			return true
		}
	}
	return false
}

func (pl *priceLevel) empty() bool {
	return pl.orders.Len() == 0
}

// recalcRestingQty is called after mutating an order's FilledQty in place,
// since the level's aggregate cache is not automatically kept in sync.
func (pl *priceLevel) recalcRestingQty() {
	var total int64
	for e := pl.orders.Front(); e != nil; e = e.Next() {
		o := e.Value.(*fixtypes.Order)
		if !o.Terminal() {
			total += o.Remaining()
		}
	}
	pl.restingQty = total
}
