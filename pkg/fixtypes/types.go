// Package fixtypes holds the wire-level and domain types shared by the
// codec, matching engine and session packages. Side, order type and order
// status are stored as the raw FIX tag codes, never as display strings —
// presentation is a boundary concern, not a storage concern.
package fixtypes

import "time"

// Side is FIX tag 54.
type Side byte

const (
	SideBuy  Side = '1'
	SideSell Side = '2'
)

func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// OrdType is FIX tag 40.
type OrdType byte

const (
	OrdTypeMarket OrdType = '1'
	OrdTypeLimit  OrdType = '2'
)

func (t OrdType) Valid() bool { return t == OrdTypeMarket || t == OrdTypeLimit }

// OrdStatus is FIX tag 39.
type OrdStatus byte

const (
	OrdStatusNew             OrdStatus = '0'
	OrdStatusPartiallyFilled OrdStatus = '1'
	OrdStatusFilled          OrdStatus = '2'
	OrdStatusCanceled        OrdStatus = '4'
	OrdStatusRejected        OrdStatus = '8'
)

// Terminal reports whether an order in this status is removed from the book.
func (s OrdStatus) Terminal() bool {
	return s == OrdStatusFilled || s == OrdStatusCanceled || s == OrdStatusRejected
}

// Whitelist is the closed set of tradeable symbols (spec §6).
var Whitelist = map[string]bool{
	"AAPL":  true,
	"GOOGL": true,
	"MSFT":  true,
	"AMZN":  true,
	"TSLA":  true,
}

// Order is the exchange-internal representation of a resting or terminal order.
// Orders are exclusively owned by the OrderBook once accepted; sessions keep
// only the OrderID (and a ClOrdID index) for cancel resolution.
type Order struct {
	OrderID   string
	ClOrdID   string
	SessionID string
	Symbol    string
	Side      Side
	OrdType   OrdType
	Qty       int64
	FilledQty int64
	Price     float64
	Status    OrdStatus
	Seq       uint64
	CreatedAt time.Time
}

// Remaining is the unfilled quantity; invariant 0 <= Remaining <= Qty.
func (o *Order) Remaining() int64 { return o.Qty - o.FilledQty }

// Terminal reports whether the order has left the book.
func (o *Order) Terminal() bool { return o.Status.Terminal() }

// Snapshot copies the fields needed to persist or publish order state,
// decoupled from the live order a book continues to mutate.
func (o *Order) Snapshot() OrderSnapshot {
	return OrderSnapshot{
		OrderID:   o.OrderID,
		ClOrdID:   o.ClOrdID,
		Symbol:    o.Symbol,
		Side:      o.Side,
		OrdType:   o.OrdType,
		Qty:       o.Qty,
		FilledQty: o.FilledQty,
		Price:     o.Price,
		Status:    o.Status,
		Timestamp: time.Now(),
	}
}

// OrderSnapshot is the immutable, persistable view of an order's state at a
// point in time — the logical schema of spec §6's persistence section.
type OrderSnapshot struct {
	OrderID   string
	ClOrdID   string
	Symbol    string
	Side      Side
	OrdType   OrdType
	Qty       int64
	FilledQty int64
	Price     float64
	Status    OrdStatus
	Timestamp time.Time
}

// Execution is immutable once emitted.
type Execution struct {
	ExecID      string
	BuyOrderID  string
	SellOrderID string
	Symbol      string
	LastQty     int64
	LastPx      float64
	Timestamp   time.Time
}

// OrderBookLevel is one aggregated price/quantity point in a depth snapshot.
type OrderBookLevel struct {
	Price float64
	Qty   int64
}

// BookSnapshot is the aggregated depth view returned by Engine.Snapshot.
type BookSnapshot struct {
	Symbol string
	Bids   []OrderBookLevel
	Asks   []OrderBookLevel
}
