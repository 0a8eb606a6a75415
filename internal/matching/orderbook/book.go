// Package orderbook implements the per-symbol limit order book: two-sided
// price levels under price-time priority, and the level-sweep matching
// algorithm that crosses resting liquidity against incoming orders.
package orderbook

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/abdoElHodaky/fixsim/pkg/fixtypes"
	"github.com/abdoElHodaky/fixsim/pkg/tradserr"
)

// IDFunc mints a server-assigned identifier, e.g. a ksuid, for executions.
type IDFunc func() string

// Book is a single symbol's two-sided order book. The book exclusively
// owns its price levels and orders once Add accepts them; callers must not
// retain a reference to the *fixtypes.Order for mutation outside the book.
type Book struct {
	mu sync.Mutex

	Symbol string

	bids      map[float64]*priceLevel
	bidPrices []float64 // sorted descending

	asks      map[float64]*priceLevel
	askPrices []float64 // sorted ascending

	orders map[string]*fixtypes.Order

	seq    uint64
	execID IDFunc
}

// New creates an empty book for symbol. execID mints execution identifiers.
func New(symbol string, execID IDFunc) *Book {
	return &Book{
		Symbol: symbol,
		bids:   make(map[float64]*priceLevel),
		asks:   make(map[float64]*priceLevel),
		orders: make(map[string]*fixtypes.Order),
		execID: execID,
	}
}

// Add inserts order into the appropriate side at its price level, appending
// to the FIFO tail and assigning the monotonic arrival sequence used for
// time-priority tiebreaks.
func (b *Book) Add(o *fixtypes.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.add(o)
}

// marketSentinelPrice is the level key a Market order is filed under so the
// generic level-sweep in match() discovers it as the unconditional best of
// its side — +Inf always outranks a bid's descending sort, -Inf always
// outranks an ask's ascending sort. The order's own Price field is left
// unused, per spec; only this bookkeeping key uses the sentinel.
func marketSentinelPrice(side fixtypes.Side) float64 {
	if side == fixtypes.SideBuy {
		return math.Inf(1)
	}
	return math.Inf(-1)
}

func (b *Book) add(o *fixtypes.Order) {
	b.seq++
	o.Seq = b.seq
	b.orders[o.OrderID] = o

	key := o.Price
	if o.OrdType == fixtypes.OrdTypeMarket {
		key = marketSentinelPrice(o.Side)
	}

	switch o.Side {
	case fixtypes.SideBuy:
		lvl, ok := b.bids[key]
		if !ok {
			lvl = newPriceLevel(key)
			b.bids[key] = lvl
			b.bidPrices = insertSorted(b.bidPrices, key, true)
		}
		lvl.push(o)
	case fixtypes.SideSell:
		lvl, ok := b.asks[key]
		if !ok {
			lvl = newPriceLevel(key)
			b.asks[key] = lvl
			b.askPrices = insertSorted(b.askPrices, key, false)
		}
		lvl.push(o)
	}
}

func insertSorted(prices []float64, p float64, descending bool) []float64 {
	i := sort.Search(len(prices), func(i int) bool {
		if descending {
			return prices[i] <= p
		}
		return prices[i] >= p
	})
	prices = append(prices, 0)
	copy(prices[i+1:], prices[i:])
	prices[i] = p
	return prices
}

// Cancel marks order as Canceled and removes it from its level. Returns
// tradserr ErrOrderNotFound if absent, ErrOrderTerminal if already terminal.
func (b *Book) Cancel(orderID string) (*fixtypes.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[orderID]
	if !ok {
		return nil, tradserr.New(tradserr.ErrOrderNotFound, "order not found").WithDetail("order_id", orderID)
	}
	if o.Terminal() {
		return nil, tradserr.New(tradserr.ErrOrderTerminal, "order already terminal").WithDetail("order_id", orderID)
	}

	o.Status = fixtypes.OrdStatusCanceled
	b.removeFromLevel(o)
	delete(b.orders, orderID)
	return o, nil
}

func (b *Book) removeFromLevel(o *fixtypes.Order) {
	key := o.Price
	if o.OrdType == fixtypes.OrdTypeMarket {
		key = marketSentinelPrice(o.Side)
	}

	var levels map[float64]*priceLevel
	var prices *[]float64
	if o.Side == fixtypes.SideBuy {
		levels = b.bids
		prices = &b.bidPrices
	} else {
		levels = b.asks
		prices = &b.askPrices
	}
	lvl, ok := levels[key]
	if !ok {
		return
	}
	lvl.remove(o.OrderID)
	if lvl.empty() {
		delete(levels, key)
		*prices = removePrice(*prices, key)
	} else {
		lvl.recalcRestingQty()
	}
}

func removePrice(prices []float64, p float64) []float64 {
	for i, v := range prices {
		if v == p {
			return append(prices[:i], prices[i+1:]...)
		}
	}
	return prices
}

// Get returns the order by id, if still tracked by this book.
func (b *Book) Get(orderID string) (*fixtypes.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[orderID]
	return o, ok
}

// BestBid and BestAsk return the top-of-book price, or (0, false) if empty.
func (b *Book) BestBid() (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.bidPrices) == 0 {
		return 0, false
	}
	return b.bidPrices[0], true
}

func (b *Book) BestAsk() (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.askPrices) == 0 {
		return 0, false
	}
	return b.askPrices[0], true
}

// Match repeatedly crosses the top of book until no further match is
// possible, per the level-sweep algorithm: price priority across levels,
// FIFO time priority within a level, resting-side price on every fill. An
// unfilled market-order residual is marked Canceled and removed from the
// book; Match itself emits no report or Execution for that cancel.
func (b *Book) Match() []fixtypes.Execution {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.match()
}

func (b *Book) match() []fixtypes.Execution {
	var execs []fixtypes.Execution

	for {
		bidLvl := b.topLevel(true)
		askLvl := b.topLevel(false)
		if bidLvl == nil || askLvl == nil {
			break
		}
		buy := bidLvl.front()
		sell := askLvl.front()
		if bidLvl.empty() {
			delete(b.bids, bidLvl.price)
			b.bidPrices = removePrice(b.bidPrices, bidLvl.price)
		}
		if askLvl.empty() {
			delete(b.asks, askLvl.price)
			b.askPrices = removePrice(b.askPrices, askLvl.price)
		}
		if buy == nil || sell == nil {
			continue
		}

		crossable := buy.OrdType == fixtypes.OrdTypeMarket ||
			sell.OrdType == fixtypes.OrdTypeMarket ||
			buy.Price >= sell.Price
		if !crossable {
			break
		}

		matchQty := buy.Remaining()
		if sell.Remaining() < matchQty {
			matchQty = sell.Remaining()
		}

		var matchPrice float64
		switch {
		case buy.OrdType == fixtypes.OrdTypeMarket && sell.OrdType == fixtypes.OrdTypeMarket:
			// Two market orders only cross in this design if one already
			// rested as a limit; pure market-market has no reference price
			// and cannot occur since market orders never rest (see add()).
			matchPrice = 0
		case buy.Seq > sell.Seq:
			matchPrice = sell.Price
		default:
			matchPrice = buy.Price
		}

		buy.FilledQty += matchQty
		sell.FilledQty += matchQty
		updateStatus(buy)
		updateStatus(sell)

		execs = append(execs, fixtypes.Execution{
			ExecID:      b.execID(),
			BuyOrderID:  buy.OrderID,
			SellOrderID: sell.OrderID,
			Symbol:      b.Symbol,
			LastQty:     matchQty,
			LastPx:      matchPrice,
			Timestamp:   time.Now(),
		})

		if buy.Terminal() {
			b.finishOrder(buy, bidLvl, true)
		} else {
			bidLvl.recalcRestingQty()
		}
		if sell.Terminal() {
			b.finishOrder(sell, askLvl, false)
		} else {
			askLvl.recalcRestingQty()
		}
	}

	// Any market order that could not be fully filled is canceled for its
	// residual and removed from the book immediately; market orders never
	// rest once matching terminates.
	for id, o := range b.orders {
		if o.OrdType == fixtypes.OrdTypeMarket && !o.Terminal() {
			o.Status = fixtypes.OrdStatusCanceled
			b.removeFromLevel(o)
			delete(b.orders, id)
		}
	}

	return execs
}

// finishOrder removes a terminal order from its level's FIFO queue and, if
// that empties the level, from the level map and sorted price slice. This
// applies to market orders too: they are filed under a sentinel price for
// the duration of a single match() sweep and must not linger there once
// filled, exactly as a limit order must not linger once filled or canceled.
func (b *Book) finishOrder(o *fixtypes.Order, lvl *priceLevel, isBid bool) {
	lvl.remove(o.OrderID)
	lvl.recalcRestingQty()
	if lvl.empty() {
		if isBid {
			delete(b.bids, lvl.price)
			b.bidPrices = removePrice(b.bidPrices, lvl.price)
		} else {
			delete(b.asks, lvl.price)
			b.askPrices = removePrice(b.askPrices, lvl.price)
		}
	}
	delete(b.orders, o.OrderID)
}

func updateStatus(o *fixtypes.Order) {
	if o.Remaining() == 0 {
		o.Status = fixtypes.OrdStatusFilled
	} else {
		o.Status = fixtypes.OrdStatusPartiallyFilled
	}
}

// topLevel returns the best non-empty level on the requested side, dropping
// any levels it finds fully empty along the way (all-terminal heads).
func (b *Book) topLevel(bid bool) *priceLevel {
	if bid {
		for len(b.bidPrices) > 0 {
			lvl := b.bids[b.bidPrices[0]]
			if lvl.front() == nil && lvl.empty() {
				delete(b.bids, b.bidPrices[0])
				b.bidPrices = b.bidPrices[1:]
				continue
			}
			return lvl
		}
		return nil
	}
	for len(b.askPrices) > 0 {
		lvl := b.asks[b.askPrices[0]]
		if lvl.front() == nil && lvl.empty() {
			delete(b.asks, b.askPrices[0])
			b.askPrices = b.askPrices[1:]
			continue
		}
		return lvl
	}
	return nil
}

// Snapshot returns the aggregated depth (price -> resting qty) per side.
func (b *Book) Snapshot() fixtypes.BookSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := fixtypes.BookSnapshot{Symbol: b.Symbol}
	for _, p := range b.bidPrices {
		lvl := b.bids[p]
		snap.Bids = append(snap.Bids, fixtypes.OrderBookLevel{Price: p, Qty: lvl.restingQty})
	}
	for _, p := range b.askPrices {
		lvl := b.asks[p]
		snap.Asks = append(snap.Asks, fixtypes.OrderBookLevel{Price: p, Qty: lvl.restingQty})
	}
	return snap
}
