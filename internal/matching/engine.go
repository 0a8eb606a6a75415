// Package matching is the registry that fans incoming orders out to the
// right per-symbol book, lazily creating one on first sight of a symbol.
// Book lookup is guarded by a RWMutex so concurrent Submit calls for
// different symbols never block each other; each Book then serializes its
// own Add+Match under its own internal lock.
package matching

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/abdoElHodaky/fixsim/internal/matching/orderbook"
	"github.com/abdoElHodaky/fixsim/pkg/fixtypes"
	"github.com/abdoElHodaky/fixsim/pkg/tradserr"
)

// Publisher is the subset of the event bus the engine needs: fire-and-track
// notification of state changes, decoupled so tests can stub it out.
type Publisher interface {
	PublishOrder(ctx context.Context, o fixtypes.OrderSnapshot, eventType string)
	PublishExecution(ctx context.Context, e fixtypes.Execution)
}

// Engine is the symbol registry and the entry point Submit/Cancel/Snapshot
// operations go through; it never matches directly, that is Book's job.
type Engine struct {
	mu     sync.RWMutex
	books  map[string]*orderbook.Book
	execID orderbook.IDFunc

	logger    *zap.Logger
	publisher Publisher

	metrics *Metrics
}

// Metrics tracks engine-wide throughput counters, read via Stats.
type Metrics struct {
	ordersSubmitted uint64
	executionsCount uint64
	lastProcessedAt atomic.Value // time.Time
}

// New creates an empty registry. execID mints execution identifiers handed
// to every Book it creates; publisher may be nil, in which case events are
// simply not published (used in tests that only exercise the book).
func New(execID orderbook.IDFunc, logger *zap.Logger, publisher Publisher) *Engine {
	return &Engine{
		books:     make(map[string]*orderbook.Book),
		execID:    execID,
		logger:    logger,
		publisher: publisher,
		metrics:   &Metrics{},
	}
}

// Submit hands the order straight to its symbol's book: insert then sweep,
// in one atomic step with respect to that symbol. Validation (whitelist,
// quantity, price, ClOrdID uniqueness) is the caller's responsibility via
// validate.Validator before Submit is ever called; Submit re-checks the
// whitelist defensively since it alone decides whether a book is created.
func (e *Engine) Submit(ctx context.Context, o *fixtypes.Order) ([]fixtypes.Execution, error) {
	if !fixtypes.Whitelist[o.Symbol] {
		return nil, tradserr.New(tradserr.ErrSymbolNotFound, "symbol not tradeable").WithDetail("symbol", o.Symbol)
	}

	book := e.getOrCreateBook(o.Symbol)
	book.Add(o)
	execs := book.Match()

	atomic.AddUint64(&e.metrics.ordersSubmitted, 1)
	atomic.AddUint64(&e.metrics.executionsCount, uint64(len(execs)))
	e.metrics.lastProcessedAt.Store(time.Now())

	if e.publisher != nil {
		e.publisher.PublishOrder(ctx, o.Snapshot(), "order.accepted")
		for _, ex := range execs {
			e.publisher.PublishExecution(ctx, ex)
		}
	}

	if e.logger != nil {
		e.logger.Debug("order submitted",
			zap.String("order_id", o.OrderID),
			zap.String("symbol", o.Symbol),
			zap.Int("executions", len(execs)))
	}

	return execs, nil
}

// Cancel looks up order by id in the symbol's book and cancels it. Unlike
// the teacher's linear scan across every book, Cancel here requires the
// symbol — a session resolves it from its ClOrdID/OrderID index before
// calling in, so there is no need to pay an O(symbols) search per cancel.
func (e *Engine) Cancel(ctx context.Context, symbol, orderID string) (*fixtypes.Order, error) {
	e.mu.RLock()
	book, ok := e.books[symbol]
	e.mu.RUnlock()
	if !ok {
		return nil, tradserr.New(tradserr.ErrSymbolNotFound, "symbol not found").WithDetail("symbol", symbol)
	}

	o, err := book.Cancel(orderID)
	if err != nil {
		return nil, err
	}

	if e.publisher != nil {
		e.publisher.PublishOrder(ctx, o.Snapshot(), "order.canceled")
	}
	return o, nil
}

// Snapshot returns the current aggregated depth for symbol, or a not-found
// error if no book has ever been created for it.
func (e *Engine) Snapshot(symbol string) (fixtypes.BookSnapshot, error) {
	e.mu.RLock()
	book, ok := e.books[symbol]
	e.mu.RUnlock()
	if !ok {
		return fixtypes.BookSnapshot{}, tradserr.New(tradserr.ErrSymbolNotFound, "symbol not found").WithDetail("symbol", symbol)
	}
	return book.Snapshot(), nil
}

// GetOrder looks up a resting order within symbol's book.
func (e *Engine) GetOrder(symbol, orderID string) (*fixtypes.Order, bool) {
	e.mu.RLock()
	book, ok := e.books[symbol]
	e.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return book.Get(orderID)
}

func (e *Engine) getOrCreateBook(symbol string) *orderbook.Book {
	e.mu.RLock()
	book, ok := e.books[symbol]
	e.mu.RUnlock()
	if ok {
		return book
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if book, ok = e.books[symbol]; ok {
		return book
	}
	book = orderbook.New(symbol, e.execID)
	e.books[symbol] = book
	return book
}

// Stats is a point-in-time read of the engine's throughput counters.
type Stats struct {
	OrdersSubmitted uint64
	Executions      uint64
	LastProcessedAt time.Time
}

// Stats returns the current throughput counters.
func (e *Engine) Stats() Stats {
	var last time.Time
	if v := e.metrics.lastProcessedAt.Load(); v != nil {
		last = v.(time.Time)
	}
	return Stats{
		OrdersSubmitted: atomic.LoadUint64(&e.metrics.ordersSubmitted),
		Executions:      atomic.LoadUint64(&e.metrics.executionsCount),
		LastProcessedAt: last,
	}
}
