package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/abdoElHodaky/fixsim/internal/eventbus"
	"github.com/abdoElHodaky/fixsim/pkg/fixtypes"
)

// OrderDirectory maps an accepted OrderID to the Session that owns it.
// A crossed resting order's fill is published while a different session's
// call to Engine.Submit is still on the stack, so the resting order's own
// session — which never called Submit itself — needs a way to be found
// and notified. Track it here the moment an order is accepted; Forget it
// once it can no longer be crossed again (canceled or fully filled).
type OrderDirectory struct {
	mu       sync.RWMutex
	sessions map[string]*Session // OrderID -> owning Session
}

// NewOrderDirectory returns an empty, ready-to-use directory.
func NewOrderDirectory() *OrderDirectory {
	return &OrderDirectory{sessions: make(map[string]*Session)}
}

// Track records that orderID belongs to s.
func (d *OrderDirectory) Track(orderID string, s *Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[orderID] = s
}

// Forget drops orderID, e.g. once it is canceled or fully filled.
func (d *OrderDirectory) Forget(orderID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sessions, orderID)
}

// Lookup returns the session that owns orderID, if any is still tracked.
func (d *OrderDirectory) Lookup(orderID string) (*Session, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.sessions[orderID]
	return s, ok
}

// RegisterFillRouter attaches a critical handler to bus that, on every
// execution, delivers a Filled/PartiallyFilled execution report to both
// the buy and the sell side's owning session — including a resting order's
// session that has nothing else on the call stack to notify it. Critical
// handlers run synchronously inside Engine.Submit, before it returns to
// whichever session triggered the match, so both sides see their fill in
// the same order executions actually happened.
func RegisterFillRouter(bus *eventbus.Bus, registry *OrderDirectory) {
	bus.RegisterCritical(func(ctx context.Context, env eventbus.Envelope) error {
		if env.Kind != "execution.reported" {
			return nil
		}
		var exec fixtypes.Execution
		if err := json.Unmarshal(env.Payload, &exec); err != nil {
			return nil
		}
		for _, orderID := range [2]string{exec.BuyOrderID, exec.SellOrderID} {
			if s, ok := registry.Lookup(orderID); ok {
				s.DeliverFill(orderID, exec)
			}
		}
		return nil
	})
}
