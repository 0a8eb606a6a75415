// Package memstore is the default, map-backed Port implementation: no
// external dependency, used by tests and as the out-of-the-box persistence
// backend. Writes are idempotent on (OrderID, Status, FilledQty), same as
// gormstore — a repeated SaveOrder for a state already on record is a
// no-op rather than a duplicate.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/abdoElHodaky/fixsim/pkg/fixtypes"
)

// Store is a thread-safe, in-memory persistence.Port.
type Store struct {
	mu         sync.RWMutex
	orders     map[string]fixtypes.OrderSnapshot
	executions []fixtypes.Execution
}

// New creates an empty Store.
func New() *Store {
	return &Store{orders: make(map[string]fixtypes.OrderSnapshot)}
}

func (s *Store) SaveOrder(_ context.Context, o fixtypes.OrderSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.orders[o.OrderID]; ok &&
		existing.Status == o.Status && existing.FilledQty == o.FilledQty {
		return nil
	}
	s.orders[o.OrderID] = o
	return nil
}

func (s *Store) SaveExecution(_ context.Context, e fixtypes.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.executions {
		if existing.ExecID == e.ExecID {
			return nil
		}
	}
	s.executions = append(s.executions, e)
	return nil
}

func (s *Store) FindOrder(_ context.Context, orderID string) (*fixtypes.OrderSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (s *Store) OrdersBySymbol(_ context.Context, symbol string) ([]fixtypes.OrderSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []fixtypes.OrderSnapshot
	for _, o := range s.orders {
		if o.Symbol == symbol {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *Store) OrdersByStatus(_ context.Context, status fixtypes.OrdStatus) ([]fixtypes.OrderSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []fixtypes.OrderSnapshot
	for _, o := range s.orders {
		if o.Status == status {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *Store) RecentExecutions(_ context.Context, limit int) ([]fixtypes.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.executions)
	if limit > 0 && limit < n {
		return append([]fixtypes.Execution(nil), s.executions[n-limit:]...), nil
	}
	return append([]fixtypes.Execution(nil), s.executions...), nil
}

func (s *Store) CountOrders(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.orders)), nil
}
