// Package gormstore is the Postgres-backed persistence.Port, adapted from
// the teacher's OrderRepository: same *gorm.DB-plus-*zap.Logger shape, same
// WithContext/Create/Save idiom, narrowed to the two tables the matching
// core actually needs. Orders upsert on order_id (updating status,
// filled_qty and timestamp) so a replayed snapshot never produces a
// duplicate row.
package gormstore

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/abdoElHodaky/fixsim/pkg/fixtypes"
)

// orderRow is the orders table schema.
type orderRow struct {
	OrderID   string `gorm:"primaryKey"`
	ClOrdID   string `gorm:"index"`
	Symbol    string `gorm:"index"`
	Side      byte
	OrdType   byte
	Qty       int64
	FilledQty int64
	Price     float64
	Status    byte `gorm:"index"`
	Timestamp int64
}

func (orderRow) TableName() string { return "orders" }

// executionRow is the executions table schema.
type executionRow struct {
	ExecID      string `gorm:"primaryKey"`
	BuyOrderID  string `gorm:"index"`
	SellOrderID string `gorm:"index"`
	Symbol      string `gorm:"index"`
	LastQty     int64
	LastPx      float64
	Timestamp   int64 `gorm:"index"`
}

func (executionRow) TableName() string { return "executions" }

// Store is a Postgres-backed persistence.Port.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// New wraps db, running AutoMigrate for the orders and executions tables.
func New(db *gorm.DB, logger *zap.Logger) (*Store, error) {
	if err := db.AutoMigrate(&orderRow{}, &executionRow{}); err != nil {
		return nil, err
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) SaveOrder(ctx context.Context, o fixtypes.OrderSnapshot) error {
	row := orderRow{
		OrderID:   o.OrderID,
		ClOrdID:   o.ClOrdID,
		Symbol:    o.Symbol,
		Side:      byte(o.Side),
		OrdType:   byte(o.OrdType),
		Qty:       o.Qty,
		FilledQty: o.FilledQty,
		Price:     o.Price,
		Status:    byte(o.Status),
		Timestamp: o.Timestamp.UnixNano(),
	}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "filled_qty", "timestamp"}),
	}).Create(&row)
	if result.Error != nil {
		s.logger.Error("failed to save order", zap.Error(result.Error), zap.String("order_id", o.OrderID))
		return result.Error
	}
	return nil
}

func (s *Store) SaveExecution(ctx context.Context, e fixtypes.Execution) error {
	row := executionRow{
		ExecID:      e.ExecID,
		BuyOrderID:  e.BuyOrderID,
		SellOrderID: e.SellOrderID,
		Symbol:      e.Symbol,
		LastQty:     e.LastQty,
		LastPx:      e.LastPx,
		Timestamp:   e.Timestamp.UnixNano(),
	}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "exec_id"}},
		DoNothing: true,
	}).Create(&row)
	if result.Error != nil {
		s.logger.Error("failed to save execution", zap.Error(result.Error), zap.String("exec_id", e.ExecID))
		return result.Error
	}
	return nil
}

func (s *Store) FindOrder(ctx context.Context, orderID string) (*fixtypes.OrderSnapshot, error) {
	var row orderRow
	err := s.db.WithContext(ctx).Where("order_id = ?", orderID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		s.logger.Error("failed to find order", zap.Error(err), zap.String("order_id", orderID))
		return nil, err
	}
	snap := rowToSnapshot(row)
	return &snap, nil
}

func (s *Store) OrdersBySymbol(ctx context.Context, symbol string) ([]fixtypes.OrderSnapshot, error) {
	var rows []orderRow
	err := s.db.WithContext(ctx).Where("symbol = ?", symbol).Order("timestamp ASC").Find(&rows).Error
	if err != nil {
		s.logger.Error("failed to find orders by symbol", zap.Error(err), zap.String("symbol", symbol))
		return nil, err
	}
	return rowsToSnapshots(rows), nil
}

func (s *Store) OrdersByStatus(ctx context.Context, status fixtypes.OrdStatus) ([]fixtypes.OrderSnapshot, error) {
	var rows []orderRow
	err := s.db.WithContext(ctx).Where("status = ?", byte(status)).Order("timestamp ASC").Find(&rows).Error
	if err != nil {
		s.logger.Error("failed to find orders by status", zap.Error(err))
		return nil, err
	}
	return rowsToSnapshots(rows), nil
}

func (s *Store) RecentExecutions(ctx context.Context, limit int) ([]fixtypes.Execution, error) {
	var rows []executionRow
	q := s.db.WithContext(ctx).Order("timestamp DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		s.logger.Error("failed to load recent executions", zap.Error(err))
		return nil, err
	}
	out := make([]fixtypes.Execution, len(rows))
	for i, r := range rows {
		out[i] = fixtypes.Execution{
			ExecID:      r.ExecID,
			BuyOrderID:  r.BuyOrderID,
			SellOrderID: r.SellOrderID,
			Symbol:      r.Symbol,
			LastQty:     r.LastQty,
			LastPx:      r.LastPx,
			Timestamp:   fromUnixNano(r.Timestamp),
		}
	}
	return out, nil
}

func (s *Store) CountOrders(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&orderRow{}).Count(&count).Error; err != nil {
		s.logger.Error("failed to count orders", zap.Error(err))
		return 0, err
	}
	return count, nil
}

func rowsToSnapshots(rows []orderRow) []fixtypes.OrderSnapshot {
	out := make([]fixtypes.OrderSnapshot, len(rows))
	for i, r := range rows {
		out[i] = rowToSnapshot(r)
	}
	return out
}

func rowToSnapshot(r orderRow) fixtypes.OrderSnapshot {
	return fixtypes.OrderSnapshot{
		OrderID:   r.OrderID,
		ClOrdID:   r.ClOrdID,
		Symbol:    r.Symbol,
		Side:      fixtypes.Side(r.Side),
		OrdType:   fixtypes.OrdType(r.OrdType),
		Qty:       r.Qty,
		FilledQty: r.FilledQty,
		Price:     r.Price,
		Status:    fixtypes.OrdStatus(r.Status),
		Timestamp: fromUnixNano(r.Timestamp),
	}
}

func fromUnixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}
