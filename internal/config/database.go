package config

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// PoolConfig tunes the pooled connection gormstore opens against the
// persistence backend. Adapted from the teacher's HFT SQLite tuning knobs,
// narrowed to the subset a pooled network database actually exposes:
// max/idle connection counts and lifetime, plus a silence switch for GORM's
// own query logger so matching-path persistence calls don't spam stdout.
type PoolConfig struct {
	MaxOpenConns    int           `yaml:"max_open_conns" default:"20"`
	MaxIdleConns    int           `yaml:"max_idle_conns" default:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" default:"30m"`
	SilentLogger    bool          `yaml:"silent_logger" default:"true"`
}

// DefaultPoolConfig mirrors Breaker/Session's defaulting convention: safe
// values a caller can start from and override selectively.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		SilentLogger:    true,
	}
}

// NewPostgresDatabase opens a pooled *gorm.DB against dsn for gormstore,
// the postgres counterpart to the teacher's NewHFTDatabase SQLite opener.
func NewPostgresDatabase(dsn string, pool *PoolConfig) (*gorm.DB, error) {
	if pool == nil {
		pool = DefaultPoolConfig()
	}

	gormConfig := &gorm.Config{}
	if pool.SilentLogger {
		gormConfig.Logger = logger.Default.LogMode(logger.Silent)
	}

	db, err := gorm.Open(postgres.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)

	return db, nil
}

// DatabaseStats reports pool occupancy for the monitoring package to expose
// as gauges alongside matching engine throughput.
func DatabaseStats(db *gorm.DB) (map[string]interface{}, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}

	dbStats := sqlDB.Stats()
	return map[string]interface{}{
		"max_open_connections": dbStats.MaxOpenConnections,
		"open_connections":      dbStats.OpenConnections,
		"in_use":                dbStats.InUse,
		"idle":                  dbStats.Idle,
		"wait_count":            dbStats.WaitCount,
		"wait_duration":         dbStats.WaitDuration,
	}, nil
}
