package database

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"collab-board/backend/internal/config"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DatabasePool owns the board's Postgres connection pool. Every task write
// is a short transaction holding one connection, so the pool size bounds
// how many commits can be in flight across all tasks at once.
type DatabasePool struct {
	*gorm.DB
	config *PoolConfig
}

type PoolConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	LogLevel        logger.LogLevel
	PingTimeout     time.Duration
}

// NewPoolConfig derives pool settings from the loaded board configuration.
func NewPoolConfig(cfg *config.Config) *PoolConfig {
	db := cfg.Database
	pc := &PoolConfig{
		DSN:             cfg.GetDSN(),
		MaxOpenConns:    db.MaxOpenConns,
		MaxIdleConns:    db.MaxIdleConns,
		ConnMaxLifetime: db.ConnMaxLifetime,
		ConnMaxIdleTime: db.ConnMaxIdleTime,
		LogLevel:        ParseLogLevel(db.LogLevel),
		PingTimeout:     5 * time.Second,
	}
	if pc.MaxIdleConns > pc.MaxOpenConns && pc.MaxOpenConns > 0 {
		pc.MaxIdleConns = pc.MaxOpenConns
	}
	return pc
}

// ParseLogLevel maps a config string onto gorm's log levels.
func ParseLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

func NewDatabasePool(cfg *PoolConfig) (*DatabasePool, error) {
	return Open(postgres.Open(cfg.DSN), cfg)
}

// Open configures a pool over any gorm dialector and verifies it with a ping.
func Open(dialector gorm.Dialector, cfg *PoolConfig) (*DatabasePool, error) {
	// TranslateError surfaces unique violations as gorm.ErrDuplicatedKey.
	// The automatic ping is skipped in favour of the deadline-bound one below.
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 logger.Default.LogMode(cfg.LogLevel),
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		TranslateError:         true,
		DisableAutomaticPing:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Printf("🗄️  Board database pool ready (%d max connections, %d idle)", cfg.MaxOpenConns, cfg.MaxIdleConns)

	return &DatabasePool{DB: db, config: cfg}, nil
}

// PoolStats is the pool snapshot reported on /health. Saturated means every
// connection is busy, so new task writes queue behind in-flight commits.
type PoolStats struct {
	MaxOpen        int   `json:"max_open_connections"`
	Open           int   `json:"open_connections"`
	InUse          int   `json:"in_use"`
	Idle           int   `json:"idle"`
	WaitCount      int64 `json:"wait_count"`
	WaitDurationMs int64 `json:"wait_duration_ms"`
	Saturated      bool  `json:"saturated"`
}

func (p *DatabasePool) Stats() (PoolStats, error) {
	if p.DB == nil {
		return PoolStats{}, fmt.Errorf("database connection is nil")
	}

	sqlDB, err := p.DB.DB()
	if err != nil {
		return PoolStats{}, err
	}

	s := sqlDB.Stats()
	return PoolStats{
		MaxOpen:        s.MaxOpenConnections,
		Open:           s.OpenConnections,
		InUse:          s.InUse,
		Idle:           s.Idle,
		WaitCount:      s.WaitCount,
		WaitDurationMs: s.WaitDuration.Milliseconds(),
		Saturated:      s.MaxOpenConnections > 0 && s.InUse >= s.MaxOpenConnections,
	}, nil
}

func (p *DatabasePool) Close() error {
	if p.DB == nil {
		return nil
	}

	sqlDB, err := p.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
