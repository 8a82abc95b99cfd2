package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/finsentinel/risk-scoring-backend/internal/infrastructure/config"
)

// NewPool creates a pgx connection pool from the database configuration
// and verifies connectivity before returning it.
func NewPool(ctx context.Context, cfg *config.DatabaseConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MinIdleConns > 0 {
		poolCfg.MinConns = int32(cfg.MinIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	logger.Info("database pool initialized",
		zap.String("database", poolCfg.ConnConfig.Database),
		zap.Int32("max_conns", poolCfg.MaxConns))

	return pool, nil
}

// Health reports pool liveness and basic utilization stats.
type Health struct {
	Healthy      bool  `json:"healthy"`
	TotalConns   int32 `json:"total_conns"`
	IdleConns    int32 `json:"idle_conns"`
	AcquireCount int64 `json:"acquire_count"`
}

// CheckHealth pings the pool and snapshots its stats.
func CheckHealth(ctx context.Context, pool *pgxpool.Pool) Health {
	stat := pool.Stat()
	h := Health{
		TotalConns:   stat.TotalConns(),
		IdleConns:    stat.IdleConns(),
		AcquireCount: stat.AcquireCount(),
	}
	h.Healthy = pool.Ping(ctx) == nil
	return h
}
