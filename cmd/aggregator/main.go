package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/finsentinel/risk-scoring-backend/internal/infrastructure/config"
	"github.com/finsentinel/risk-scoring-backend/internal/infrastructure/database"
	"github.com/finsentinel/risk-scoring-backend/internal/infrastructure/repository"
	"github.com/finsentinel/risk-scoring-backend/internal/infrastructure/telemetry"
	"github.com/finsentinel/risk-scoring-backend/internal/metrics"
	"github.com/finsentinel/risk-scoring-backend/internal/service/analytics"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	once := flag.Bool("once", false, "Run a single aggregation pass and exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(ctx, cfg, logger, *once); err != nil {
		logger.Error("aggregator failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, once bool) error {
	logger.Info("starting risk metrics aggregator",
		"version", cfg.Version,
		"environment", cfg.Environment,
		"interval", cfg.Aggregator.Interval,
	)

	telCfg := telemetry.DefaultConfig()
	telCfg.ServiceName = "risk-scoring-aggregator"
	telCfg.ServiceVersion = cfg.Version
	telCfg.Environment = cfg.Environment

	provider, err := telemetry.Initialize(ctx, telCfg)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	zapLogger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("creating infrastructure logger: %w", err)
	}
	defer zapLogger.Sync()

	pool, err := database.NewPool(ctx, &cfg.Database, zapLogger)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	service := analytics.NewService(repository.NewRiskRepository(pool), logger)

	registry, err := metrics.NewRegistry("risk-scoring-aggregator")
	if err != nil {
		return fmt.Errorf("creating metrics registry: %w", err)
	}

	aggregate := func() {
		processed, err := service.AggregateAll(ctx)
		if err != nil {
			logger.Error("aggregation pass failed", "error", err)
			return
		}
		registry.InstitutionsAggregated.Add(ctx, int64(processed))
		logger.Info("aggregation pass complete", "institutions", processed)
	}

	aggregate()
	if once {
		return nil
	}

	ticker := time.NewTicker(cfg.Aggregator.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-ticker.C:
			aggregate()
		}
	}
}
