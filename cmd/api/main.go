package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/finsentinel/risk-scoring-backend/internal/api/rest"
	"github.com/finsentinel/risk-scoring-backend/internal/domain/risk"
	"github.com/finsentinel/risk-scoring-backend/internal/infrastructure/cache"
	"github.com/finsentinel/risk-scoring-backend/internal/infrastructure/classifier"
	"github.com/finsentinel/risk-scoring-backend/internal/infrastructure/config"
	"github.com/finsentinel/risk-scoring-backend/internal/infrastructure/database"
	"github.com/finsentinel/risk-scoring-backend/internal/infrastructure/repository"
	"github.com/finsentinel/risk-scoring-backend/internal/infrastructure/telemetry"
	"github.com/finsentinel/risk-scoring-backend/internal/metrics"
	"github.com/finsentinel/risk-scoring-backend/internal/service/batchanalysis"
	"github.com/finsentinel/risk-scoring-backend/internal/service/riskscoring"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
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

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("api server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting risk scoring api",
		"version", cfg.Version,
		"environment", cfg.Environment,
	)

	telCfg := telemetry.DefaultConfig()
	telCfg.ServiceName = "risk-scoring-api"
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

	snapshots, err := cache.NewSnapshotCache(&cfg.Redis, zapLogger)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer snapshots.Close()

	transactions := repository.NewTransactionRepository(pool, cfg.Risk.HistoryMaxCount, cfg.Risk.HistoryMaxAge)
	results := repository.NewRiskRepository(pool)
	alerts := repository.NewAlertRepository(pool)
	batches := repository.NewBatchRepository(pool)

	alertFeed := cache.NewAlertFeed(snapshots.Client(), 50, zapLogger)
	alertSink := &fanoutAlertSink{store: alerts, feed: alertFeed, logger: logger}

	var model riskscoring.Classifier
	if cfg.Classifier.ArtifactPath != "" {
		logistic, err := classifier.LoadLogistic(cfg.Classifier.ArtifactPath, zapLogger)
		if err != nil {
			return fmt.Errorf("loading classifier: %w", err)
		}
		model = logistic
	}

	engine, err := riskscoring.NewEngine(cfg.Risk, transactions, model, logger)
	if err != nil {
		return fmt.Errorf("creating scoring engine: %w", err)
	}

	registry, err := metrics.NewRegistry("risk-scoring-api")
	if err != nil {
		return fmt.Errorf("creating metrics registry: %w", err)
	}
	engine.SetMonitor(registry)

	handler := rest.NewHandler(rest.HandlerDeps{
		Scorer:       engine,
		Transactions: transactions,
		Results:      results,
		Snapshots:    snapshots,
		Alerts:       alertSink,
		AlertLog:     alerts,
		AlertFeed:    alertFeed,
		Batch:        batchanalysis.NewService(batches, logger),
		Institutions: results,
		Registry:     registry,
		Observer:     promObserver{},
		Logger:       logger,
	})

	server := rest.NewServer(&cfg.Server, handler, logger, map[string]rest.HealthChecker{
		"database": func(ctx context.Context) error {
			return pool.Ping(ctx)
		},
	})

	metricsServer := startMetricsServer(cfg.Server.Port+1, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx := context.Background()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown failed", "error", err)
	}
	return server.Shutdown(shutdownCtx)
}

// fanoutAlertSink persists the alert and then pushes it onto the Redis
// feed. Feed failures are logged, not surfaced: the database row is the
// durable record.
type fanoutAlertSink struct {
	store  riskscoring.AlertSink
	feed   *cache.AlertFeed
	logger *slog.Logger
}

func (s *fanoutAlertSink) Deliver(ctx context.Context, alert *risk.Alert) error {
	if err := s.store.Deliver(ctx, alert); err != nil {
		return err
	}
	if err := s.feed.Push(ctx, alert); err != nil {
		s.logger.WarnContext(ctx, "alert feed push failed",
			"user_id", alert.UserID,
			"error", err,
		)
	}
	return nil
}

func startMetricsServer(port int, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsHandler())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		logger.Info("metrics server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}
