package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/finsentinel/risk-scoring-backend/internal/infrastructure/config"
)

// HealthChecker reports readiness of one dependency.
type HealthChecker func(ctx context.Context) error

// Server is the HTTP front of the scoring service.
type Server struct {
	cfg        *config.ServerConfig
	httpServer *http.Server
	logger     *slog.Logger
	checkers   map[string]HealthChecker
}

// NewServer builds the server around the handler with the standard
// middleware stack: request IDs, logging, panic recovery, CORS,
// per-IP rate limiting and a request timeout.
func NewServer(cfg *config.ServerConfig, handler *Handler, logger *slog.Logger, checkers map[string]HealthChecker) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		checkers: checkers,
	}
	mux.HandleFunc("GET /healthz", s.handleLiveness)
	mux.HandleFunc("GET /readyz", s.handleReadiness)

	limiter := newIPRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.BurstSize)

	s.httpServer = &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Port),
		Handler: Chain(mux,
			requestIDMiddleware,
			loggingMiddleware(logger),
			metricsMiddleware(handler.registry),
			recoveryMiddleware(logger),
			corsMiddleware,
			limiter.middleware,
			timeoutMiddleware(cfg.WriteTimeout),
		),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.checkers))
	for name, check := range s.checkers {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	writeJSON(w, status, map[string]interface{}{
		"status": http.StatusText(status),
		"checks": checks,
	})
}
