package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	domainerrors "github.com/finsentinel/risk-scoring-backend/internal/domain/errors"
	"github.com/finsentinel/risk-scoring-backend/internal/domain/risk"
	"github.com/finsentinel/risk-scoring-backend/internal/domain/transaction"
	"github.com/finsentinel/risk-scoring-backend/internal/infrastructure/cache"
	"github.com/finsentinel/risk-scoring-backend/internal/metrics"
	"github.com/finsentinel/risk-scoring-backend/internal/service/batchanalysis"
	"github.com/finsentinel/risk-scoring-backend/internal/service/riskscoring"
)

// Scorer is the scoring surface the API depends on.
type Scorer interface {
	Score(ctx context.Context, tx *transaction.Transaction) (*risk.Result, error)
	AlertFor(result *risk.Result) *risk.Alert
}

// TransactionStore persists and retrieves transactions.
type TransactionStore interface {
	Save(ctx context.Context, tx *transaction.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error)
}

// SnapshotCache is the read-through cache over latest snapshots.
type SnapshotCache interface {
	Get(ctx context.Context, userID uuid.UUID) (*risk.Snapshot, error)
	Put(ctx context.Context, snapshot *risk.Snapshot) error
	Invalidate(ctx context.Context, userID uuid.UUID) error
}

// AlertLog lists persisted alerts.
type AlertLog interface {
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]risk.Alert, error)
}

// AlertFeed serves the cached recent-alert list.
type AlertFeed interface {
	Recent(ctx context.Context, userID uuid.UUID, n int64) ([]risk.Alert, error)
}

// BatchAnalyzer runs analyst CSV uploads.
type BatchAnalyzer interface {
	Analyze(ctx context.Context, analystID string, csvContent io.Reader) (*batchanalysis.Batch, error)
}

// MetricsReader serves institution rollups.
type MetricsReader interface {
	InstitutionMetrics(ctx context.Context, institutionID uuid.UUID) (*risk.InstitutionMetrics, error)
}

// ScoringObserver receives scoring outcomes for an additional metrics
// pipeline beside the OpenTelemetry registry.
type ScoringObserver interface {
	ObserveScoring(level string, duration time.Duration)
	ObserveAlert(severity string)
	ObserveBatch(rows int)
}

// Handler carries the API dependencies.
type Handler struct {
	scorer       Scorer
	transactions TransactionStore
	results      riskscoring.Repository
	snapshots    SnapshotCache
	alerts       riskscoring.AlertSink
	alertLog     AlertLog
	alertFeed    AlertFeed
	batch        BatchAnalyzer
	institutions MetricsReader
	registry     *metrics.Registry
	observer     ScoringObserver
	validate     *validator.Validate
	logger       *slog.Logger
}

// HandlerDeps bundles the constructor arguments. Nil optional fields
// (snapshots, alerts, registry, observer) disable the corresponding step.
type HandlerDeps struct {
	Scorer       Scorer
	Transactions TransactionStore
	Results      riskscoring.Repository
	Snapshots    SnapshotCache
	Alerts       riskscoring.AlertSink
	AlertLog     AlertLog
	AlertFeed    AlertFeed
	Batch        BatchAnalyzer
	Institutions MetricsReader
	Registry     *metrics.Registry
	Observer     ScoringObserver
	Logger       *slog.Logger
}

func NewHandler(deps HandlerDeps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		scorer:       deps.Scorer,
		transactions: deps.Transactions,
		results:      deps.Results,
		snapshots:    deps.Snapshots,
		alerts:       deps.Alerts,
		alertLog:     deps.AlertLog,
		alertFeed:    deps.AlertFeed,
		batch:        deps.Batch,
		institutions: deps.Institutions,
		registry:     deps.Registry,
		observer:     deps.Observer,
		validate:     validator.New(),
		logger:       logger,
	}
}

// RegisterRoutes wires all endpoints onto the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/transactions/score", h.handleScoreTransaction)
	mux.HandleFunc("GET /api/v1/transactions/{id}", h.handleTransaction)
	mux.HandleFunc("GET /api/v1/users/{id}/risk", h.handleUserRisk)
	mux.HandleFunc("GET /api/v1/users/{id}/alerts", h.handleUserAlerts)
	mux.HandleFunc("POST /api/v1/batch/analyze", h.handleBatchAnalyze)
	mux.HandleFunc("GET /api/v1/institutions/{id}/metrics", h.handleInstitutionMetrics)
}

type scoreRequest struct {
	UserID       string          `json:"user_id" validate:"required,uuid"`
	Amount       decimal.Decimal `json:"amount"`
	Timestamp    *time.Time      `json:"timestamp,omitempty"`
	Location     string          `json:"location,omitempty" validate:"max=255"`
	MerchantType string          `json:"merchant_type,omitempty" validate:"max=64"`
	TimeOfDay    *int            `json:"time_of_day,omitempty" validate:"omitempty,min=0,max=23"`
}

type scoreResponse struct {
	Result *risk.Result `json:"result"`
	Alert  *risk.Alert  `json:"alert,omitempty"`
}

func (h *Handler) handleScoreTransaction(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req scoreRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, r, validationError(err))
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeError(w, r, domainerrors.NewValidationError("INVALID_USER_ID", "User ID must be a UUID"))
		return
	}

	ts := time.Now().UTC()
	if req.Timestamp != nil {
		ts = req.Timestamp.UTC()
	}

	tx, err := transaction.New(userID, req.Amount, ts)
	if err != nil {
		writeError(w, r, err)
		return
	}

	timeOfDay := tx.TimeOfDay
	if req.TimeOfDay != nil {
		timeOfDay = *req.TimeOfDay
	}
	detailed := tx.WithDetails(req.Location, req.MerchantType, timeOfDay)
	tx = &detailed

	ctx := r.Context()
	if h.transactions != nil {
		if err := h.transactions.Save(ctx, tx); err != nil {
			writeError(w, r, err)
			return
		}
	}

	result, err := h.scorer.Score(ctx, tx)
	if err != nil {
		if h.registry != nil {
			h.registry.ScoringFailures.Add(ctx, 1)
		}
		writeError(w, r, err)
		return
	}

	if h.results != nil {
		if err := h.results.SaveResult(ctx, result); err != nil {
			writeError(w, r, err)
			return
		}
	}

	if h.snapshots != nil {
		snapshot := &risk.Snapshot{
			UserID:        result.UserID,
			Score:         result.Score,
			Level:         result.Level,
			TransactionID: result.TransactionID,
			UpdatedAt:     time.Now().UTC(),
		}
		if err := h.snapshots.Put(ctx, snapshot); err != nil {
			// Cache writes are best-effort, but a failed write may
			// leave the previous snapshot behind; drop it.
			h.logger.WarnContext(ctx, "snapshot cache update failed",
				"user_id", result.UserID,
				"error", err,
			)
			if err := h.snapshots.Invalidate(ctx, result.UserID); err != nil {
				h.logger.WarnContext(ctx, "snapshot cache invalidate failed",
					"user_id", result.UserID,
					"error", err,
				)
			}
		}
	}

	alert := h.scorer.AlertFor(result)
	if alert != nil && h.alerts != nil {
		if err := h.alerts.Deliver(ctx, alert); err != nil {
			writeError(w, r, err)
			return
		}
		if h.registry != nil {
			h.registry.RecordAlert(ctx, string(alert.Severity))
		}
		if h.observer != nil {
			h.observer.ObserveAlert(string(alert.Severity))
		}
	}

	if h.registry != nil {
		h.registry.RecordScoring(ctx, time.Since(start), result.Score, result.Level.String())
	}
	if h.observer != nil {
		h.observer.ObserveScoring(result.Level.String(), time.Since(start))
	}

	writeJSON(w, http.StatusOK, scoreResponse{Result: result, Alert: alert})
}

func (h *Handler) handleUserRisk(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, domainerrors.NewValidationError("INVALID_USER_ID", "User ID must be a UUID"))
		return
	}

	ctx := r.Context()

	if h.snapshots != nil {
		if snapshot, err := h.snapshots.Get(ctx, userID); err == nil {
			writeJSON(w, http.StatusOK, snapshot)
			return
		} else if !errors.Is(err, cache.ErrSnapshotMiss) {
			h.logger.WarnContext(ctx, "snapshot cache read failed",
				"user_id", userID,
				"error", err,
			)
		}
	}

	snapshot, err := h.results.LatestSnapshot(ctx, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if h.snapshots != nil {
		if err := h.snapshots.Put(ctx, snapshot); err != nil {
			h.logger.WarnContext(ctx, "snapshot cache update failed",
				"user_id", userID,
				"error", err,
			)
		}
	}

	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) handleTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, domainerrors.NewValidationError("INVALID_TRANSACTION_ID", "Transaction ID must be a UUID"))
		return
	}

	tx, err := h.transactions.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

const (
	defaultAlertLimit = 20
	maxAlertLimit     = 50
)

type alertsResponse struct {
	Alerts []risk.Alert `json:"alerts"`
	Count  int          `json:"count"`
}

// handleUserAlerts serves the user's recent alerts, preferring the
// Redis feed and falling back to the database when the feed is cold or
// unavailable.
func (h *Handler) handleUserAlerts(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, domainerrors.NewValidationError("INVALID_USER_ID", "User ID must be a UUID"))
		return
	}

	limit := defaultAlertLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, r, domainerrors.NewValidationError("INVALID_LIMIT", "Limit must be a positive integer"))
			return
		}
		limit = min(parsed, maxAlertLimit)
	}

	ctx := r.Context()

	if h.alertFeed != nil {
		alerts, err := h.alertFeed.Recent(ctx, userID, int64(limit))
		if err != nil {
			h.logger.WarnContext(ctx, "alert feed read failed",
				"user_id", userID,
				"error", err,
			)
		} else if len(alerts) > 0 {
			writeJSON(w, http.StatusOK, alertsResponse{Alerts: alerts, Count: len(alerts)})
			return
		}
	}

	alerts, err := h.alertLog.ListByUser(ctx, userID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []risk.Alert{}
	}
	writeJSON(w, http.StatusOK, alertsResponse{Alerts: alerts, Count: len(alerts)})
}

type batchAnalyzeRequest struct {
	AnalystID string `json:"analyst_id" validate:"required,max=128"`
	CSV       string `json:"csv" validate:"required"`
}

func (h *Handler) handleBatchAnalyze(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req batchAnalyzeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, r, validationError(err))
		return
	}

	batch, err := h.batch.Analyze(r.Context(), req.AnalystID, strings.NewReader(req.CSV))
	if err != nil {
		writeError(w, r, err)
		return
	}

	if h.registry != nil {
		h.registry.BatchRowsAnalyzed.Add(r.Context(), int64(batch.TotalClients))
		h.registry.BatchDuration.Record(r.Context(), float64(time.Since(start).Milliseconds()))
	}
	if h.observer != nil {
		h.observer.ObserveBatch(batch.TotalClients)
	}

	writeJSON(w, http.StatusOK, batch)
}

func (h *Handler) handleInstitutionMetrics(w http.ResponseWriter, r *http.Request) {
	institutionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, domainerrors.NewValidationError("INVALID_INSTITUTION_ID", "Institution ID must be a UUID"))
		return
	}

	m, err := h.institutions.InstitutionMetrics(r.Context(), institutionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

const maxBodySize = 10 << 20 // matches the analyst upload limit

func decodeJSON(r *http.Request, v interface{}) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodySize)
	decoder := json.NewDecoder(body)
	if err := decoder.Decode(v); err != nil {
		return domainerrors.NewValidationError("MALFORMED_JSON", "Request body is not valid JSON").WithCause(err)
	}
	return nil
}

// validationError converts validator failures into the error envelope,
// keyed by the offending field.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domainerrors.NewValidationError("INVALID_REQUEST", "Request validation failed").WithCause(err)
	}

	details := make(map[string]interface{}, len(verrs))
	for _, fe := range verrs {
		details[strings.ToLower(fe.Field())] = fe.Tag()
	}
	return domainerrors.NewValidationError("INVALID_REQUEST", "Request validation failed").WithDetails(details)
}
