package riskscoring

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/finsentinel/risk-scoring-backend/internal/domain/errors"
	"github.com/finsentinel/risk-scoring-backend/internal/domain/risk"
	"github.com/finsentinel/risk-scoring-backend/internal/domain/transaction"
	"github.com/finsentinel/risk-scoring-backend/internal/infrastructure/telemetry"
)

// Engine computes a per-transaction risk score from weighted rule
// factors, optionally blended with a classifier probability, and tiers
// the result. It holds no mutable state between calls: identical inputs
// produce identical results, and concurrent calls need no locking.
type Engine struct {
	policy        Policy
	history       HistoryProvider
	classifier    Classifier
	hasClassifier bool
	monitor       Monitor
	logger        *slog.Logger
}

// NewEngine creates a scoring engine. The history provider and
// classifier are injected; their lifecycle belongs to the caller. A nil
// classifier degrades to rule-only scoring.
func NewEngine(policy Policy, history HistoryProvider, classifier Classifier, logger *slog.Logger) (*Engine, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scoring policy: %w", err)
	}
	hasClassifier := classifier != nil
	if classifier == nil {
		classifier = UnavailableClassifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		policy:        policy,
		history:       history,
		classifier:    classifier,
		hasClassifier: hasClassifier,
		logger:        logger,
	}, nil
}

// SetMonitor attaches a degraded-mode event receiver. Fallback events
// are dropped while no monitor is attached.
func (e *Engine) SetMonitor(monitor Monitor) {
	e.monitor = monitor
}

// Score fetches the user's history window and scores the transaction.
// A failed or timed-out history fetch is treated as an empty window
// (degraded mode), never as a scoring failure.
func (e *Engine) Score(ctx context.Context, tx *transaction.Transaction) (*risk.Result, error) {
	if err := validate(tx); err != nil {
		return nil, err
	}

	var history transaction.HistoryWindow
	if e.history != nil {
		fetchCtx, cancel := context.WithTimeout(ctx, e.policy.HistoryTimeout)
		defer cancel()

		window, err := e.history.Window(fetchCtx, tx.UserID, tx.Timestamp)
		if err != nil {
			e.logger.InfoContext(ctx, "history unavailable, scoring against empty window",
				"user_id", tx.UserID,
				"transaction_id", tx.ID,
				"error", err,
			)
			if e.monitor != nil {
				e.monitor.RecordHistoryFallback(ctx)
			}
		} else {
			history = window.Bound(e.policy.HistoryMaxCount, tx.Timestamp.Add(-e.policy.HistoryMaxAge))
		}
	}

	return e.ScoreWithHistory(ctx, tx, history)
}

// ScoreWithHistory scores the transaction against a caller-supplied
// history window. The window must exclude the transaction itself.
func (e *Engine) ScoreWithHistory(ctx context.Context, tx *transaction.Transaction, history transaction.HistoryWindow) (*risk.Result, error) {
	if err := validate(tx); err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartScoringSpan(ctx, tx.UserID.String(), tx.ID.String())
	defer span.End()

	factors := risk.FactorScores{
		Amount:    amountRisk(tx.Amount),
		Frequency: frequencyRisk(tx, history),
		Location:  locationRisk(tx, history),
		Time:      timeOfDayRisk(normalizeHour(tx)),
		Merchant:  merchantRisk(tx.MerchantType),
	}

	ruleScore := e.aggregate(factors)
	finalScore, modelContribution := e.blend(ctx, tx, factors, history, ruleScore)

	return &risk.Result{
		TransactionID:     tx.ID,
		UserID:            tx.UserID,
		Score:             finalScore,
		Level:             risk.LevelFromScore(finalScore),
		Factors:           factors,
		ModelContribution: modelContribution,
	}, nil
}

// AlertFor applies the alerting decision to a result. It returns nil
// when the score does not exceed the alert threshold. The severity
// split is independent of the tier boundaries: a score of 70 tiers as
// high but alerts as medium.
func (e *Engine) AlertFor(result *risk.Result) *risk.Alert {
	if result == nil || result.Score <= e.policy.AlertThreshold {
		return nil
	}

	severity := risk.SeverityMedium
	if result.Score > e.policy.HighSeverityThreshold {
		severity = risk.SeverityHigh
	}

	triggered := result.Factors.Triggered(e.policy.TriggerThreshold)
	message := fmt.Sprintf("risk score %.1f exceeds alert threshold", result.Score)
	if len(triggered) > 0 {
		message += "; triggered factors: " + strings.Join(triggered, ", ")
	}

	return &risk.Alert{
		ID:               uuid.New(),
		UserID:           result.UserID,
		TransactionID:    result.TransactionID,
		Score:            result.Score,
		Severity:         severity,
		TriggeredFactors: triggered,
		Message:          message,
		CreatedAt:        time.Now().UTC(),
	}
}

// Policy returns the engine's scoring policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

func (e *Engine) aggregate(f risk.FactorScores) float64 {
	w := e.policy.Weights
	return f.Amount*w.Amount +
		f.Frequency*w.Frequency +
		f.Location*w.Location +
		f.Time*w.Time +
		f.Merchant*w.Merchant
}

// blend combines the rule score with the classifier probability. Any
// classifier failure, including an out-of-range probability, falls back
// to the rule score alone.
func (e *Engine) blend(ctx context.Context, tx *transaction.Transaction, factors risk.FactorScores, history transaction.HistoryWindow, ruleScore float64) (float64, *float64) {
	features := Features{
		Amount:       tx.Amount.InexactFloat64(),
		TimeOfDay:    normalizeHour(tx),
		LocationFlag: boolFlag(factors.Location > e.policy.TriggerThreshold),
		MerchantFlag: boolFlag(factors.Merchant > e.policy.TriggerThreshold),
		Frequency:    frequencyCount(tx, history),
	}

	probability, err := e.classifier.Predict(ctx, features)
	if err != nil {
		e.logger.DebugContext(ctx, "classifier unavailable, rule-only score",
			"transaction_id", tx.ID,
			"error", err,
		)
		e.recordClassifierFallback(ctx)
		return ruleScore, nil
	}
	if probability < 0 || probability > 1 {
		e.logger.WarnContext(ctx, "classifier returned out-of-range probability, rule-only score",
			"transaction_id", tx.ID,
			"probability", probability,
		)
		e.recordClassifierFallback(ctx)
		return ruleScore, nil
	}

	modelScore := probability * 100
	final := ruleScore*e.policy.RuleWeight + modelScore*e.policy.ModelWeight
	return final, &modelScore
}

// recordClassifierFallback counts a rule-only fallback, but only when a
// real classifier is configured: running without a model is the normal
// mode, not a degradation.
func (e *Engine) recordClassifierFallback(ctx context.Context) {
	if e.monitor != nil && e.hasClassifier {
		e.monitor.RecordClassifierFallback(ctx)
	}
}

func validate(tx *transaction.Transaction) error {
	if tx == nil {
		return errors.ErrInvalidInput
	}
	if tx.UserID == uuid.Nil {
		return errors.ErrMissingUserID
	}
	if tx.Amount.IsNegative() {
		return errors.NewValidationError("INVALID_AMOUNT", "Transaction amount must be a non-negative decimal").
			WithDetails(map[string]interface{}{"amount": tx.Amount.String()})
	}
	return nil
}

// normalizeHour returns the transaction's local hour, falling back to
// the UTC timestamp hour when the recorded hour is out of range.
func normalizeHour(tx *transaction.Transaction) int {
	if tx.TimeOfDay >= 0 && tx.TimeOfDay <= 23 {
		return tx.TimeOfDay
	}
	return tx.Timestamp.UTC().Hour()
}

func boolFlag(b bool) int {
	if b {
		return 1
	}
	return 0
}

// UnavailableClassifier is the default no-op classifier: every
// prediction reports ErrClassifierUnavailable so scoring degrades to
// rules only.
type UnavailableClassifier struct{}

func (UnavailableClassifier) Predict(context.Context, Features) (float64, error) {
	return 0, ErrClassifierUnavailable
}
