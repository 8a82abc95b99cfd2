package riskscoring

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/finsentinel/risk-scoring-backend/internal/domain/risk"
	"github.com/finsentinel/risk-scoring-backend/internal/domain/transaction"
)

// Expected non-fatal conditions. Both degrade scoring instead of
// aborting it: an unavailable classifier falls back to rule-only
// scoring, an unavailable history is treated as an empty window.
var (
	ErrClassifierUnavailable = errors.New("classifier unavailable")
	ErrHistoryUnavailable    = errors.New("history unavailable")
)

// Classifier wraps a pre-trained binary fraud classifier. Predict
// returns a fraud probability in [0,1] or ErrClassifierUnavailable when
// no model is loaded or the underlying prediction fails. The model
// artifact is loaded once and treated as read-only shared state, so
// implementations must be safe for concurrent calls.
type Classifier interface {
	Predict(ctx context.Context, features Features) (float64, error)
}

// Features is the fixed-shape numeric vector handed to the classifier.
type Features struct {
	Amount       float64 `json:"amount"`
	TimeOfDay    int     `json:"time_of_day"`
	LocationFlag int     `json:"location_risk"` // 0|1, derived from location factor > 50
	MerchantFlag int     `json:"merchant_risk"` // 0|1, derived from merchant factor > 50
	Frequency    int     `json:"frequency"`     // raw 24h transaction count
}

// Vector returns the features in their canonical order, matching the
// column order the model was trained with.
func (f Features) Vector() []float64 {
	return []float64{
		f.Amount,
		float64(f.TimeOfDay),
		float64(f.LocationFlag),
		float64(f.MerchantFlag),
		float64(f.Frequency),
	}
}

// HistoryProvider supplies the most recent transactions for a user,
// newest-first, excluding the transaction being scored. The call may
// block on external I/O; implementations must honor ctx cancellation
// and return ErrHistoryUnavailable (possibly wrapped) on failure.
type HistoryProvider interface {
	Window(ctx context.Context, userID uuid.UUID, before time.Time) (transaction.HistoryWindow, error)
}

// HistoryProviderFunc adapts a function to the HistoryProvider interface.
type HistoryProviderFunc func(ctx context.Context, userID uuid.UUID, before time.Time) (transaction.HistoryWindow, error)

func (f HistoryProviderFunc) Window(ctx context.Context, userID uuid.UUID, before time.Time) (transaction.HistoryWindow, error) {
	return f(ctx, userID, before)
}

// Repository persists scoring outcomes. The engine itself never writes;
// callers own persistence and retry.
type Repository interface {
	// SaveResult appends a scoring result and updates the user's
	// latest risk snapshot in one transaction.
	SaveResult(ctx context.Context, result *risk.Result) error
	// LatestSnapshot returns the user's current risk snapshot.
	LatestSnapshot(ctx context.Context, userID uuid.UUID) (*risk.Snapshot, error)
}

// AlertSink delivers alerts. Delivery channel and retry are
// collaborator concerns.
type AlertSink interface {
	Deliver(ctx context.Context, alert *risk.Alert) error
}

// Monitor receives degraded-mode events from the engine. Implementations
// must be safe for concurrent calls.
type Monitor interface {
	RecordClassifierFallback(ctx context.Context)
	RecordHistoryFallback(ctx context.Context)
}
