package transaction

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finsentinel/risk-scoring-backend/internal/domain/errors"
)

// Transaction is an immutable record of a single financial transaction.
// It is created by ingestion and never mutated afterwards; the scoring
// core only reads it.
type Transaction struct {
	ID           uuid.UUID       `json:"id"`
	UserID       uuid.UUID       `json:"user_id"`
	Amount       decimal.Decimal `json:"amount"`
	Timestamp    time.Time       `json:"timestamp"`
	Location     string          `json:"location"`
	MerchantType string          `json:"merchant_type"`

	// TimeOfDay is the local hour of the transaction, 0-23. It is
	// carried separately from Timestamp because upstream ingestion
	// records it in the cardholder's timezone.
	TimeOfDay int `json:"time_of_day"`

	CreatedAt time.Time `json:"created_at"`
}

// New creates a Transaction, validating required fields. Optional fields
// (location, merchant type) may be empty; the scoring factors apply
// documented defaults for them.
func New(userID uuid.UUID, amount decimal.Decimal, timestamp time.Time) (*Transaction, error) {
	if userID == uuid.Nil {
		return nil, errors.ErrMissingUserID
	}
	if amount.IsNegative() {
		return nil, errors.ErrInvalidAmount
	}
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	now := time.Now().UTC()
	return &Transaction{
		ID:        uuid.New(),
		UserID:    userID,
		Amount:    amount,
		Timestamp: timestamp.UTC(),
		TimeOfDay: timestamp.UTC().Hour(),
		CreatedAt: now,
	}, nil
}

// WithDetails returns a copy carrying location, merchant type and the
// cardholder-local hour. The receiver is not modified.
func (t Transaction) WithDetails(location, merchantType string, timeOfDay int) Transaction {
	t.Location = location
	t.MerchantType = merchantType
	if timeOfDay >= 0 && timeOfDay <= 23 {
		t.TimeOfDay = timeOfDay
	}
	return t
}

// HistoryWindow is a bounded, newest-first sequence of one user's prior
// transactions. The transaction currently being scored is never part of
// its own window; providers enforce the exclusive convention.
type HistoryWindow []Transaction

// CountAfter returns how many transactions in the window occurred
// strictly after the cutoff.
func (h HistoryWindow) CountAfter(cutoff time.Time) int {
	n := 0
	for _, tx := range h {
		if tx.Timestamp.After(cutoff) {
			n++
		}
	}
	return n
}

// Locations returns the set of distinct locations seen in the window.
// Empty locations are skipped.
func (h HistoryWindow) Locations() map[string]struct{} {
	seen := make(map[string]struct{}, len(h))
	for _, tx := range h {
		if tx.Location != "" {
			seen[tx.Location] = struct{}{}
		}
	}
	return seen
}

// Bound trims the window to at most maxCount transactions no older than
// the cutoff, preserving newest-first order.
func (h HistoryWindow) Bound(maxCount int, cutoff time.Time) HistoryWindow {
	out := make(HistoryWindow, 0, min(len(h), maxCount))
	for _, tx := range h {
		if len(out) >= maxCount {
			break
		}
		if tx.Timestamp.Before(cutoff) {
			continue
		}
		out = append(out, tx)
	}
	return out
}
