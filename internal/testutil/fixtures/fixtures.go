// Package fixtures builds domain objects for tests with sensible
// defaults.
package fixtures

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/finsentinel/risk-scoring-backend/internal/domain/risk"
	"github.com/finsentinel/risk-scoring-backend/internal/domain/transaction"
)

// Transaction builds a valid transaction for the user with location and
// merchant details filled in.
func Transaction(t *testing.T, userID uuid.UUID, amount float64, at time.Time) *transaction.Transaction {
	t.Helper()

	tx, err := transaction.New(userID, decimal.NewFromFloat(amount), at)
	require.NoError(t, err)

	detailed := tx.WithDetails("Home", "grocery", at.UTC().Hour())
	return &detailed
}

// Result builds a scoring result consistent with the given score.
func Result(userID, transactionID uuid.UUID, score float64) *risk.Result {
	return &risk.Result{
		TransactionID: transactionID,
		UserID:        userID,
		Score:         score,
		Level:         risk.LevelFromScore(score),
		Factors: risk.FactorScores{
			Amount:    score,
			Frequency: 10,
			Location:  10,
			Time:      10,
			Merchant:  10,
		},
	}
}

// Alert builds a persisted-ready alert for the result.
func Alert(result *risk.Result) *risk.Alert {
	severity := risk.SeverityMedium
	if result.Score > 75 {
		severity = risk.SeverityHigh
	}
	return &risk.Alert{
		ID:               uuid.New(),
		UserID:           result.UserID,
		TransactionID:    result.TransactionID,
		Score:            result.Score,
		Severity:         severity,
		TriggeredFactors: []string{"amount"},
		Message:          "elevated transaction risk",
		CreatedAt:        time.Now().UTC(),
	}
}
