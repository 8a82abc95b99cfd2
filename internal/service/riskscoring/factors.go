package riskscoring

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finsentinel/risk-scoring-backend/internal/domain/transaction"
)

// frequencyWindow is the lookback for the frequency factor.
const frequencyWindow = 24 * time.Hour

// Amount thresholds for the step function. Strictly-greater comparisons.
var (
	amountStep100 = decimal.NewFromInt(10000)
	amountStep75  = decimal.NewFromInt(5000)
	amountStep50  = decimal.NewFromInt(1000)
	amountStep25  = decimal.NewFromInt(500)
)

var (
	highRiskMerchants = map[string]struct{}{
		"gambling": {},
		"crypto":   {},
	}
	mediumRiskMerchants = map[string]struct{}{
		"electronics": {},
		"travel":      {},
	}
)

// amountRisk scores the transaction amount on a step function.
func amountRisk(amount decimal.Decimal) float64 {
	switch {
	case amount.GreaterThan(amountStep100):
		return 100
	case amount.GreaterThan(amountStep75):
		return 75
	case amount.GreaterThan(amountStep50):
		return 50
	case amount.GreaterThan(amountStep25):
		return 25
	default:
		return 10
	}
}

// frequencyRisk scores how many history transactions fall inside the
// 24h window before the transaction being scored. The window never
// contains the scored transaction itself (providers use the exclusive
// convention), so a lone first transaction counts zero.
func frequencyRisk(tx *transaction.Transaction, history transaction.HistoryWindow) float64 {
	count := frequencyCount(tx, history)
	switch {
	case count > 10:
		return 100
	case count > 5:
		return 75
	case count > 3:
		return 50
	case count > 1:
		return 25
	default:
		return 10
	}
}

func frequencyCount(tx *transaction.Transaction, history transaction.HistoryWindow) int {
	return history.CountAfter(tx.Timestamp.Add(-frequencyWindow))
}

// locationRisk scores location novelty. Any location not seen in the
// history window is maximal risk; an empty history means every location
// is novel. Unknown-location is treated as maximal uncertainty, not
// zero risk.
func locationRisk(tx *transaction.Transaction, history transaction.HistoryWindow) float64 {
	if tx.Location == "" {
		return 100
	}
	if _, seen := history.Locations()[tx.Location]; seen {
		return 10
	}
	return 100
}

// timeOfDayRisk scores the local hour: night hours carry the most risk.
func timeOfDayRisk(hour int) float64 {
	switch {
	case hour >= 0 && hour <= 5:
		return 100
	case hour >= 6 && hour <= 8:
		return 50
	case hour >= 9 && hour <= 17:
		return 10
	default:
		return 25
	}
}

// merchantRisk scores the merchant category. Unknown categories default
// to low risk; that is a policy choice, not an omission.
func merchantRisk(merchantType string) float64 {
	category := strings.ToLower(strings.TrimSpace(merchantType))
	if _, ok := highRiskMerchants[category]; ok {
		return 100
	}
	if _, ok := mediumRiskMerchants[category]; ok {
		return 50
	}
	return 10
}
