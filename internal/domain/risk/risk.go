package risk

import (
	"time"

	"github.com/google/uuid"
)

// Level is the discrete risk tier derived from a final score.
type Level int

const (
	LevelLow Level = iota
	LevelMedium
	LevelHigh
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	case LevelCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// LevelFromString reconstructs a Level from its string form, defaulting
// to LevelLow for unknown input.
func LevelFromString(s string) Level {
	switch s {
	case "medium":
		return LevelMedium
	case "high":
		return LevelHigh
	case "critical":
		return LevelCritical
	default:
		return LevelLow
	}
}

// LevelFromScore maps a final score to its tier. Boundaries are
// half-open: [0,25) low, [25,50) medium, [50,75) high, [75,100] critical.
func LevelFromScore(score float64) Level {
	switch {
	case score >= 75:
		return LevelCritical
	case score >= 50:
		return LevelHigh
	case score >= 25:
		return LevelMedium
	default:
		return LevelLow
	}
}

// FactorScores is the per-factor breakdown of a scoring call. Every
// sub-score lies in [0,100].
type FactorScores struct {
	Amount    float64 `json:"amount"`
	Frequency float64 `json:"frequency"`
	Location  float64 `json:"location"`
	Time      float64 `json:"time"`
	Merchant  float64 `json:"merchant"`
}

// Triggered returns the names of factors whose sub-score exceeds the
// threshold, in a fixed order so results are deterministic.
func (f FactorScores) Triggered(threshold float64) []string {
	names := make([]string, 0, 5)
	for _, entry := range []struct {
		name  string
		score float64
	}{
		{"amount", f.Amount},
		{"frequency", f.Frequency},
		{"location", f.Location},
		{"time", f.Time},
		{"merchant", f.Merchant},
	} {
		if entry.score > threshold {
			names = append(names, entry.name)
		}
	}
	return names
}

// Result is the outcome of scoring one transaction. It is immutable
// once produced; persistence and alert delivery are the caller's
// responsibility.
type Result struct {
	TransactionID uuid.UUID    `json:"transaction_id"`
	UserID        uuid.UUID    `json:"user_id"`
	Score         float64      `json:"score"`
	Level         Level        `json:"level"`
	Factors       FactorScores `json:"factors"`

	// ModelContribution is the classifier probability scaled to
	// [0,100], present only when the classifier participated in the
	// blend.
	ModelContribution *float64 `json:"model_contribution,omitempty"`
}

// Severity classifies an alert.
type Severity string

const (
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Alert is the side-effecting decision attached to a high-scoring
// result. Delivery channel is a collaborator concern.
type Alert struct {
	ID               uuid.UUID `json:"id"`
	UserID           uuid.UUID `json:"user_id"`
	TransactionID    uuid.UUID `json:"transaction_id"`
	Score            float64   `json:"score"`
	Severity         Severity  `json:"severity"`
	TriggeredFactors []string  `json:"triggered_factors"`
	Message          string    `json:"message"`
	CreatedAt        time.Time `json:"created_at"`
}

// Snapshot is the latest persisted risk state for one user, consumed by
// dashboards and institution aggregation.
type Snapshot struct {
	UserID        uuid.UUID `json:"user_id"`
	Score         float64   `json:"score"`
	Level         Level     `json:"level"`
	TransactionID uuid.UUID `json:"transaction_id"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// InstitutionMetrics is the periodic rollup of customer risk for one
// institution. ComplianceRate is the percentage of customers not
// currently flagged high risk.
type InstitutionMetrics struct {
	InstitutionID  uuid.UUID `json:"institution_id"`
	AverageRisk    float64   `json:"average_risk"`
	TotalCustomers int       `json:"total_customers"`
	HighRiskCount  int       `json:"high_risk_count"`
	CriticalCount  int       `json:"critical_count"`
	ComplianceRate float64   `json:"compliance_rate"`
	UpdatedAt      time.Time `json:"updated_at"`
}
