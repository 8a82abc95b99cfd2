package riskscoring

import (
	"fmt"
	"math"
	"time"
)

// FactorWeights holds the fixed weight vector of the rule-based
// aggregation. Weights must sum to 1.0 so the rule score stays in
// [0,100] by construction.
type FactorWeights struct {
	Amount    float64 `koanf:"amount"`
	Frequency float64 `koanf:"frequency"`
	Location  float64 `koanf:"location"`
	Time      float64 `koanf:"time"`
	Merchant  float64 `koanf:"merchant"`
}

// Policy carries the scoring constants. The defaults are load-bearing
// for downstream consumers and must not drift; overrides exist for
// tuning in controlled environments, not per-call variation.
type Policy struct {
	Weights FactorWeights `koanf:"weights"`

	// Blend ratio between the rule score and the classifier
	// probability (scaled to 0-100). Must sum to 1.0.
	RuleWeight  float64 `koanf:"rule_weight"`
	ModelWeight float64 `koanf:"model_weight"`

	// AlertThreshold triggers an alert when the final score exceeds
	// it; HighSeverityThreshold splits alert severity. Both are
	// independent of the tier boundaries.
	AlertThreshold        float64 `koanf:"alert_threshold"`
	HighSeverityThreshold float64 `koanf:"high_severity_threshold"`

	// TriggerThreshold selects which factors are named in an alert.
	TriggerThreshold float64 `koanf:"trigger_threshold"`

	// History window bounds.
	HistoryMaxCount int           `koanf:"history_max_count"`
	HistoryMaxAge   time.Duration `koanf:"history_max_age"`
	HistoryTimeout  time.Duration `koanf:"history_timeout"`
}

// DefaultPolicy returns the canonical scoring policy.
func DefaultPolicy() Policy {
	return Policy{
		Weights: FactorWeights{
			Amount:    0.30,
			Frequency: 0.25,
			Location:  0.20,
			Time:      0.15,
			Merchant:  0.10,
		},
		RuleWeight:            0.6,
		ModelWeight:           0.4,
		AlertThreshold:        60,
		HighSeverityThreshold: 75,
		TriggerThreshold:      50,
		HistoryMaxCount:       50,
		HistoryMaxAge:         90 * 24 * time.Hour,
		HistoryTimeout:        2 * time.Second,
	}
}

const weightSumEpsilon = 1e-9

// Validate checks the policy invariants.
func (p Policy) Validate() error {
	factorSum := p.Weights.Amount + p.Weights.Frequency + p.Weights.Location + p.Weights.Time + p.Weights.Merchant
	if math.Abs(factorSum-1.0) > weightSumEpsilon {
		return fmt.Errorf("factor weights must sum to 1.0, got %v", factorSum)
	}
	if math.Abs(p.RuleWeight+p.ModelWeight-1.0) > weightSumEpsilon {
		return fmt.Errorf("blend weights must sum to 1.0, got %v", p.RuleWeight+p.ModelWeight)
	}
	if p.AlertThreshold < 0 || p.AlertThreshold > 100 {
		return fmt.Errorf("alert threshold must be in [0,100], got %v", p.AlertThreshold)
	}
	if p.HighSeverityThreshold < p.AlertThreshold {
		return fmt.Errorf("high severity threshold %v below alert threshold %v", p.HighSeverityThreshold, p.AlertThreshold)
	}
	if p.HistoryMaxCount <= 0 {
		return fmt.Errorf("history max count must be positive, got %d", p.HistoryMaxCount)
	}
	return nil
}
