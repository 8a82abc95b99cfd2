package riskscoring

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	domainerrors "github.com/finsentinel/risk-scoring-backend/internal/domain/errors"
	"github.com/finsentinel/risk-scoring-backend/internal/domain/risk"
	"github.com/finsentinel/risk-scoring-backend/internal/domain/transaction"
)

func newTestEngine(t *testing.T, classifier Classifier) *Engine {
	t.Helper()
	engine, err := NewEngine(DefaultPolicy(), nil, classifier, nil)
	require.NoError(t, err)
	return engine
}

func TestEngine_ScoreWithHistory_RuleOnlyScenario(t *testing.T) {
	// amount=8000 (75), empty history so frequency=10 and location=100,
	// timeOfDay=3 (100), gambling merchant (100):
	// 75*0.3 + 10*0.25 + 100*0.2 + 100*0.15 + 100*0.1 = 70.0
	ctx := context.Background()
	engine := newTestEngine(t, nil)

	ts := time.Date(2025, 6, 15, 3, 0, 0, 0, time.UTC)
	tx := testTransaction(t, "8000", ts)
	tx.Location = "New"
	tx.MerchantType = "gambling"
	tx.TimeOfDay = 3

	result, err := engine.ScoreWithHistory(ctx, tx, nil)
	require.NoError(t, err)

	assert.InDelta(t, 70.0, result.Score, 1e-9)
	assert.Equal(t, risk.LevelHigh, result.Level)
	assert.Nil(t, result.ModelContribution)
	assert.Equal(t, risk.FactorScores{
		Amount:    75,
		Frequency: 10,
		Location:  100,
		Time:      100,
		Merchant:  100,
	}, result.Factors)

	// A 70.0 score tiers as high but alerts at medium severity.
	alert := engine.AlertFor(result)
	require.NotNil(t, alert)
	assert.Equal(t, risk.SeverityMedium, alert.Severity)
	assert.ElementsMatch(t, []string{"amount", "location", "time", "merchant"}, alert.TriggeredFactors)
	assert.Contains(t, alert.Message, "70.0")
}

func TestEngine_ScoreWithHistory_LowRiskScenario(t *testing.T) {
	// amount=200 (10), five same-day history txs (50), known location
	// (10), midday (10), grocery (10):
	// 10*0.3 + 50*0.25 + 10*0.2 + 10*0.15 + 10*0.1 = 20.0
	ctx := context.Background()
	engine := newTestEngine(t, nil)

	ts := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	tx := testTransaction(t, "200", ts)
	tx.Location = "Home"
	tx.MerchantType = "grocery"
	tx.TimeOfDay = 12

	history := testHistory(t, ts, 5, 0)

	result, err := engine.ScoreWithHistory(ctx, tx, history)
	require.NoError(t, err)

	assert.InDelta(t, 20.0, result.Score, 1e-9)
	assert.Equal(t, risk.LevelLow, result.Level)
	assert.Nil(t, engine.AlertFor(result))
}

func TestEngine_ScoreWithHistory_BlendsClassifier(t *testing.T) {
	ctx := context.Background()

	classifier := new(mockClassifier)
	classifier.On("Predict", mock.Anything, mock.AnythingOfType("riskscoring.Features")).
		Return(0.9, nil)

	engine := newTestEngine(t, classifier)

	ts := time.Date(2025, 6, 15, 3, 0, 0, 0, time.UTC)
	tx := testTransaction(t, "8000", ts)
	tx.Location = "New"
	tx.MerchantType = "gambling"
	tx.TimeOfDay = 3

	result, err := engine.ScoreWithHistory(ctx, tx, nil)
	require.NoError(t, err)

	// 70.0*0.6 + 90*0.4 = 78.0
	assert.InDelta(t, 78.0, result.Score, 1e-9)
	assert.Equal(t, risk.LevelCritical, result.Level)
	require.NotNil(t, result.ModelContribution)
	assert.InDelta(t, 90.0, *result.ModelContribution, 1e-9)

	alert := engine.AlertFor(result)
	require.NotNil(t, alert)
	assert.Equal(t, risk.SeverityHigh, alert.Severity)

	// Feature vector handed to the classifier mirrors the factors.
	features := classifier.Calls[0].Arguments.Get(1).(Features)
	assert.Equal(t, 1, features.LocationFlag)
	assert.Equal(t, 1, features.MerchantFlag)
	assert.Equal(t, 0, features.Frequency)
	assert.Equal(t, 3, features.TimeOfDay)
	classifier.AssertExpectations(t)
}

func TestEngine_ScoreWithHistory_ClassifierFallback(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		probability float64
		err         error
	}{
		{"unavailable", 0, ErrClassifierUnavailable},
		{"probability above one", 1.5, nil},
		{"negative probability", -0.2, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classifier := new(mockClassifier)
			classifier.On("Predict", mock.Anything, mock.Anything).Return(tt.probability, tt.err)

			engine := newTestEngine(t, classifier)

			ts := time.Date(2025, 6, 15, 3, 0, 0, 0, time.UTC)
			tx := testTransaction(t, "8000", ts)
			tx.Location = "New"
			tx.MerchantType = "gambling"
			tx.TimeOfDay = 3

			result, err := engine.ScoreWithHistory(ctx, tx, nil)
			require.NoError(t, err)

			// Fallback reproduces the rule score exactly.
			assert.InDelta(t, 70.0, result.Score, 1e-9)
			assert.Nil(t, result.ModelContribution)
		})
	}
}

func TestEngine_ScoreWithHistory_Idempotent(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, nil)

	ts := time.Date(2025, 6, 15, 22, 30, 0, 0, time.UTC)
	tx := testTransaction(t, "1234.56", ts)
	tx.Location = "Berlin"
	tx.MerchantType = "travel"
	tx.TimeOfDay = 22

	history := testHistory(t, ts, 4, 2)

	first, err := engine.ScoreWithHistory(ctx, tx, history)
	require.NoError(t, err)
	second, err := engine.ScoreWithHistory(ctx, tx, history)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestEngine_ScoreWithHistory_Validation(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, nil)

	t.Run("nil transaction", func(t *testing.T) {
		_, err := engine.ScoreWithHistory(ctx, nil, nil)
		require.Error(t, err)
		assert.True(t, domainerrors.IsType(err, domainerrors.ErrorTypeValidation))
	})

	t.Run("missing user id", func(t *testing.T) {
		tx := testTransaction(t, "100", time.Now().UTC())
		tx.UserID = uuid.Nil
		_, err := engine.ScoreWithHistory(ctx, tx, nil)
		require.Error(t, err)
		assert.True(t, domainerrors.IsType(err, domainerrors.ErrorTypeValidation))
	})

	t.Run("negative amount", func(t *testing.T) {
		tx := testTransaction(t, "100", time.Now().UTC())
		tx.Amount = decimal.RequireFromString("-5")
		_, err := engine.ScoreWithHistory(ctx, tx, nil)
		require.Error(t, err)
		assert.True(t, domainerrors.IsType(err, domainerrors.ErrorTypeValidation))
	})
}

func TestEngine_Score_HistoryUnavailableDegradesToEmpty(t *testing.T) {
	ctx := context.Background()

	calls := 0
	provider := HistoryProviderFunc(func(ctx context.Context, userID uuid.UUID, before time.Time) (transaction.HistoryWindow, error) {
		calls++
		return nil, ErrHistoryUnavailable
	})

	engine, err := NewEngine(DefaultPolicy(), provider, nil, nil)
	require.NoError(t, err)

	ts := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	tx := testTransaction(t, "200", ts)
	tx.Location = "Home"
	tx.MerchantType = "grocery"
	tx.TimeOfDay = 12

	result, err := engine.Score(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	// Empty-window scoring: frequency 10, location novel 100.
	// 10*0.3 + 10*0.25 + 100*0.2 + 10*0.15 + 10*0.1 = 28.0
	assert.InDelta(t, 28.0, result.Score, 1e-9)
	assert.Equal(t, risk.LevelMedium, result.Level)
}

func TestEngine_Score_BoundsHistoryWindow(t *testing.T) {
	ctx := context.Background()

	ts := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	oversized := make(transaction.HistoryWindow, 0, 60)
	for i := 0; i < 60; i++ {
		oversized = append(oversized, testHistoryAt(t, ts.Add(-time.Duration(i+1)*time.Minute)))
	}

	provider := HistoryProviderFunc(func(ctx context.Context, userID uuid.UUID, before time.Time) (transaction.HistoryWindow, error) {
		return oversized, nil
	})

	policy := DefaultPolicy()
	engine, err := NewEngine(policy, provider, nil, nil)
	require.NoError(t, err)

	tx := testTransaction(t, "200", ts)
	tx.Location = "Home"
	tx.MerchantType = "grocery"
	tx.TimeOfDay = 12

	result, err := engine.Score(ctx, tx)
	require.NoError(t, err)

	// 50 bounded entries all inside 24h: frequency factor saturates.
	bounded := oversized.Bound(policy.HistoryMaxCount, ts.Add(-policy.HistoryMaxAge))
	assert.Len(t, bounded, policy.HistoryMaxCount)
	assert.Equal(t, float64(100), result.Factors.Frequency)
	assert.Equal(t, float64(10), result.Factors.Location)
}

func TestLevelFromScore_Boundaries(t *testing.T) {
	tests := []struct {
		score    float64
		expected risk.Level
	}{
		{0, risk.LevelLow},
		{24.999, risk.LevelLow},
		{25, risk.LevelMedium},
		{49.999, risk.LevelMedium},
		{50, risk.LevelHigh},
		{74.999, risk.LevelHigh},
		{75, risk.LevelCritical},
		{100, risk.LevelCritical},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, risk.LevelFromScore(tt.score), "score %v", tt.score)
	}
}

func TestEngine_AlertFor_Thresholds(t *testing.T) {
	engine := newTestEngine(t, nil)

	tests := []struct {
		name           string
		score          float64
		expectAlert    bool
		expectSeverity risk.Severity
	}{
		{"well below threshold", 30, false, ""},
		{"exactly at threshold", 60, false, ""},
		{"just above threshold", 60.001, true, risk.SeverityMedium},
		{"high tier but medium alert", 70, true, risk.SeverityMedium},
		{"exactly at severity split", 75, true, risk.SeverityMedium},
		{"just above severity split", 75.001, true, risk.SeverityHigh},
		{"maximum", 100, true, risk.SeverityHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := &risk.Result{
				TransactionID: uuid.New(),
				UserID:        uuid.New(),
				Score:         tt.score,
				Level:         risk.LevelFromScore(tt.score),
			}

			alert := engine.AlertFor(result)
			if !tt.expectAlert {
				assert.Nil(t, alert)
				return
			}
			require.NotNil(t, alert)
			assert.Equal(t, tt.expectSeverity, alert.Severity)
			assert.Equal(t, tt.score, alert.Score)
		})
	}
}

func TestEngine_ScoreRanges(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, nil)

	amounts := []string{"0", "100", "750", "3000", "7500", "50000"}
	hours := []int{0, 7, 13, 20}
	merchants := []string{"gambling", "electronics", "grocery", ""}

	ts := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	histories := []transaction.HistoryWindow{nil, testHistory(t, ts, 7, 3)}

	for _, amount := range amounts {
		for _, hour := range hours {
			for _, merchant := range merchants {
				for _, history := range histories {
					tx := testTransaction(t, amount, ts)
					tx.MerchantType = merchant
					tx.TimeOfDay = hour
					tx.Location = "Home"

					result, err := engine.ScoreWithHistory(ctx, tx, history)
					require.NoError(t, err)

					for _, sub := range []float64{
						result.Factors.Amount,
						result.Factors.Frequency,
						result.Factors.Location,
						result.Factors.Time,
						result.Factors.Merchant,
					} {
						assert.GreaterOrEqual(t, sub, 0.0)
						assert.LessOrEqual(t, sub, 100.0)
					}
					assert.GreaterOrEqual(t, result.Score, 0.0)
					assert.LessOrEqual(t, result.Score, 100.0)
				}
			}
		}
	}
}

func TestNewEngine_RejectsInvalidPolicy(t *testing.T) {
	policy := DefaultPolicy()
	policy.Weights.Amount = 0.5 // weights no longer sum to 1.0

	_, err := NewEngine(policy, nil, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weights must sum to 1.0")
}

func TestEngine_Monitor_CountsDegradedModes(t *testing.T) {
	ctx := context.Background()
	ts := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	t.Run("history fallback", func(t *testing.T) {
		provider := HistoryProviderFunc(func(ctx context.Context, userID uuid.UUID, before time.Time) (transaction.HistoryWindow, error) {
			return nil, ErrHistoryUnavailable
		})

		engine, err := NewEngine(DefaultPolicy(), provider, nil, nil)
		require.NoError(t, err)

		recorder := new(monitorRecorder)
		engine.SetMonitor(recorder)

		_, err = engine.Score(ctx, testTransaction(t, "200", ts))
		require.NoError(t, err)
		assert.Equal(t, 1, recorder.historyFallbacks)
		assert.Equal(t, 0, recorder.classifierFallbacks)
	})

	t.Run("classifier fallback", func(t *testing.T) {
		classifier := new(mockClassifier)
		classifier.On("Predict", mock.Anything, mock.Anything).Return(0.0, ErrClassifierUnavailable)

		engine := newTestEngine(t, classifier)
		recorder := new(monitorRecorder)
		engine.SetMonitor(recorder)

		_, err := engine.ScoreWithHistory(ctx, testTransaction(t, "200", ts), nil)
		require.NoError(t, err)
		assert.Equal(t, 1, recorder.classifierFallbacks)
	})

	t.Run("out of range probability counts as fallback", func(t *testing.T) {
		classifier := new(mockClassifier)
		classifier.On("Predict", mock.Anything, mock.Anything).Return(1.5, nil)

		engine := newTestEngine(t, classifier)
		recorder := new(monitorRecorder)
		engine.SetMonitor(recorder)

		_, err := engine.ScoreWithHistory(ctx, testTransaction(t, "200", ts), nil)
		require.NoError(t, err)
		assert.Equal(t, 1, recorder.classifierFallbacks)
	})

	t.Run("no classifier configured is not a fallback", func(t *testing.T) {
		engine := newTestEngine(t, nil)
		recorder := new(monitorRecorder)
		engine.SetMonitor(recorder)

		_, err := engine.ScoreWithHistory(ctx, testTransaction(t, "200", ts), nil)
		require.NoError(t, err)
		assert.Equal(t, 0, recorder.classifierFallbacks)
	})
}

func TestEngine_ScoreWithHistory_EmitsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	engine := newTestEngine(t, nil)
	tx := testTransaction(t, "200", time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))

	_, err := engine.ScoreWithHistory(context.Background(), tx, nil)
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "risk.score", spans[0].Name())
}

// Mock implementations

type monitorRecorder struct {
	classifierFallbacks int
	historyFallbacks    int
}

func (m *monitorRecorder) RecordClassifierFallback(ctx context.Context) { m.classifierFallbacks++ }

func (m *monitorRecorder) RecordHistoryFallback(ctx context.Context) { m.historyFallbacks++ }

type mockClassifier struct {
	mock.Mock
}

func (m *mockClassifier) Predict(ctx context.Context, features Features) (float64, error) {
	args := m.Called(ctx, features)
	return args.Get(0).(float64), args.Error(1)
}
