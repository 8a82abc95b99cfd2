package analytics

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/finsentinel/risk-scoring-backend/internal/domain/risk"
	"github.com/finsentinel/risk-scoring-backend/internal/infrastructure/repository"
)

func scoreOf(v float64) *float64 {
	return &v
}

func TestCompute(t *testing.T) {
	institutionID := uuid.New()

	tests := []struct {
		name     string
		scores   []repository.UserScore
		expected risk.InstitutionMetrics
	}{
		{
			name: "mixed population",
			scores: []repository.UserScore{
				{UserID: uuid.New(), Score: scoreOf(20)},
				{UserID: uuid.New(), Score: scoreOf(80)},
				{UserID: uuid.New(), Score: scoreOf(90)},
				{UserID: uuid.New(), Score: scoreOf(40)},
			},
			expected: risk.InstitutionMetrics{
				InstitutionID:  institutionID,
				AverageRisk:    57.5,
				TotalCustomers: 4,
				HighRiskCount:  2,
				CriticalCount:  1,
				ComplianceRate: 50,
			},
		},
		{
			name: "unscored customers contribute zero but stay in the count",
			scores: []repository.UserScore{
				{UserID: uuid.New(), Score: nil},
				{UserID: uuid.New(), Score: scoreOf(100)},
			},
			expected: risk.InstitutionMetrics{
				InstitutionID:  institutionID,
				AverageRisk:    50,
				TotalCustomers: 2,
				HighRiskCount:  1,
				CriticalCount:  1,
				ComplianceRate: 50,
			},
		},
		{
			name: "fully unscored population averages to zero",
			scores: []repository.UserScore{
				{UserID: uuid.New(), Score: nil},
				{UserID: uuid.New(), Score: nil},
			},
			expected: risk.InstitutionMetrics{
				InstitutionID:  institutionID,
				AverageRisk:    0,
				TotalCustomers: 2,
				HighRiskCount:  0,
				CriticalCount:  0,
				ComplianceRate: 100,
			},
		},
		{
			name: "all compliant",
			scores: []repository.UserScore{
				{UserID: uuid.New(), Score: scoreOf(10)},
				{UserID: uuid.New(), Score: scoreOf(30)},
			},
			expected: risk.InstitutionMetrics{
				InstitutionID:  institutionID,
				AverageRisk:    20,
				TotalCustomers: 2,
				HighRiskCount:  0,
				CriticalCount:  0,
				ComplianceRate: 100,
			},
		},
		{
			name: "boundary scores are not flagged",
			scores: []repository.UserScore{
				{UserID: uuid.New(), Score: scoreOf(70)},
				{UserID: uuid.New(), Score: scoreOf(85)},
			},
			expected: risk.InstitutionMetrics{
				InstitutionID:  institutionID,
				AverageRisk:    77.5,
				TotalCustomers: 2,
				HighRiskCount:  1,
				CriticalCount:  0,
				ComplianceRate: 50,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compute(institutionID, tt.scores)
			assert.Equal(t, &tt.expected, got)
		})
	}
}

func TestService_Aggregate(t *testing.T) {
	ctx := context.Background()
	institutionID := uuid.New()

	t.Run("stores computed metrics", func(t *testing.T) {
		store := new(mockMetricsStore)
		store.On("InstitutionUserScores", mock.Anything, institutionID).
			Return([]repository.UserScore{{UserID: uuid.New(), Score: scoreOf(80)}}, nil)
		store.On("SaveInstitutionMetrics", mock.Anything, mock.AnythingOfType("*risk.InstitutionMetrics")).
			Return(nil)

		svc := NewService(store, nil)
		metrics, err := svc.Aggregate(ctx, institutionID)
		require.NoError(t, err)
		require.NotNil(t, metrics)
		assert.Equal(t, 80.0, metrics.AverageRisk)
		assert.False(t, metrics.UpdatedAt.IsZero())
		store.AssertExpectations(t)
	})

	t.Run("skips empty institutions", func(t *testing.T) {
		store := new(mockMetricsStore)
		store.On("InstitutionUserScores", mock.Anything, institutionID).
			Return([]repository.UserScore{}, nil)

		svc := NewService(store, nil)
		metrics, err := svc.Aggregate(ctx, institutionID)
		require.NoError(t, err)
		assert.Nil(t, metrics)
		store.AssertNotCalled(t, "SaveInstitutionMetrics", mock.Anything, mock.Anything)
	})
}

func TestService_AggregateAll(t *testing.T) {
	ctx := context.Background()

	healthy := uuid.New()
	failing := uuid.New()
	empty := uuid.New()

	store := new(mockMetricsStore)
	store.On("ListInstitutions", mock.Anything).Return([]uuid.UUID{healthy, failing, empty}, nil)
	store.On("InstitutionUserScores", mock.Anything, healthy).
		Return([]repository.UserScore{{UserID: uuid.New(), Score: scoreOf(40)}}, nil)
	store.On("InstitutionUserScores", mock.Anything, failing).
		Return([]repository.UserScore(nil), errors.New("query failed"))
	store.On("InstitutionUserScores", mock.Anything, empty).
		Return([]repository.UserScore{}, nil)
	store.On("SaveInstitutionMetrics", mock.Anything, mock.Anything).Return(nil)

	svc := NewService(store, nil)
	processed, err := svc.AggregateAll(ctx)
	require.NoError(t, err)

	// The failing and empty institutions are skipped, not fatal.
	assert.Equal(t, 1, processed)
	store.AssertExpectations(t)
}

type mockMetricsStore struct {
	mock.Mock
}

func (m *mockMetricsStore) ListInstitutions(ctx context.Context) ([]uuid.UUID, error) {
	args := m.Called(ctx)
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func (m *mockMetricsStore) InstitutionUserScores(ctx context.Context, institutionID uuid.UUID) ([]repository.UserScore, error) {
	args := m.Called(ctx, institutionID)
	return args.Get(0).([]repository.UserScore), args.Error(1)
}

func (m *mockMetricsStore) SaveInstitutionMetrics(ctx context.Context, metrics *risk.InstitutionMetrics) error {
	args := m.Called(ctx, metrics)
	return args.Error(0)
}
