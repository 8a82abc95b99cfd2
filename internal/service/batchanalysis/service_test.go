package batchanalysis

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/finsentinel/risk-scoring-backend/internal/domain/errors"
)

func TestService_Analyze(t *testing.T) {
	ctx := context.Background()

	t.Run("scores each row with the financial heuristic", func(t *testing.T) {
		csvContent := strings.Join([]string{
			"client_id,income,expenses,debt",
			"c-1,5000,1000,2000",   // healthy: base score
			"c-2,5000,4500,2000",   // expenses > 80% of income
			"c-3,5000,1000,16000",  // debt > 3x income
			"c-4,5000,4500,16000",  // both penalties
			"c-5,0,9000,90000",     // zero income never penalizes
			"c-6,bogus,4500,16000", // malformed amounts degrade to base
		}, "\n")

		svc := NewService(nil, nil)
		batch, err := svc.Analyze(ctx, "analyst-1", strings.NewReader(csvContent))
		require.NoError(t, err)

		require.Len(t, batch.Results, 6)
		assert.Equal(t, 6, batch.TotalClients)
		assert.Equal(t, "analyst-1", batch.AnalystID)
		assert.NotEqual(t, batch.ID.String(), "00000000-0000-0000-0000-000000000000")

		scores := make(map[string]int, len(batch.Results))
		for _, r := range batch.Results {
			assert.Equal(t, "completed", r.Status)
			scores[r.ClientID] = r.RiskScore
		}
		assert.Equal(t, 30, scores["c-1"])
		assert.Equal(t, 60, scores["c-2"])
		assert.Equal(t, 55, scores["c-3"])
		assert.Equal(t, 85, scores["c-4"])
		assert.Equal(t, 30, scores["c-5"])
		assert.Equal(t, 30, scores["c-6"])
	})

	t.Run("boundary ratios do not penalize", func(t *testing.T) {
		csvContent := strings.Join([]string{
			"client_id,income,expenses,debt",
			"c-1,1000,800,3000", // exactly 80% and exactly 3x
		}, "\n")

		svc := NewService(nil, nil)
		batch, err := svc.Analyze(ctx, "analyst-1", strings.NewReader(csvContent))
		require.NoError(t, err)
		assert.Equal(t, 30, batch.Results[0].RiskScore)
	})

	t.Run("missing client id defaults to unknown", func(t *testing.T) {
		csvContent := "client_id,income,expenses,debt\n,100,10,10"

		svc := NewService(nil, nil)
		batch, err := svc.Analyze(ctx, "analyst-1", strings.NewReader(csvContent))
		require.NoError(t, err)
		assert.Equal(t, "unknown", batch.Results[0].ClientID)
	})

	t.Run("header only yields empty batch", func(t *testing.T) {
		svc := NewService(nil, nil)
		batch, err := svc.Analyze(ctx, "analyst-1", strings.NewReader("client_id,income,expenses,debt"))
		require.NoError(t, err)
		assert.Empty(t, batch.Results)
		assert.Zero(t, batch.TotalClients)
	})

	t.Run("validation failures", func(t *testing.T) {
		svc := NewService(nil, nil)

		_, err := svc.Analyze(ctx, "  ", strings.NewReader("client_id\nc-1"))
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

		_, err = svc.Analyze(ctx, "analyst-1", strings.NewReader(""))
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

		// Ragged rows are rejected rather than silently skipped.
		_, err = svc.Analyze(ctx, "analyst-1", strings.NewReader("a,b\n1,2,3"))
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	})

	t.Run("persists the batch", func(t *testing.T) {
		store := new(mockBatchStore)
		store.On("SaveBatch", mock.Anything, mock.AnythingOfType("*batchanalysis.Batch")).Return(nil)

		svc := NewService(store, nil)
		_, err := svc.Analyze(ctx, "analyst-1", strings.NewReader("client_id,income,expenses,debt\nc-1,100,10,10"))
		require.NoError(t, err)
		store.AssertExpectations(t)
	})
}

type mockBatchStore struct {
	mock.Mock
}

func (m *mockBatchStore) SaveBatch(ctx context.Context, batch *Batch) error {
	args := m.Called(ctx, batch)
	return args.Error(0)
}
