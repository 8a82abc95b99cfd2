//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/finsentinel/risk-scoring-backend/internal/domain/errors"
	"github.com/finsentinel/risk-scoring-backend/internal/domain/risk"
	"github.com/finsentinel/risk-scoring-backend/internal/infrastructure/repository"
	"github.com/finsentinel/risk-scoring-backend/internal/service/batchanalysis"
	"github.com/finsentinel/risk-scoring-backend/internal/testutil"
	"github.com/finsentinel/risk-scoring-backend/internal/testutil/containers"
	"github.com/finsentinel/risk-scoring-backend/internal/testutil/fixtures"
)

var connStr string

func TestMain(m *testing.M) {
	ctx := context.Background()

	pg, err := containers.NewPostgresContainer(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "postgres container: %v\n", err)
		os.Exit(1)
	}
	connStr = pg.ConnectionString

	code := m.Run()

	if err := pg.Terminate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "terminating container: %v\n", err)
	}
	os.Exit(code)
}

func TestTransactionRepository(t *testing.T) {
	pool := testutil.ConnectTestDB(t, connStr)
	testutil.TruncateAll(t, pool)

	repo := repository.NewTransactionRepository(pool, 100, 30*24*time.Hour)
	ctx := context.Background()

	userID := uuid.New()
	now := time.Now().UTC().Truncate(time.Millisecond)

	older := fixtures.Transaction(t, userID, 120, now.Add(-2*time.Hour))
	newer := fixtures.Transaction(t, userID, 480, now.Add(-10*time.Minute))
	current := fixtures.Transaction(t, userID, 900, now)
	stale := fixtures.Transaction(t, userID, 75, now.Add(-45*24*time.Hour))

	require.NoError(t, repo.Save(ctx, older))
	require.NoError(t, repo.Save(ctx, newer))
	require.NoError(t, repo.Save(ctx, current))
	require.NoError(t, repo.Save(ctx, stale))

	t.Run("get by id", func(t *testing.T) {
		got, err := repo.GetByID(ctx, newer.ID)
		require.NoError(t, err)
		assert.Equal(t, newer.UserID, got.UserID)
		assert.True(t, newer.Amount.Equal(got.Amount))
		assert.WithinDuration(t, newer.Timestamp, got.Timestamp, time.Millisecond)
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := repo.GetByID(ctx, uuid.New())
		require.ErrorIs(t, err, domainerrors.ErrTransactionNotFound)
	})

	t.Run("window excludes the scored instant and stale rows", func(t *testing.T) {
		window, err := repo.Window(ctx, userID, now)
		require.NoError(t, err)
		require.Len(t, window, 2)
		assert.Equal(t, newer.ID, window[0].ID)
		assert.Equal(t, older.ID, window[1].ID)
	})

	t.Run("window respects the count bound", func(t *testing.T) {
		bounded := repository.NewTransactionRepository(pool, 1, 30*24*time.Hour)
		window, err := bounded.Window(ctx, userID, now)
		require.NoError(t, err)
		require.Len(t, window, 1)
		assert.Equal(t, newer.ID, window[0].ID)
	})

	t.Run("window for unknown user is empty", func(t *testing.T) {
		window, err := repo.Window(ctx, uuid.New(), now)
		require.NoError(t, err)
		assert.Empty(t, window)
	})
}

func TestRiskRepository_SnapshotLifecycle(t *testing.T) {
	pool := testutil.ConnectTestDB(t, connStr)
	testutil.TruncateAll(t, pool)

	repo := repository.NewRiskRepository(pool)
	ctx := context.Background()

	userID := uuid.New()

	t.Run("missing snapshot", func(t *testing.T) {
		_, err := repo.LatestSnapshot(ctx, userID)
		require.ErrorIs(t, err, domainerrors.ErrSnapshotNotFound)
	})

	first := fixtures.Result(userID, uuid.New(), 42)
	require.NoError(t, repo.SaveResult(ctx, first))

	second := fixtures.Result(userID, uuid.New(), 81)
	contribution := 90.0
	second.ModelContribution = &contribution
	require.NoError(t, repo.SaveResult(ctx, second))

	t.Run("snapshot tracks the latest result", func(t *testing.T) {
		snapshot, err := repo.LatestSnapshot(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, second.TransactionID, snapshot.TransactionID)
		assert.Equal(t, 81.0, snapshot.Score)
		assert.Equal(t, risk.LevelCritical, snapshot.Level)
	})

	t.Run("history keeps every result", func(t *testing.T) {
		var count int
		err := pool.QueryRow(ctx,
			`SELECT count(*) FROM risk_results WHERE user_id = $1`, userID,
		).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})
}

func TestRiskRepository_InstitutionRollup(t *testing.T) {
	pool := testutil.ConnectTestDB(t, connStr)
	testutil.TruncateAll(t, pool)

	repo := repository.NewRiskRepository(pool)
	ctx := context.Background()

	institutionID := uuid.New()
	scoredUser := uuid.New()
	unscoredUser := uuid.New()

	_, err := pool.Exec(ctx, `INSERT INTO institutions (id, name) VALUES ($1, 'First Meridian')`, institutionID)
	require.NoError(t, err)
	for _, userID := range []uuid.UUID{scoredUser, unscoredUser} {
		_, err := pool.Exec(ctx, `INSERT INTO users (id, institution_id) VALUES ($1, $2)`, userID, institutionID)
		require.NoError(t, err)
	}
	require.NoError(t, repo.SaveResult(ctx, fixtures.Result(scoredUser, uuid.New(), 88)))

	t.Run("list institutions", func(t *testing.T) {
		ids, err := repo.ListInstitutions(ctx)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{institutionID}, ids)
	})

	t.Run("user scores include unscored users", func(t *testing.T) {
		scores, err := repo.InstitutionUserScores(ctx, institutionID)
		require.NoError(t, err)
		require.Len(t, scores, 2)

		byUser := make(map[uuid.UUID]*float64, len(scores))
		for _, s := range scores {
			byUser[s.UserID] = s.Score
		}
		require.NotNil(t, byUser[scoredUser])
		assert.Equal(t, 88.0, *byUser[scoredUser])
		assert.Nil(t, byUser[unscoredUser])
	})

	t.Run("metrics upsert and read back", func(t *testing.T) {
		metrics := &risk.InstitutionMetrics{
			InstitutionID:  institutionID,
			AverageRisk:    69,
			TotalCustomers: 2,
			HighRiskCount:  1,
			CriticalCount:  1,
			ComplianceRate: 50,
			UpdatedAt:      time.Now().UTC(),
		}
		require.NoError(t, repo.SaveInstitutionMetrics(ctx, metrics))

		metrics.AverageRisk = 44
		metrics.HighRiskCount = 0
		metrics.ComplianceRate = 100
		require.NoError(t, repo.SaveInstitutionMetrics(ctx, metrics))

		got, err := repo.InstitutionMetrics(ctx, institutionID)
		require.NoError(t, err)
		assert.Equal(t, 44.0, got.AverageRisk)
		assert.Equal(t, 0, got.HighRiskCount)
		assert.Equal(t, 100.0, got.ComplianceRate)
	})

	t.Run("metrics missing", func(t *testing.T) {
		_, err := repo.InstitutionMetrics(ctx, uuid.New())
		require.Error(t, err)
		assert.True(t, domainerrors.IsType(err, domainerrors.ErrorTypeNotFound))
	})
}

func TestAlertRepository(t *testing.T) {
	pool := testutil.ConnectTestDB(t, connStr)
	testutil.TruncateAll(t, pool)

	repo := repository.NewAlertRepository(pool)
	ctx := context.Background()

	userID := uuid.New()

	first := fixtures.Alert(fixtures.Result(userID, uuid.New(), 68))
	first.CreatedAt = time.Now().UTC().Add(-time.Hour)
	second := fixtures.Alert(fixtures.Result(userID, uuid.New(), 92))

	require.NoError(t, repo.Deliver(ctx, first))
	require.NoError(t, repo.Deliver(ctx, second))

	alerts, err := repo.ListByUser(ctx, userID, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 2)

	assert.Equal(t, second.ID, alerts[0].ID)
	assert.Equal(t, risk.SeverityHigh, alerts[0].Severity)
	assert.Equal(t, []string{"amount"}, alerts[0].TriggeredFactors)
	assert.Equal(t, first.ID, alerts[1].ID)
	assert.Equal(t, risk.SeverityMedium, alerts[1].Severity)

	limited, err := repo.ListByUser(ctx, userID, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, second.ID, limited[0].ID)
}

func TestBatchRepository(t *testing.T) {
	pool := testutil.ConnectTestDB(t, connStr)
	testutil.TruncateAll(t, pool)

	repo := repository.NewBatchRepository(pool)
	ctx := context.Background()

	batch := &batchanalysis.Batch{
		ID:        uuid.New(),
		AnalystID: "analyst-7",
		Results: []batchanalysis.ClientResult{
			{ClientID: "c-1", RiskScore: 30, Status: "completed"},
			{ClientID: "c-2", RiskScore: 85, Status: "completed"},
		},
		TotalClients: 2,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, repo.SaveBatch(ctx, batch))

	var (
		analystID string
		total     int
	)
	err := pool.QueryRow(ctx,
		`SELECT analyst_id, total_clients FROM analyst_batches WHERE id = $1`, batch.ID,
	).Scan(&analystID, &total)
	require.NoError(t, err)
	assert.Equal(t, "analyst-7", analystID)
	assert.Equal(t, 2, total)
}
