package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finsentinel/risk-scoring-backend/internal/infrastructure/telemetry"
	"github.com/finsentinel/risk-scoring-backend/internal/service/batchanalysis"
)

// BatchRepository stores completed analyst batches. It implements
// batchanalysis.BatchStore.
type BatchRepository struct {
	pool *pgxpool.Pool
}

func NewBatchRepository(pool *pgxpool.Pool) *BatchRepository {
	return &BatchRepository{pool: pool}
}

// SaveBatch persists the batch with its per-client results as JSONB.
func (r *BatchRepository) SaveBatch(ctx context.Context, batch *batchanalysis.Batch) error {
	ctx, span := telemetry.StartDatabaseSpan(ctx, "insert", "analyst_batches")
	defer span.End()

	resultsJSON, err := json.Marshal(batch.Results)
	if err != nil {
		return fmt.Errorf("marshaling batch results: %w", err)
	}

	query := `
		INSERT INTO analyst_batches (id, analyst_id, results, total_clients, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.pool.Exec(ctx, query,
		batch.ID, batch.AnalystID, resultsJSON, batch.TotalClients, batch.CreatedAt,
	); err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("saving batch: %w", err)
	}
	return nil
}
