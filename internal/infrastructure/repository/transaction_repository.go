package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domainerrors "github.com/finsentinel/risk-scoring-backend/internal/domain/errors"
	"github.com/finsentinel/risk-scoring-backend/internal/domain/transaction"
	"github.com/finsentinel/risk-scoring-backend/internal/infrastructure/telemetry"
	"github.com/finsentinel/risk-scoring-backend/internal/service/riskscoring"
)

// TransactionRepository persists transactions and serves bounded
// history windows for scoring. It implements riskscoring.HistoryProvider.
type TransactionRepository struct {
	pool        *pgxpool.Pool
	windowLimit int
	windowAge   time.Duration
}

// NewTransactionRepository creates a transaction repository. windowLimit
// and windowAge bound the history query so a hot user cannot drag an
// unbounded read into the scoring path.
func NewTransactionRepository(pool *pgxpool.Pool, windowLimit int, windowAge time.Duration) *TransactionRepository {
	return &TransactionRepository{
		pool:        pool,
		windowLimit: windowLimit,
		windowAge:   windowAge,
	}
}

// Save stores a transaction.
func (r *TransactionRepository) Save(ctx context.Context, tx *transaction.Transaction) error {
	ctx, span := telemetry.StartDatabaseSpan(ctx, "insert", "transactions")
	defer span.End()

	query := `
		INSERT INTO transactions (
			id, user_id, amount, occurred_at, location, merchant_type, time_of_day, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.pool.Exec(ctx, query,
		tx.ID, tx.UserID, tx.Amount, tx.Timestamp,
		tx.Location, tx.MerchantType, tx.TimeOfDay, tx.CreatedAt,
	)
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("saving transaction: %w", err)
	}
	return nil
}

// GetByID retrieves a transaction.
func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error) {
	ctx, span := telemetry.StartDatabaseSpan(ctx, "select", "transactions")
	defer span.End()

	query := `
		SELECT id, user_id, amount, occurred_at, location, merchant_type, time_of_day, created_at
		FROM transactions
		WHERE id = $1
	`

	var tx transaction.Transaction
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&tx.ID, &tx.UserID, &tx.Amount, &tx.Timestamp,
		&tx.Location, &tx.MerchantType, &tx.TimeOfDay, &tx.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domainerrors.ErrTransactionNotFound
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("loading transaction: %w", err)
	}
	return &tx, nil
}

// Window returns the user's most recent transactions strictly before
// the given instant, newest-first, capped by the repository bounds.
// Failures are reported as riskscoring.ErrHistoryUnavailable so the
// scoring path degrades instead of aborting.
func (r *TransactionRepository) Window(ctx context.Context, userID uuid.UUID, before time.Time) (transaction.HistoryWindow, error) {
	ctx, span := telemetry.StartDatabaseSpan(ctx, "select", "transactions")
	defer span.End()

	query := `
		SELECT id, user_id, amount, occurred_at, location, merchant_type, time_of_day, created_at
		FROM transactions
		WHERE user_id = $1
		  AND occurred_at < $2
		  AND occurred_at >= $3
		ORDER BY occurred_at DESC
		LIMIT $4
	`

	rows, err := r.pool.Query(ctx, query, userID, before, before.Add(-r.windowAge), r.windowLimit)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("%w: %v", riskscoring.ErrHistoryUnavailable, err)
	}
	defer rows.Close()

	var window transaction.HistoryWindow
	for rows.Next() {
		var tx transaction.Transaction
		if err := rows.Scan(
			&tx.ID, &tx.UserID, &tx.Amount, &tx.Timestamp,
			&tx.Location, &tx.MerchantType, &tx.TimeOfDay, &tx.CreatedAt,
		); err != nil {
			telemetry.RecordError(span, err)
			return nil, fmt.Errorf("%w: %v", riskscoring.ErrHistoryUnavailable, err)
		}
		window = append(window, tx)
	}
	if err := rows.Err(); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("%w: %v", riskscoring.ErrHistoryUnavailable, err)
	}
	return window, nil
}
