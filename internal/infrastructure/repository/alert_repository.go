package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finsentinel/risk-scoring-backend/internal/domain/risk"
	"github.com/finsentinel/risk-scoring-backend/internal/infrastructure/telemetry"
)

// AlertRepository stores alerts. It implements riskscoring.AlertSink,
// so persisting doubles as the default delivery channel.
type AlertRepository struct {
	pool *pgxpool.Pool
}

func NewAlertRepository(pool *pgxpool.Pool) *AlertRepository {
	return &AlertRepository{pool: pool}
}

// Deliver persists the alert.
func (r *AlertRepository) Deliver(ctx context.Context, alert *risk.Alert) error {
	ctx, span := telemetry.StartDatabaseSpan(ctx, "insert", "alerts")
	defer span.End()

	query := `
		INSERT INTO alerts (
			id, user_id, transaction_id, score, severity, triggered_factors, message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if _, err := r.pool.Exec(ctx, query,
		alert.ID, alert.UserID, alert.TransactionID, alert.Score,
		string(alert.Severity), alert.TriggeredFactors, alert.Message, alert.CreatedAt,
	); err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("saving alert: %w", err)
	}
	return nil
}

// ListByUser returns the user's most recent alerts, newest-first.
func (r *AlertRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]risk.Alert, error) {
	ctx, span := telemetry.StartDatabaseSpan(ctx, "select", "alerts")
	defer span.End()

	query := `
		SELECT id, user_id, transaction_id, score, severity, triggered_factors, message, created_at
		FROM alerts
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("listing alerts: %w", err)
	}
	defer rows.Close()

	var alerts []risk.Alert
	for rows.Next() {
		var (
			alert    risk.Alert
			severity string
		)
		if err := rows.Scan(
			&alert.ID, &alert.UserID, &alert.TransactionID, &alert.Score,
			&severity, &alert.TriggeredFactors, &alert.Message, &alert.CreatedAt,
		); err != nil {
			telemetry.RecordError(span, err)
			return nil, fmt.Errorf("listing alerts: %w", err)
		}
		alert.Severity = risk.Severity(severity)
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("listing alerts: %w", err)
	}
	return alerts, nil
}
