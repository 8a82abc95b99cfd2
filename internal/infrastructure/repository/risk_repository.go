package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domainerrors "github.com/finsentinel/risk-scoring-backend/internal/domain/errors"
	"github.com/finsentinel/risk-scoring-backend/internal/domain/risk"
	"github.com/finsentinel/risk-scoring-backend/internal/infrastructure/telemetry"
)

// RiskRepository persists scoring results and the per-user latest
// snapshot. It implements riskscoring.Repository.
type RiskRepository struct {
	pool *pgxpool.Pool
}

func NewRiskRepository(pool *pgxpool.Pool) *RiskRepository {
	return &RiskRepository{pool: pool}
}

// SaveResult appends the result to the score history and upserts the
// user's latest snapshot in a single database transaction.
func (r *RiskRepository) SaveResult(ctx context.Context, result *risk.Result) error {
	ctx, span := telemetry.StartDatabaseSpan(ctx, "insert", "risk_results")
	defer span.End()

	factorsJSON, err := json.Marshal(result.Factors)
	if err != nil {
		return fmt.Errorf("marshaling factor scores: %w", err)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()

	insertResult := `
		INSERT INTO risk_results (
			transaction_id, user_id, score, level, factors, model_contribution, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := tx.Exec(ctx, insertResult,
		result.TransactionID, result.UserID, result.Score, result.Level.String(),
		factorsJSON, result.ModelContribution, now,
	); err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("saving risk result: %w", err)
	}

	upsertSnapshot := `
		INSERT INTO risk_snapshots (user_id, score, level, transaction_id, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			score = EXCLUDED.score,
			level = EXCLUDED.level,
			transaction_id = EXCLUDED.transaction_id,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := tx.Exec(ctx, upsertSnapshot,
		result.UserID, result.Score, result.Level.String(), result.TransactionID, now,
	); err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("updating risk snapshot: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("committing risk result: %w", err)
	}
	return nil
}

// LatestSnapshot returns the user's current risk snapshot.
func (r *RiskRepository) LatestSnapshot(ctx context.Context, userID uuid.UUID) (*risk.Snapshot, error) {
	ctx, span := telemetry.StartDatabaseSpan(ctx, "select", "risk_snapshots")
	defer span.End()

	query := `
		SELECT user_id, score, level, transaction_id, updated_at
		FROM risk_snapshots
		WHERE user_id = $1
	`

	var (
		snapshot risk.Snapshot
		level    string
	)
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&snapshot.UserID, &snapshot.Score, &level, &snapshot.TransactionID, &snapshot.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domainerrors.ErrSnapshotNotFound
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("loading risk snapshot: %w", err)
	}

	snapshot.Level = risk.LevelFromString(level)
	return &snapshot, nil
}

// UserScore pairs a user with their latest snapshot score; Score is nil
// when the user has never been scored.
type UserScore struct {
	UserID uuid.UUID
	Score  *float64
}

// InstitutionUserScores returns the latest snapshot score of every user
// linked to the institution, including users without a snapshot.
func (r *RiskRepository) InstitutionUserScores(ctx context.Context, institutionID uuid.UUID) ([]UserScore, error) {
	ctx, span := telemetry.StartDatabaseSpan(ctx, "select", "risk_snapshots")
	defer span.End()

	query := `
		SELECT u.id, s.score
		FROM users u
		LEFT JOIN risk_snapshots s ON s.user_id = u.id
		WHERE u.institution_id = $1
	`

	rows, err := r.pool.Query(ctx, query, institutionID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("loading institution user scores: %w", err)
	}
	defer rows.Close()

	var scores []UserScore
	for rows.Next() {
		var us UserScore
		if err := rows.Scan(&us.UserID, &us.Score); err != nil {
			telemetry.RecordError(span, err)
			return nil, fmt.Errorf("loading institution user scores: %w", err)
		}
		scores = append(scores, us)
	}
	if err := rows.Err(); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("loading institution user scores: %w", err)
	}
	return scores, nil
}

// ListInstitutions returns the IDs of all registered institutions.
func (r *RiskRepository) ListInstitutions(ctx context.Context) ([]uuid.UUID, error) {
	ctx, span := telemetry.StartDatabaseSpan(ctx, "select", "institutions")
	defer span.End()

	rows, err := r.pool.Query(ctx, `SELECT id FROM institutions ORDER BY id`)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("listing institutions: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			telemetry.RecordError(span, err)
			return nil, fmt.Errorf("listing institutions: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("listing institutions: %w", err)
	}
	return ids, nil
}

// SaveInstitutionMetrics upserts the institution's realtime rollup.
func (r *RiskRepository) SaveInstitutionMetrics(ctx context.Context, m *risk.InstitutionMetrics) error {
	ctx, span := telemetry.StartDatabaseSpan(ctx, "insert", "institution_metrics")
	defer span.End()

	query := `
		INSERT INTO institution_metrics (
			institution_id, average_risk, total_customers, high_risk_count,
			critical_count, compliance_rate, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (institution_id) DO UPDATE SET
			average_risk = EXCLUDED.average_risk,
			total_customers = EXCLUDED.total_customers,
			high_risk_count = EXCLUDED.high_risk_count,
			critical_count = EXCLUDED.critical_count,
			compliance_rate = EXCLUDED.compliance_rate,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := r.pool.Exec(ctx, query,
		m.InstitutionID, m.AverageRisk, m.TotalCustomers, m.HighRiskCount,
		m.CriticalCount, m.ComplianceRate, m.UpdatedAt,
	); err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("saving institution metrics: %w", err)
	}
	return nil
}

// InstitutionMetrics returns the institution's latest rollup.
func (r *RiskRepository) InstitutionMetrics(ctx context.Context, institutionID uuid.UUID) (*risk.InstitutionMetrics, error) {
	ctx, span := telemetry.StartDatabaseSpan(ctx, "select", "institution_metrics")
	defer span.End()

	query := `
		SELECT institution_id, average_risk, total_customers, high_risk_count,
			critical_count, compliance_rate, updated_at
		FROM institution_metrics
		WHERE institution_id = $1
	`

	var m risk.InstitutionMetrics
	err := r.pool.QueryRow(ctx, query, institutionID).Scan(
		&m.InstitutionID, &m.AverageRisk, &m.TotalCustomers, &m.HighRiskCount,
		&m.CriticalCount, &m.ComplianceRate, &m.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domainerrors.NewNotFoundError("institution metrics")
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("loading institution metrics: %w", err)
	}
	return &m, nil
}
