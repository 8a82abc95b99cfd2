package analytics

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/finsentinel/risk-scoring-backend/internal/domain/risk"
	"github.com/finsentinel/risk-scoring-backend/internal/infrastructure/repository"
)

const (
	// Thresholds on snapshot scores, not tier boundaries: the rollup
	// flags stricter bands than the per-transaction tiers.
	highRiskScore = 70
	criticalScore = 85
)

// MetricsStore is the persistence surface the aggregator needs.
type MetricsStore interface {
	ListInstitutions(ctx context.Context) ([]uuid.UUID, error)
	InstitutionUserScores(ctx context.Context, institutionID uuid.UUID) ([]repository.UserScore, error)
	SaveInstitutionMetrics(ctx context.Context, m *risk.InstitutionMetrics) error
}

// Service rolls up per-user risk snapshots into institution metrics.
type Service struct {
	store  MetricsStore
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store MetricsStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// AggregateAll recomputes and stores metrics for every institution,
// returning the number processed. A failing institution is logged and
// skipped so one bad rollup does not starve the rest.
func (s *Service) AggregateAll(ctx context.Context) (int, error) {
	institutions, err := s.store.ListInstitutions(ctx)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, id := range institutions {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		metrics, err := s.Aggregate(ctx, id)
		if err != nil {
			s.logger.ErrorContext(ctx, "institution aggregation failed",
				"institution_id", id,
				"error", err,
			)
			continue
		}
		if metrics == nil {
			continue
		}
		processed++
	}

	s.logger.InfoContext(ctx, "institution metrics aggregated",
		"institutions", len(institutions),
		"processed", processed,
	)
	return processed, nil
}

// Aggregate recomputes and stores one institution's metrics. It returns
// nil metrics without error when the institution has no customers.
func (s *Service) Aggregate(ctx context.Context, institutionID uuid.UUID) (*risk.InstitutionMetrics, error) {
	scores, err := s.store.InstitutionUserScores(ctx, institutionID)
	if err != nil {
		return nil, err
	}
	if len(scores) == 0 {
		return nil, nil
	}

	metrics := Compute(institutionID, scores)
	metrics.UpdatedAt = s.now()

	if err := s.store.SaveInstitutionMetrics(ctx, metrics); err != nil {
		return nil, err
	}
	return metrics, nil
}

// Compute derives institution metrics from user scores. Customers who
// have never been scored stay in the customer count but add nothing to
// the risk total, dragging the average down rather than padding it.
func Compute(institutionID uuid.UUID, scores []repository.UserScore) *risk.InstitutionMetrics {
	var (
		total    float64
		high     int
		critical int
	)

	for _, us := range scores {
		if us.Score == nil {
			continue
		}
		score := *us.Score
		total += score
		if score > highRiskScore {
			high++
		}
		if score > criticalScore {
			critical++
		}
	}

	n := len(scores)
	return &risk.InstitutionMetrics{
		InstitutionID:  institutionID,
		AverageRisk:    total / float64(n),
		TotalCustomers: n,
		HighRiskCount:  high,
		CriticalCount:  critical,
		ComplianceRate: 100 - float64(high)/float64(n)*100,
	}
}
