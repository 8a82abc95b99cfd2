package batchanalysis

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finsentinel/risk-scoring-backend/internal/domain/errors"
)

// ClientResult is the per-row outcome of a batch analysis.
type ClientResult struct {
	ClientID   string    `json:"client_id"`
	RiskScore  int       `json:"risk_score"`
	Status     string    `json:"status"`
	AnalyzedAt time.Time `json:"analyzed_at"`
}

// Batch is one completed analyst upload.
type Batch struct {
	ID           uuid.UUID      `json:"batch_id"`
	AnalystID    string         `json:"analyst_id"`
	Results      []ClientResult `json:"results"`
	TotalClients int            `json:"total_clients"`
	CreatedAt    time.Time      `json:"created_at"`
}

// BatchStore persists completed batches.
type BatchStore interface {
	SaveBatch(ctx context.Context, batch *Batch) error
}

// Scoring constants for the financial heuristic. Scores are coarse on
// purpose: batch rows carry no transaction history, so only the
// income/expenses/debt shape is available.
const (
	baseScore           = 30
	expenseRatioPenalty = 30
	debtMultiplePenalty = 25
	maxScore            = 100
	unknownClientID     = "unknown"
	statusCompleted     = "completed"
)

var (
	expenseRatio = decimal.NewFromFloat(0.8)
	debtMultiple = decimal.NewFromInt(3)
)

// Service analyzes analyst-uploaded CSVs of client financials. Expected
// columns: client_id, income, expenses, debt. Unknown columns are
// ignored, malformed numbers degrade to zero.
type Service struct {
	store  BatchStore
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store BatchStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Analyze parses the CSV, scores every row and persists the batch.
func (s *Service) Analyze(ctx context.Context, analystID string, csvContent io.Reader) (*Batch, error) {
	if strings.TrimSpace(analystID) == "" {
		return nil, errors.NewValidationError("MISSING_ANALYST_ID", "Analyst ID is required")
	}

	results, err := s.parse(csvContent)
	if err != nil {
		return nil, err
	}

	batch := &Batch{
		ID:           uuid.New(),
		AnalystID:    analystID,
		Results:      results,
		TotalClients: len(results),
		CreatedAt:    s.now(),
	}

	if s.store != nil {
		if err := s.store.SaveBatch(ctx, batch); err != nil {
			return nil, fmt.Errorf("saving batch: %w", err)
		}
	}

	s.logger.InfoContext(ctx, "batch analysis completed",
		"analyst_id", analystID,
		"batch_id", batch.ID,
		"total_clients", batch.TotalClients,
	)
	return batch, nil
}

func (s *Service) parse(r io.Reader) ([]ClientResult, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.NewValidationError("EMPTY_CSV", "CSV content is empty")
	}
	if err != nil {
		return nil, errors.NewValidationError("MALFORMED_CSV", "CSV header could not be parsed").WithCause(err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}

	analyzedAt := s.now()
	var results []ClientResult
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.NewValidationError("MALFORMED_CSV", "CSV row could not be parsed").WithCause(err)
		}

		results = append(results, ClientResult{
			ClientID:   field(record, columns, "client_id", unknownClientID),
			RiskScore:  scoreRow(record, columns),
			Status:     statusCompleted,
			AnalyzedAt: analyzedAt,
		})
	}
	return results, nil
}

// scoreRow applies the financial heuristic to one row. All three
// amounts degrade to zero together when any fails to parse, matching
// the row either being trustworthy or not.
func scoreRow(record []string, columns map[string]int) int {
	income, incomeOK := amount(record, columns, "income")
	expenses, expensesOK := amount(record, columns, "expenses")
	debt, debtOK := amount(record, columns, "debt")
	if !incomeOK || !expensesOK || !debtOK {
		return baseScore
	}

	score := baseScore
	if income.IsPositive() && expenses.GreaterThan(income.Mul(expenseRatio)) {
		score += expenseRatioPenalty
	}
	if income.IsPositive() && debt.GreaterThan(income.Mul(debtMultiple)) {
		score += debtMultiplePenalty
	}
	if score > maxScore {
		score = maxScore
	}
	return score
}

func field(record []string, columns map[string]int, name, def string) string {
	i, ok := columns[name]
	if !ok || i >= len(record) {
		return def
	}
	value := strings.TrimSpace(record[i])
	if value == "" {
		return def
	}
	return value
}

func amount(record []string, columns map[string]int, name string) (decimal.Decimal, bool) {
	raw := field(record, columns, name, "0")
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	return value, true
}
