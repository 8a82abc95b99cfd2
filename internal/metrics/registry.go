package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Registry holds the scoring-domain instruments.
type Registry struct {
	meter metric.Meter

	// Scoring
	ScoringDuration    metric.Float64Histogram
	ScoringCounter     metric.Int64Counter
	ScoringFailures    metric.Int64Counter
	RiskScoreRecorded  metric.Float64Histogram
	ClassifierFallback metric.Int64Counter
	HistoryFallback    metric.Int64Counter

	// Alerting
	AlertsEmitted metric.Int64Counter

	// Batch analysis
	BatchRowsAnalyzed metric.Int64Counter
	BatchDuration     metric.Float64Histogram

	// Aggregation
	InstitutionsAggregated metric.Int64Counter

	// API
	RequestDuration metric.Float64Histogram
	RequestCounter  metric.Int64Counter
}

// NewRegistry creates the registry on the global meter provider.
func NewRegistry(meterName string) (*Registry, error) {
	r := &Registry{meter: otel.Meter(meterName)}
	var err error

	if r.ScoringDuration, err = r.meter.Float64Histogram(
		"risk.scoring.duration",
		metric.WithDescription("Time to score one transaction"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if r.ScoringCounter, err = r.meter.Int64Counter(
		"risk.scoring.total",
		metric.WithDescription("Transactions scored"),
	); err != nil {
		return nil, err
	}

	if r.ScoringFailures, err = r.meter.Int64Counter(
		"risk.scoring.failures",
		metric.WithDescription("Scoring requests rejected"),
	); err != nil {
		return nil, err
	}

	if r.RiskScoreRecorded, err = r.meter.Float64Histogram(
		"risk.score",
		metric.WithDescription("Distribution of final risk scores"),
	); err != nil {
		return nil, err
	}

	if r.ClassifierFallback, err = r.meter.Int64Counter(
		"risk.classifier.fallbacks",
		metric.WithDescription("Scorings that fell back to rules only"),
	); err != nil {
		return nil, err
	}

	if r.HistoryFallback, err = r.meter.Int64Counter(
		"risk.history.fallbacks",
		metric.WithDescription("Scorings that ran against an empty history window"),
	); err != nil {
		return nil, err
	}

	if r.AlertsEmitted, err = r.meter.Int64Counter(
		"risk.alerts.emitted",
		metric.WithDescription("Alerts emitted by severity"),
	); err != nil {
		return nil, err
	}

	if r.BatchRowsAnalyzed, err = r.meter.Int64Counter(
		"batch.rows.analyzed",
		metric.WithDescription("CSV rows analyzed in batch uploads"),
	); err != nil {
		return nil, err
	}

	if r.BatchDuration, err = r.meter.Float64Histogram(
		"batch.duration",
		metric.WithDescription("Time to analyze one batch upload"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if r.InstitutionsAggregated, err = r.meter.Int64Counter(
		"aggregator.institutions.processed",
		metric.WithDescription("Institutions processed per aggregation run"),
	); err != nil {
		return nil, err
	}

	if r.RequestDuration, err = r.meter.Float64Histogram(
		"api.request.duration",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if r.RequestCounter, err = r.meter.Int64Counter(
		"api.request.total",
		metric.WithDescription("HTTP requests by route and status"),
	); err != nil {
		return nil, err
	}

	return r, nil
}

// RecordScoring records one completed scoring with its outcome.
func (r *Registry) RecordScoring(ctx context.Context, duration time.Duration, score float64, level string) {
	attrs := metric.WithAttributes(attribute.String("level", level))
	r.ScoringDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	r.ScoringCounter.Add(ctx, 1, attrs)
	r.RiskScoreRecorded.Record(ctx, score, attrs)
}

// RecordClassifierFallback records a scoring that fell back to rules
// only because the classifier failed or returned an unusable value.
func (r *Registry) RecordClassifierFallback(ctx context.Context) {
	r.ClassifierFallback.Add(ctx, 1)
}

// RecordHistoryFallback records a scoring that ran against an empty
// window because history could not be fetched.
func (r *Registry) RecordHistoryFallback(ctx context.Context) {
	r.HistoryFallback.Add(ctx, 1)
}

// RecordAlert records one emitted alert.
func (r *Registry) RecordAlert(ctx context.Context, severity string) {
	r.AlertsEmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("severity", severity)))
}

// RecordRequest records one HTTP request.
func (r *Registry) RecordRequest(ctx context.Context, route string, status int, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("route", route),
		attribute.Int("status", status),
	)
	r.RequestDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	r.RequestCounter.Add(ctx, 1, attrs)
}
