package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/finsentinel/risk-scoring-backend"

// StartScoringSpan starts a span around a single transaction scoring.
func StartScoringSpan(ctx context.Context, userID, transactionID string) (context.Context, trace.Span) {
	return Tracer(tracerName).Start(ctx, "risk.score",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("risk.user_id", userID),
			attribute.String("risk.transaction_id", transactionID),
		),
	)
}

// StartDatabaseSpan starts a client span for a database operation.
func StartDatabaseSpan(ctx context.Context, operation, table string) (context.Context, trace.Span) {
	return Tracer(tracerName).Start(ctx, fmt.Sprintf("db.%s %s", operation, table),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", operation),
			attribute.String("db.sql.table", table),
		),
	)
}

// StartCacheSpan starts a client span for a cache operation.
func StartCacheSpan(ctx context.Context, operation, key string) (context.Context, trace.Span) {
	return Tracer(tracerName).Start(ctx, fmt.Sprintf("cache.%s", operation),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "redis"),
			attribute.String("cache.key", key),
		),
	)
}
