package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/finsentinel/risk-scoring-backend/internal/domain/risk"
	"github.com/finsentinel/risk-scoring-backend/internal/infrastructure/telemetry"
)

// AlertFeed keeps a capped per-user list of recent alerts in Redis so
// dashboards can poll without hitting Postgres. The database row is the
// durable record; the feed is a convenience view.
type AlertFeed struct {
	client *redis.Client
	limit  int64
	logger *zap.Logger
}

// NewAlertFeed wraps an existing Redis client. limit caps how many
// alerts are retained per user.
func NewAlertFeed(client *redis.Client, limit int64, logger *zap.Logger) *AlertFeed {
	if limit <= 0 {
		limit = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertFeed{client: client, limit: limit, logger: logger}
}

func alertFeedKey(userID uuid.UUID) string {
	return "risk:alerts:" + userID.String()
}

// Push prepends the alert to the user's feed and trims to the cap.
func (f *AlertFeed) Push(ctx context.Context, alert *risk.Alert) error {
	key := alertFeedKey(alert.UserID)
	ctx, span := telemetry.StartCacheSpan(ctx, "lpush", key)
	defer span.End()

	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshaling alert: %w", err)
	}

	pipe := f.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, f.limit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("alert feed push: %w", err)
	}
	return nil
}

// Recent returns up to n alerts from the user's feed, newest first.
// Entries that fail to decode are skipped.
func (f *AlertFeed) Recent(ctx context.Context, userID uuid.UUID, n int64) ([]risk.Alert, error) {
	key := alertFeedKey(userID)
	ctx, span := telemetry.StartCacheSpan(ctx, "lrange", key)
	defer span.End()

	if n <= 0 || n > f.limit {
		n = f.limit
	}

	entries, err := f.client.LRange(ctx, key, 0, n-1).Result()
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("alert feed read: %w", err)
	}

	alerts := make([]risk.Alert, 0, len(entries))
	for _, entry := range entries {
		var alert risk.Alert
		if err := json.Unmarshal([]byte(entry), &alert); err != nil {
			f.logger.Warn("skipping corrupt alert feed entry",
				zap.String("user_id", userID.String()),
				zap.Error(err))
			continue
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}
