package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/finsentinel/risk-scoring-backend/internal/domain/risk"
	"github.com/finsentinel/risk-scoring-backend/internal/infrastructure/config"
	"github.com/finsentinel/risk-scoring-backend/internal/infrastructure/telemetry"
)

// ErrSnapshotMiss reports that the cache holds no snapshot for the user.
var ErrSnapshotMiss = errors.New("snapshot not cached")

// SnapshotCache keeps the latest per-user risk snapshot in Redis so
// dashboard reads skip the database. Entries expire on a TTL; the
// database stays the source of truth.
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewSnapshotCache connects to Redis and verifies the connection.
func NewSnapshotCache(cfg *config.RedisConfig, logger *zap.Logger) (*SnapshotCache, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.URL,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info("snapshot cache initialized",
		zap.String("addr", cfg.URL),
		zap.Int("db", cfg.DB),
		zap.Duration("ttl", cfg.SnapshotTTL))

	return &SnapshotCache{
		client: client,
		ttl:    cfg.SnapshotTTL,
		logger: logger,
	}, nil
}

// NewSnapshotCacheWithClient wraps an existing client, used in tests.
func NewSnapshotCacheWithClient(client *redis.Client, ttl time.Duration, logger *zap.Logger) *SnapshotCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotCache{client: client, ttl: ttl, logger: logger}
}

func snapshotKey(userID uuid.UUID) string {
	return "risk:snapshot:" + userID.String()
}

// Get returns the cached snapshot or ErrSnapshotMiss.
func (c *SnapshotCache) Get(ctx context.Context, userID uuid.UUID) (*risk.Snapshot, error) {
	ctx, span := telemetry.StartCacheSpan(ctx, "get", snapshotKey(userID))
	defer span.End()

	data, err := c.client.Get(ctx, snapshotKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSnapshotMiss
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("snapshot cache get: %w", err)
	}

	var snapshot risk.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		// A corrupt entry behaves like a miss so callers fall back
		// to the database.
		c.logger.Warn("dropping corrupt snapshot cache entry",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		c.client.Del(ctx, snapshotKey(userID))
		return nil, ErrSnapshotMiss
	}
	return &snapshot, nil
}

// Put stores the snapshot under the configured TTL.
func (c *SnapshotCache) Put(ctx context.Context, snapshot *risk.Snapshot) error {
	ctx, span := telemetry.StartCacheSpan(ctx, "set", snapshotKey(snapshot.UserID))
	defer span.End()

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}

	if err := c.client.Set(ctx, snapshotKey(snapshot.UserID), data, c.ttl).Err(); err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("snapshot cache set: %w", err)
	}
	return nil
}

// Invalidate drops the user's cached snapshot.
func (c *SnapshotCache) Invalidate(ctx context.Context, userID uuid.UUID) error {
	ctx, span := telemetry.StartCacheSpan(ctx, "del", snapshotKey(userID))
	defer span.End()

	if err := c.client.Del(ctx, snapshotKey(userID)).Err(); err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("snapshot cache delete: %w", err)
	}
	return nil
}

// Client exposes the underlying Redis client so collaborators sharing
// the connection (the alert feed) do not dial twice.
func (c *SnapshotCache) Client() *redis.Client {
	return c.client
}

// Close closes the underlying Redis connection.
func (c *SnapshotCache) Close() error {
	return c.client.Close()
}
