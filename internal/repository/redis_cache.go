package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nusawave/prepaidnet/internal/domain"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	usageSnapshotKeyPrefix = "usage:snapshot:"
	sweepSummaryKeyPrefix  = "scheduler:summary:"
)

// RedisCacheRepository caches read models in Redis: per-subscription usage
// snapshots (short TTL, invalidated on every ingest) and the last sweep
// summaries for operational visibility.
type RedisCacheRepository struct {
	client *redis.Client
}

// NewRedisCacheRepository creates a new Redis cache repository
func NewRedisCacheRepository(client *redis.Client) *RedisCacheRepository {
	return &RedisCacheRepository{
		client: client,
	}
}

// SetUsageSnapshot caches the usage snapshot for a subscription with TTL
func (r *RedisCacheRepository) SetUsageSnapshot(ctx context.Context, snapshot *domain.UsageSnapshot, ttl time.Duration) error {
	ctx, span := otel.Tracer("prepaidnet-cache").Start(ctx, "cache.SetUsageSnapshot")
	defer span.End()
	span.SetAttributes(attribute.String("subscription.id", snapshot.SubscriptionID))

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	key := usageSnapshotKeyPrefix + snapshot.SubscriptionID
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache usage snapshot: %w", err)
	}
	return nil
}

// GetUsageSnapshot retrieves the cached snapshot, domain.ErrNotFound on miss
func (r *RedisCacheRepository) GetUsageSnapshot(ctx context.Context, subscriptionID string) (*domain.UsageSnapshot, error) {
	ctx, span := otel.Tracer("prepaidnet-cache").Start(ctx, "cache.GetUsageSnapshot")
	defer span.End()

	data, err := r.client.Get(ctx, usageSnapshotKeyPrefix+subscriptionID).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached snapshot: %w", err)
	}

	var snapshot domain.UsageSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snapshot, nil
}

// InvalidateUsageSnapshot drops the cached snapshot after an ingest
func (r *RedisCacheRepository) InvalidateUsageSnapshot(ctx context.Context, subscriptionID string) error {
	return r.client.Del(ctx, usageSnapshotKeyPrefix+subscriptionID).Err()
}

// SetSweepSummary stores the latest summary for a named sweep
func (r *RedisCacheRepository) SetSweepSummary(ctx context.Context, sweep string, summary any) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal sweep summary: %w", err)
	}
	// Kept for a day so dashboards survive scheduler restarts.
	return r.client.Set(ctx, sweepSummaryKeyPrefix+sweep, data, 24*time.Hour).Err()
}

// GetSweepSummary reads the latest summary for a named sweep into out
func (r *RedisCacheRepository) GetSweepSummary(ctx context.Context, sweep string, out any) error {
	data, err := r.client.Get(ctx, sweepSummaryKeyPrefix+sweep).Bytes()
	if err == redis.Nil {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get sweep summary: %w", err)
	}
	return json.Unmarshal(data, out)
}
