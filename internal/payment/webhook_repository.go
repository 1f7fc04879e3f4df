package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vattentrygg/payments/internal/cooldown"
	"github.com/vattentrygg/payments/internal/tracing"
)

// DefaultWebhookEventTTL is how long processed event IDs are remembered. The
// gateway retries failed deliveries for up to three days, but a processed
// event is only redelivered by hand.
const DefaultWebhookEventTTL = 24 * time.Hour

// WebhookRepository remembers processed webhook event IDs. Replays of a
// processed event are acknowledged without dispatch.
type WebhookRepository interface {
	HasProcessed(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID, eventType string) error
}

// CacheWebhookRepository keeps processed event IDs in a bounded in-process
// cache. Suitable for a single instance.
type CacheWebhookRepository struct {
	seen *cooldown.Cache
}

// NewCacheWebhookRepository creates a repository on the given cache.
func NewCacheWebhookRepository(seen *cooldown.Cache) *CacheWebhookRepository {
	return &CacheWebhookRepository{seen: seen}
}

// HasProcessed checks if an event has already been processed.
func (r *CacheWebhookRepository) HasProcessed(ctx context.Context, eventID string) (bool, error) {
	return r.seen.Seen(eventID), nil
}

// MarkProcessed records an event as processed.
func (r *CacheWebhookRepository) MarkProcessed(ctx context.Context, eventID, eventType string) error {
	r.seen.Mark(eventID)
	return nil
}

// RedisWebhookRepository shares processed event IDs across instances.
type RedisWebhookRepository struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisWebhookRepository creates a Redis-backed repository.
func NewRedisWebhookRepository(client redis.UniversalClient, ttl time.Duration) *RedisWebhookRepository {
	if ttl <= 0 {
		ttl = DefaultWebhookEventTTL
	}
	return &RedisWebhookRepository{client: client, prefix: "payments:webhook:event:", ttl: ttl}
}

// HasProcessed checks if an event has already been processed.
func (r *RedisWebhookRepository) HasProcessed(ctx context.Context, eventID string) (seen bool, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, tracing.DBSystemRedis, r.prefix, tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	n, err := r.client.Exists(ctx, r.prefix+eventID).Result()
	if err != nil {
		return false, fmt.Errorf("check webhook event %s: %w", eventID, err)
	}
	return n > 0, nil
}

// MarkProcessed records an event as processed.
func (r *RedisWebhookRepository) MarkProcessed(ctx context.Context, eventID, eventType string) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, tracing.DBSystemRedis, r.prefix, tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	if err = r.client.Set(ctx, r.prefix+eventID, eventType, r.ttl).Err(); err != nil {
		return fmt.Errorf("mark webhook event %s: %w", eventID, err)
	}
	return nil
}
