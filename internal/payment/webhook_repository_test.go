package payment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vattentrygg/payments/internal/cooldown"
)

func testWebhookRepository(t *testing.T, repo WebhookRepository) {
	t.Helper()
	ctx := context.Background()
	id := "evt_" + uuid.NewString()

	seen, err := repo.HasProcessed(ctx, id)
	if err != nil {
		t.Fatalf("HasProcessed() error = %v", err)
	}
	if seen {
		t.Fatal("HasProcessed() = true before MarkProcessed")
	}

	if err := repo.MarkProcessed(ctx, id, EventTypeCheckoutCompleted); err != nil {
		t.Fatalf("MarkProcessed() error = %v", err)
	}

	seen, err = repo.HasProcessed(ctx, id)
	if err != nil {
		t.Fatalf("HasProcessed() error = %v", err)
	}
	if !seen {
		t.Error("HasProcessed() = false after MarkProcessed")
	}
}

func TestCacheWebhookRepository(t *testing.T) {
	testWebhookRepository(t, NewCacheWebhookRepository(cooldown.New(time.Hour, 100)))
}

func TestRedisWebhookRepository(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	testWebhookRepository(t, NewRedisWebhookRepository(client, time.Minute))
}

func TestNewRedisWebhookRepository_DefaultTTL(t *testing.T) {
	repo := NewRedisWebhookRepository(nil, 0)
	if repo.ttl != DefaultWebhookEventTTL {
		t.Errorf("ttl = %v, want %v", repo.ttl, DefaultWebhookEventTTL)
	}
}
