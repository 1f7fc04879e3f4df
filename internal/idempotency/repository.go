package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// InMemoryRepository implements Repository with in-memory storage.
type InMemoryRepository struct {
	mu   sync.RWMutex
	keys map[string]*IdempotencyKey
	now  func() time.Time
}

// NewInMemoryRepository creates a new in-memory idempotency key repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		keys: make(map[string]*IdempotencyKey),
		now:  time.Now,
	}
}

// Get retrieves an idempotency key by its key value.
func (r *InMemoryRepository) Get(ctx context.Context, key string) (*IdempotencyKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.keys[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return copyRecord(record), nil
}

// Store saves a new idempotency key.
func (r *InMemoryRepository) Store(ctx context.Context, record *IdempotencyKey) error {
	if err := ValidateKey(record.Key); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.keys[record.Key]; exists {
		return ErrKeyExists
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = r.now()
	}
	r.keys[record.Key] = copyRecord(record)
	return nil
}

// DeleteOlderThan removes idempotency keys older than the specified duration.
func (r *InMemoryRepository) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-age)
	var deleted int64
	for key, record := range r.keys {
		if record.CreatedAt.Before(cutoff) {
			delete(r.keys, key)
			deleted++
		}
	}
	return deleted, nil
}

// Len returns the number of stored keys.
func (r *InMemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.keys)
}

func copyRecord(record *IdempotencyKey) *IdempotencyKey {
	if record == nil {
		return nil
	}
	copied := *record
	if record.SessionID != nil {
		id := *record.SessionID
		copied.SessionID = &id
	}
	return &copied
}

// RedisRepository shares idempotency keys across instances. Keys expire
// through Redis TTLs, so DeleteOlderThan is a no-op.
type RedisRepository struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisRepository creates a Redis-backed repository. ttl defaults to
// DefaultExpiry.
func NewRedisRepository(client redis.UniversalClient, ttl time.Duration) *RedisRepository {
	if ttl <= 0 {
		ttl = DefaultExpiry
	}
	return &RedisRepository{client: client, prefix: "payments:idempotency:", ttl: ttl}
}

// Get retrieves an idempotency key by its key value.
func (r *RedisRepository) Get(ctx context.Context, key string) (*IdempotencyKey, error) {
	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency key: %w", err)
	}
	var record IdempotencyKey
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("decode idempotency key: %w", err)
	}
	return &record, nil
}

// Store saves a new idempotency key with SET NX.
func (r *RedisRepository) Store(ctx context.Context, record *IdempotencyKey) error {
	if err := ValidateKey(record.Key); err != nil {
		return err
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode idempotency key: %w", err)
	}
	ok, err := r.client.SetNX(ctx, r.prefix+record.Key, raw, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("store idempotency key: %w", err)
	}
	if !ok {
		return ErrKeyExists
	}
	return nil
}

// DeleteOlderThan is a no-op; Redis expires keys on its own.
func (r *RedisRepository) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	return 0, nil
}
