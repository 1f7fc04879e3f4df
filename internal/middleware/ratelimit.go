package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimitConfig defines the rate limiting configuration.
type RateLimitConfig struct {
	// RequestsPerWindow is the maximum number of requests allowed per window.
	RequestsPerWindow int
	// WindowDuration is the time window for the rate limit.
	WindowDuration time.Duration
}

// Validate checks that the RateLimitConfig has valid values.
func (c RateLimitConfig) Validate() error {
	if c.RequestsPerWindow <= 0 {
		return fmt.Errorf("RequestsPerWindow must be > 0 (got %d)", c.RequestsPerWindow)
	}
	if c.WindowDuration <= 0 {
		return fmt.Errorf("WindowDuration must be > 0 (got %s)", c.WindowDuration)
	}
	return nil
}

// DefaultCheckoutLimit is 20 checkout attempts per client per minute.
func DefaultCheckoutLimit() RateLimitConfig {
	return RateLimitConfig{RequestsPerWindow: 20, WindowDuration: time.Minute}
}

// RateLimitStore defines the interface for rate limit state storage.
type RateLimitStore interface {
	// Allow records one request for key. remaining is the number of requests
	// left in the window; retryAfter is the number of seconds until the
	// window resets and is only meaningful when allowed is false.
	Allow(ctx context.Context, key string, config RateLimitConfig) (allowed bool, remaining int, retryAfter int)
}

// bucket represents a rate limit bucket for a single key.
type bucket struct {
	count     int
	windowEnd time.Time
}

// DefaultMaxBuckets bounds the in-memory store.
const DefaultMaxBuckets = 10000

// InMemoryRateLimitStore implements RateLimitStore using a fixed window
// counter per key. When the store is full, expired buckets are swept and, if
// none expired, the new key is admitted without tracking.
type InMemoryRateLimitStore struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	maxBuckets int
	now        func() time.Time
}

// NewInMemoryRateLimitStore creates a new in-memory rate limit store.
func NewInMemoryRateLimitStore(maxBuckets int) *InMemoryRateLimitStore {
	if maxBuckets <= 0 {
		maxBuckets = DefaultMaxBuckets
	}
	return &InMemoryRateLimitStore{
		buckets:    make(map[string]*bucket),
		maxBuckets: maxBuckets,
		now:        time.Now,
	}
}

// Allow implements RateLimitStore.
func (s *InMemoryRateLimitStore) Allow(ctx context.Context, key string, config RateLimitConfig) (bool, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	b, exists := s.buckets[key]
	if !exists || !now.Before(b.windowEnd) {
		if !exists && len(s.buckets) >= s.maxBuckets {
			s.cleanupLocked(now)
			if len(s.buckets) >= s.maxBuckets {
				return true, config.RequestsPerWindow - 1, 0
			}
		}
		s.buckets[key] = &bucket{count: 1, windowEnd: now.Add(config.WindowDuration)}
		return true, config.RequestsPerWindow - 1, 0
	}

	if b.count < config.RequestsPerWindow {
		b.count++
		return true, config.RequestsPerWindow - b.count, 0
	}

	retryAfter := int(b.windowEnd.Sub(now).Seconds())
	if retryAfter <= 0 {
		retryAfter = 1
	}
	return false, 0, retryAfter
}

// Cleanup removes expired buckets.
func (s *InMemoryRateLimitStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanupLocked(s.now())
}

// Len returns the number of tracked keys.
func (s *InMemoryRateLimitStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// RunCleanup sweeps expired buckets every interval until ctx is done.
func (s *InMemoryRateLimitStore) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Cleanup()
		case <-ctx.Done():
			return
		}
	}
}

func (s *InMemoryRateLimitStore) cleanupLocked(now time.Time) int {
	removed := 0
	for key, b := range s.buckets {
		if !now.Before(b.windowEnd) {
			delete(s.buckets, key)
			removed++
		}
	}
	return removed
}

// RedisRateLimitStore implements RateLimitStore with a fixed window counter
// in Redis, shared across instances. Redis failures fail open.
type RedisRateLimitStore struct {
	client  redis.UniversalClient
	prefix  string
	metrics *Metrics
}

// NewRedisRateLimitStore creates a Redis-backed rate limit store.
func NewRedisRateLimitStore(client redis.UniversalClient) *RedisRateLimitStore {
	return &RedisRateLimitStore{client: client, prefix: "payments:ratelimit:"}
}

// SetMetrics attaches metrics for fail-open events.
func (s *RedisRateLimitStore) SetMetrics(m *Metrics) { s.metrics = m }

// Allow implements RateLimitStore.
func (s *RedisRateLimitStore) Allow(ctx context.Context, key string, config RateLimitConfig) (bool, int, int) {
	window := int64(config.WindowDuration / time.Second)
	if window <= 0 {
		window = 1
	}
	slot := time.Now().Unix() / window
	redisKey := s.prefix + key + ":" + strconv.FormatInt(slot, 10)

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, config.WindowDuration)
	if _, err := pipe.Exec(ctx); err != nil {
		s.metrics.IncRateLimitRedisErrors()
		return true, config.RequestsPerWindow, 0
	}

	count := int(incr.Val())
	if count <= config.RequestsPerWindow {
		return true, config.RequestsPerWindow - count, 0
	}

	retryAfter := int((slot+1)*window - time.Now().Unix())
	if retryAfter <= 0 {
		retryAfter = 1
	}
	return false, 0, retryAfter
}

// KeyFunc extracts a rate limit key from an HTTP request.
type KeyFunc func(r *http.Request) string

// IPKeyFunc returns a KeyFunc that uses the client's IP address.
func IPKeyFunc() KeyFunc {
	return func(r *http.Request) string {
		// First hop of X-Forwarded-For, as set by the fronting proxy.
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if idx := strings.Index(xff, ","); idx != -1 {
				return strings.TrimSpace(xff[:idx])
			}
			return strings.TrimSpace(xff)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return r.RemoteAddr
		}
		return host
	}
}

// RateLimiter is a middleware that limits request rates per key. It returns
// HTTP 429 with Retry-After when the limit is exceeded. endpoint labels the
// metrics.
func RateLimiter(store RateLimitStore, config RateLimitConfig, keyFunc KeyFunc, metrics *Metrics, endpoint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := endpoint + ":" + keyFunc(r)
			allowed, remaining, retryAfter := store.Allow(r.Context(), key, config)
			metrics.IncRateLimitRequests(endpoint, "ip")

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(config.RequestsPerWindow))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			if !allowed {
				metrics.IncRateLimitBlocked(endpoint, "ip")
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				resetTime := time.Now().Add(time.Duration(retryAfter) * time.Second).Unix()
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime, 10))
				writeError(w, r.Context(), http.StatusTooManyRequests, "rate_limited", "too many requests, try again later")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
