package middleware

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/vattentrygg/payments/internal/idempotency"
)

// IdempotencyKeyHeader is the HTTP header name for idempotency keys.
const IdempotencyKeyHeader = "Idempotency-Key"

// IdempotentReplayHeader marks a response served from the idempotency store.
const IdempotentReplayHeader = "Idempotent-Replayed"

// idempotencyKeyContextKey is the context key for storing the idempotency key.
type idempotencyKeyContextKey struct{}

// idempotencyResponseWriter captures the response for storage.
type idempotencyResponseWriter struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
	written    bool
}

func newIdempotencyResponseWriter(w http.ResponseWriter) *idempotencyResponseWriter {
	return &idempotencyResponseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
		body:           &bytes.Buffer{},
	}
}

// WriteHeader captures the status code.
func (w *idempotencyResponseWriter) WriteHeader(statusCode int) {
	if !w.written {
		w.statusCode = statusCode
		w.written = true
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

// Write captures the response body.
func (w *idempotencyResponseWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.body.Write(b[:n])
	return n, err
}

// Unwrap exposes the underlying writer.
func (w *idempotencyResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// SetIdempotencyKey stores the idempotency key in the context.
func SetIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKeyContextKey{}, key)
}

// GetIdempotencyKey retrieves the idempotency key from context. Returns empty string if not present.
func GetIdempotencyKey(ctx context.Context) string {
	if key, ok := ctx.Value(idempotencyKeyContextKey{}).(string); ok {
		return key
	}
	return ""
}

// Idempotency replays stored responses for POST requests that carry an
// Idempotency-Key header. The header is optional: requests without it pass
// through, and handlers may synthesize their own key. Only 2xx responses are
// stored. Keys are scoped by route.
func Idempotency(repo idempotency.Repository, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get(IdempotencyKeyHeader)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			if err := idempotency.ValidateKey(key); err != nil {
				code, message := "invalid_idempotency_key", "Idempotency-Key must be printable ASCII without spaces"
				if errors.Is(err, idempotency.ErrKeyTooLong) {
					code = "idempotency_key_too_long"
					message = "Idempotency-Key exceeds maximum length of 64 characters"
				}
				writeError(w, r.Context(), http.StatusBadRequest, code, message)
				return
			}

			ctx := SetIdempotencyKey(r.Context(), key)
			r = r.WithContext(ctx)
			storeKey := r.URL.Path + ":" + key

			existing, err := repo.Get(ctx, storeKey)
			switch {
			case err == nil:
				slog.InfoContext(ctx, "idempotency key found, returning cached response",
					"key", key,
					"status", existing.ResponseStatusCode)
				metrics.IncIdempotentReplay(normalizePath(r.URL.Path))
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set(IdempotentReplayHeader, "true")
				w.WriteHeader(existing.ResponseStatusCode)
				_, _ = w.Write([]byte(existing.ResponseBody))
				return
			case !errors.Is(err, idempotency.ErrKeyNotFound):
				slog.ErrorContext(ctx, "failed to check idempotency key", "key", key, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			capture := newIdempotencyResponseWriter(w)
			next.ServeHTTP(capture, r)

			if capture.statusCode < 200 || capture.statusCode >= 300 {
				return
			}
			body := capture.body.String()
			record := &idempotency.IdempotencyKey{
				Key:                storeKey,
				Method:             r.Method,
				Route:              r.URL.Path,
				ResponseHash:       idempotency.ComputeResponseHash(body),
				Status:             idempotency.StatusCompleted,
				ResponseBody:       body,
				ResponseStatusCode: capture.statusCode,
			}
			if err := repo.Store(ctx, record); err != nil && !errors.Is(err, idempotency.ErrKeyExists) {
				slog.ErrorContext(ctx, "failed to store idempotency key", "key", key, "error", err)
			}
		})
	}
}
