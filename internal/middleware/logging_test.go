package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func decodeLogLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry %q: %v", buf.String(), err)
	}
	return entry
}

func TestLogging_Fields(t *testing.T) {
	var buf bytes.Buffer
	handler := RequestID(Logging(newTestLogger(&buf))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte("hello"))
		}),
	))

	req := httptest.NewRequest(http.MethodPost, "/api/checkout/create-session", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := decodeLogLine(t, &buf)
	if entry["level"] != "INFO" {
		t.Errorf("level = %v, want INFO", entry["level"])
	}
	if entry["method"] != "POST" || entry["path"] != "/api/checkout/create-session" {
		t.Errorf("method/path = %v %v", entry["method"], entry["path"])
	}
	if entry["status"] != float64(http.StatusCreated) {
		t.Errorf("status = %v, want 201", entry["status"])
	}
	if entry["size"] != float64(5) {
		t.Errorf("size = %v, want 5", entry["size"])
	}
	if entry["request_id"] != "req-123" {
		t.Errorf("request_id = %v, want req-123", entry["request_id"])
	}
	if _, ok := entry["latency_ms"]; !ok {
		t.Error("latency_ms missing")
	}
}

func TestLogging_ErrorCodeFromHandlerContext(t *testing.T) {
	var buf bytes.Buffer
	handler := Logging(newTestLogger(&buf))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := SetTenant(r.Context(), "oversvamningsskydd")
			writeError(w, ctx, http.StatusBadRequest, "validation_error", "bad input")
		}),
	)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/payments/refund", nil))

	entry := decodeLogLine(t, &buf)
	if entry["level"] != "WARN" {
		t.Errorf("level = %v, want WARN", entry["level"])
	}
	if entry["error_code"] != "validation_error" {
		t.Errorf("error_code = %v, want validation_error", entry["error_code"])
	}
	if entry["tenant"] != "oversvamningsskydd" {
		t.Errorf("tenant = %v", entry["tenant"])
	}
}

func TestLogging_ServerErrorLevel(t *testing.T) {
	var buf bytes.Buffer
	handler := Logging(newTestLogger(&buf))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}),
	)
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/payouts", nil))

	if entry := decodeLogLine(t, &buf); entry["level"] != "ERROR" {
		t.Errorf("level = %v, want ERROR", entry["level"])
	}
}

func TestUpdateResponseContext_ThroughWrappers(t *testing.T) {
	var buf bytes.Buffer
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r.Context(), http.StatusTooManyRequests, "rate_limited", "slow down")
	})
	// The metrics writer sits between Logging and the handler.
	handler := Logging(newTestLogger(&buf))(HTTPMetrics(nil)(inner))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/checkout/create-session", nil))

	if entry := decodeLogLine(t, &buf); entry["error_code"] != "rate_limited" {
		t.Errorf("error_code = %v, want rate_limited", entry["error_code"])
	}
}

func TestNewLogger(t *testing.T) {
	for _, env := range []string{"production", "development", ""} {
		if NewLogger(env) == nil {
			t.Errorf("NewLogger(%q) returned nil", env)
		}
	}
}
