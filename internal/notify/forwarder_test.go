package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vattentrygg/payments/internal/jobs"
	"github.com/vattentrygg/payments/internal/payment"
)

func TestForwarder_Publish(t *testing.T) {
	var (
		mu       sync.Mutex
		received []payment.Event
		auth     string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var e payment.Event
		if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
			t.Errorf("decode: %v", err)
		}
		mu.Lock()
		received = append(received, e)
		auth = r.Header.Get("X-Internal-Auth")
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	f := New(srv.URL, "s3cret", time.Second, nil)
	f.Publish(payment.Event{Type: payment.EventRefundIssued, SessionID: "cs_test_1", Amount: 500})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("received %d events, want 1", len(received))
	}
	if received[0].SessionID != "cs_test_1" || received[0].Amount != 500 {
		t.Errorf("event = %+v", received[0])
	}
	if auth != "s3cret" {
		t.Errorf("X-Internal-Auth = %q, want s3cret", auth)
	}
}

func TestForwarder_TargetFailureIsSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := New(srv.URL, "", time.Second, nil)
	f.Publish(payment.Event{Type: payment.EventCheckoutCompleted, SessionID: "cs_test_2"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

func TestForwarder_Disabled(t *testing.T) {
	f := New("", "", 0, nil)
	if f.Enabled() {
		t.Error("Enabled() = true for empty URL")
	}
	f.Publish(payment.Event{Type: payment.EventCheckoutCompleted})
	if err := f.Wait(context.Background()); err != nil {
		t.Errorf("Wait() error = %v", err)
	}
	if f.timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want %v", f.timeout, DefaultTimeout)
	}
}

func TestForwarder_RecordsDeliveryMetrics(t *testing.T) {
	var fail bool
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	m := jobs.NewMetrics()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	f := New(srv.URL, "", time.Second, nil)
	f.SetMetrics(m)

	wait := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := f.Wait(ctx); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}

	f.Publish(payment.Event{Type: payment.EventCheckoutCompleted, SessionID: "cs_test_ok"})
	wait()

	mu.Lock()
	fail = true
	mu.Unlock()
	f.Publish(payment.Event{Type: payment.EventRefundIssued, SessionID: "cs_test_bad"})
	wait()

	if n, err := testutil.GatherAndCount(reg, jobs.MetricBackgroundJobsTotal); err != nil || n != 2 {
		t.Errorf("%s series = %d (err %v), want 2", jobs.MetricBackgroundJobsTotal, n, err)
	}
	if n, err := testutil.GatherAndCount(reg, jobs.MetricBackgroundJobErrorsTotal); err != nil || n != 1 {
		t.Errorf("%s series = %d (err %v), want 1", jobs.MetricBackgroundJobErrorsTotal, n, err)
	}
}

func TestDeliveryErrorType(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"status", fmt.Errorf("%w: status 500", errTargetStatus), "status"},
		{"timeout", fmt.Errorf("failed to reach event target: %w", context.DeadlineExceeded), "timeout"},
		{"transport", errors.New("connection refused"), "transport"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := deliveryErrorType(tt.err); got != tt.want {
				t.Errorf("deliveryErrorType() = %q, want %q", got, tt.want)
			}
		})
	}
}
