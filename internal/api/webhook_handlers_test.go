package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stripe/stripe-go/v81"

	"github.com/vattentrygg/payments/internal/cooldown"
	"github.com/vattentrygg/payments/internal/payment"
	"github.com/vattentrygg/payments/internal/payment/paymenttest"
)

const testWebhookSecret = "whsec_test_secret"

// generateStripeSignature generates a valid Stripe webhook signature for testing.
func generateStripeSignature(payload []byte, secret string, timestamp int64) string {
	// Stripe signature format: t=timestamp,v1=signature
	signedPayload := fmt.Sprintf("%d.%s", timestamp, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func eventPayload(t *testing.T, id, eventType, objectID string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"api_version": "2020-08-27",
		"created":     time.Now().Unix(),
		"data": map[string]any{
			"object": map[string]any{"id": objectID},
		},
	})
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}
	return body
}

func signedRequest(body []byte) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewReader(body))
	req.Header.Set(StripeSignatureHeader, generateStripeSignature(body, testWebhookSecret, time.Now().Unix()))
	return req
}

type webhookFixture struct {
	handlers *WebhookHandlers
	gateway  *paymenttest.FakeGateway
	store    *payment.InMemoryStore
	registry *prometheus.Registry
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	gw := paymenttest.NewFakeGateway()
	store := payment.NewInMemoryStore()
	metrics := payment.NewMetrics()
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		t.Fatalf("failed to register metrics: %v", err)
	}
	reconciler := payment.NewReconciler(gw, store, nil, payment.WithReconcileMetrics(metrics))
	repo := payment.NewCacheWebhookRepository(cooldown.New(time.Hour, 100))
	return &webhookFixture{
		handlers: NewWebhookHandlers(testWebhookSecret, payment.NewDispatcher(reconciler, nil), repo, metrics, nil),
		gateway:  gw,
		store:    store,
		registry: reg,
	}
}

func (f *webhookFixture) serve(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.handlers.HandleStripeWebhook(w, req)
	return w
}

func assertReceived(t *testing.T, w *httptest.ResponseRecorder) {
	t.Helper()
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if strings.TrimSpace(w.Body.String()) != `{"received":true}` {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}

func TestHandleStripeWebhook_InvalidSignature(t *testing.T) {
	f := newWebhookFixture(t)
	f.gateway.AddSession(paymenttest.Completed("cs_test_1", 49900).Build())

	body := eventPayload(t, "evt_1", payment.EventTypeCheckoutCompleted, "cs_test_1")
	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewReader(body))
	req.Header.Set(StripeSignatureHeader, "t=1234567890,v1=invalidsignature")

	w := f.serve(req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeError(t, w)
	if resp.Code != ErrCodeSignature || resp.Message != "signature verification failed" {
		t.Errorf("unexpected error response: %+v", resp)
	}
	if f.store.Len() != 0 {
		t.Error("expected no record for a rejected event")
	}
	if f.gateway.GetCalls != 0 {
		t.Error("expected no gateway call for a rejected event")
	}
}

func TestHandleStripeWebhook_WrongSecret(t *testing.T) {
	f := newWebhookFixture(t)

	body := eventPayload(t, "evt_1", payment.EventTypeCheckoutCompleted, "cs_test_1")
	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewReader(body))
	req.Header.Set(StripeSignatureHeader, generateStripeSignature(body, "whsec_other", time.Now().Unix()))

	if w := f.serve(req); w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestHandleStripeWebhook_MissingSignature(t *testing.T) {
	f := newWebhookFixture(t)

	body := eventPayload(t, "evt_1", payment.EventTypeCheckoutCompleted, "cs_test_1")
	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewReader(body))

	w := f.serve(req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestHandleStripeWebhook_SecretNotConfigured(t *testing.T) {
	h := NewWebhookHandlers("", nil, nil, nil, nil)

	body := eventPayload(t, "evt_1", payment.EventTypeCheckoutCompleted, "cs_test_1")
	w := httptest.NewRecorder()
	h.HandleStripeWebhook(w, signedRequest(body))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", w.Code)
	}
}

func TestHandleStripeWebhook_BodyTooLarge(t *testing.T) {
	f := newWebhookFixture(t)

	body := bytes.Repeat([]byte("a"), MaxWebhookBodyBytes+1)
	w := f.serve(signedRequest(body))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected status 413, got %d", w.Code)
	}
}

func TestHandleStripeWebhook_CheckoutCompleted(t *testing.T) {
	f := newWebhookFixture(t)
	f.gateway.AddSession(paymenttest.Completed("cs_test_1", 49900).Build())

	w := f.serve(signedRequest(eventPayload(t, "evt_1", payment.EventTypeCheckoutCompleted, "cs_test_1")))
	assertReceived(t, w)

	rec, err := f.store.GetBySessionID(context.Background(), "cs_test_1")
	if err != nil {
		t.Fatalf("expected record, got %v", err)
	}
	if rec.Status != payment.StatusComplete || rec.AmountTotal != 49900 {
		t.Errorf("unexpected record: status=%s amount=%d", rec.Status, rec.AmountTotal)
	}
	if rec.PaymentMethod == nil || rec.PaymentMethod.Last4 != "4242" {
		t.Errorf("expected payment method from the expanded charge, got %+v", rec.PaymentMethod)
	}
}

func TestHandleStripeWebhook_PaymentIntentSucceeded(t *testing.T) {
	f := newWebhookFixture(t)
	f.gateway.AddSession(paymenttest.Completed("cs_test_1", 49900).Build())

	w := f.serve(signedRequest(eventPayload(t, "evt_2", payment.EventTypePaymentIntentSucceeded, "pi_cs_test_1")))
	assertReceived(t, w)

	if _, err := f.store.GetBySessionID(context.Background(), "cs_test_1"); err != nil {
		t.Errorf("expected record reconciled via payment intent, got %v", err)
	}
}

func TestHandleStripeWebhook_DuplicateEventNotRedispatched(t *testing.T) {
	f := newWebhookFixture(t)
	f.gateway.AddSession(paymenttest.Completed("cs_test_1", 49900).Build())

	body := eventPayload(t, "evt_dup", payment.EventTypeCheckoutCompleted, "cs_test_1")
	assertReceived(t, f.serve(signedRequest(body)))
	assertReceived(t, f.serve(signedRequest(body)))

	if f.gateway.GetCalls != 1 {
		t.Errorf("expected 1 gateway fetch for a replayed event, got %d", f.gateway.GetCalls)
	}
}

func TestHandleStripeWebhook_FailedEventRetried(t *testing.T) {
	f := newWebhookFixture(t)
	f.gateway.AddSession(paymenttest.Completed("cs_test_1", 49900).Build())
	f.gateway.GetErr = &payment.GatewayError{Op: "retrieve checkout session", StatusCode: 503, Message: "unavailable"}

	body := eventPayload(t, "evt_retry", payment.EventTypeCheckoutCompleted, "cs_test_1")
	assertReceived(t, f.serve(signedRequest(body)))

	if n, err := testutil.GatherAndCount(f.registry, payment.MetricReconciliationFailures); err != nil || n != 1 {
		t.Errorf("expected 1 reconciliation failure series, got %d (%v)", n, err)
	}
	if f.store.Len() != 0 {
		t.Error("expected no record after a failed fetch")
	}

	// A failed event is not marked processed, so the redelivery reconciles.
	f.gateway.GetErr = nil
	assertReceived(t, f.serve(signedRequest(body)))
	if f.store.Len() != 1 {
		t.Errorf("expected record after redelivery, got %d", f.store.Len())
	}
}

func TestHandleStripeWebhook_StoreOutageRepairedByRedelivery(t *testing.T) {
	gw := paymenttest.NewFakeGateway()
	gw.AddSession(paymenttest.Completed("cs_test_1", 49900).Build())
	store := paymenttest.NewStore()
	store.UpsertErr = errors.New("connection refused")
	metrics := payment.NewMetrics()
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		t.Fatalf("failed to register metrics: %v", err)
	}
	reconciler := payment.NewReconciler(gw, store, nil, payment.WithReconcileMetrics(metrics))
	repo := payment.NewCacheWebhookRepository(cooldown.New(time.Hour, 100))
	h := NewWebhookHandlers(testWebhookSecret, payment.NewDispatcher(reconciler, nil), repo, metrics, nil)

	serve := func(body []byte) {
		t.Helper()
		w := httptest.NewRecorder()
		h.HandleStripeWebhook(w, signedRequest(body))
		assertReceived(t, w)
	}

	body := eventPayload(t, "evt_outage", payment.EventTypeCheckoutCompleted, "cs_test_1")
	serve(body)

	seen, err := repo.HasProcessed(context.Background(), "evt_outage")
	if err != nil || seen {
		t.Fatalf("HasProcessed() = %v, %v; want event left open after store outage", seen, err)
	}
	if n, err := testutil.GatherAndCount(reg, payment.MetricReconciliationFailures); err != nil || n != 1 {
		t.Errorf("expected 1 reconciliation failure series, got %d (%v)", n, err)
	}

	store.UpsertErr = nil
	serve(body)

	rec, err := store.GetBySessionID(context.Background(), "cs_test_1")
	if err != nil {
		t.Fatalf("redelivery did not repair record: %v (gateway fetches=%d)", err, gw.GetCalls)
	}
	if rec.Status != payment.StatusComplete {
		t.Errorf("status = %s, want complete", rec.Status)
	}
	if gw.GetCalls != 2 {
		t.Errorf("gateway fetches = %d, want 2", gw.GetCalls)
	}

	// Once persisted, the event is marked and further resends are ignored.
	serve(body)
	if gw.GetCalls != 2 {
		t.Errorf("gateway fetches after third delivery = %d, want 2", gw.GetCalls)
	}
}

func TestHandleStripeWebhook_IgnoredEventType(t *testing.T) {
	f := newWebhookFixture(t)

	w := f.serve(signedRequest(eventPayload(t, "evt_3", "customer.created", "cus_1")))
	assertReceived(t, w)
	if f.gateway.GetCalls != 0 {
		t.Error("expected ignored event to make no gateway call")
	}
}

func TestHandleStripeWebhook_OutOfOrderConvergence(t *testing.T) {
	build := func(order []string) *payment.Record {
		f := newWebhookFixture(t)
		f.gateway.AddSession(paymenttest.Completed("cs_test_1", 49900).Build())
		objects := map[string]string{
			payment.EventTypePaymentIntentSucceeded: "pi_cs_test_1",
			payment.EventTypeCheckoutCompleted:      "cs_test_1",
		}
		for i, eventType := range order {
			assertReceived(t, f.serve(signedRequest(eventPayload(t, fmt.Sprintf("evt_%d", i), eventType, objects[eventType]))))
		}
		rec, err := f.store.GetBySessionID(context.Background(), "cs_test_1")
		if err != nil {
			t.Fatalf("expected record, got %v", err)
		}
		return rec
	}

	a := build([]string{payment.EventTypePaymentIntentSucceeded, payment.EventTypeCheckoutCompleted})
	b := build([]string{payment.EventTypeCheckoutCompleted, payment.EventTypePaymentIntentSucceeded})

	a.InsertedAt, a.UpdatedAt = time.Time{}, time.Time{}
	b.InsertedAt, b.UpdatedAt = time.Time{}, time.Time{}
	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	if !bytes.Equal(ja, jb) {
		t.Errorf("records diverge:\n%s\n%s", ja, jb)
	}
}

type panickingDispatcher struct{}

func (panickingDispatcher) Dispatch(ctx context.Context, event stripe.Event) (bool, error) {
	panic("nil map write")
}

type failingDispatcher struct{ calls int }

func (d *failingDispatcher) Dispatch(ctx context.Context, event stripe.Event) (bool, error) {
	d.calls++
	return true, errors.New("store exploded")
}

func TestHandleStripeWebhook_PanicStillAcknowledged(t *testing.T) {
	metrics := payment.NewMetrics()
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		t.Fatalf("failed to register metrics: %v", err)
	}
	h := NewWebhookHandlers(testWebhookSecret, panickingDispatcher{}, nil, metrics, nil)

	w := httptest.NewRecorder()
	h.HandleStripeWebhook(w, signedRequest(eventPayload(t, "evt_p", payment.EventTypeCheckoutCompleted, "cs_test_1")))
	assertReceived(t, w)

	if n, err := testutil.GatherAndCount(reg, payment.MetricReconciliationFailures); err != nil || n != 1 {
		t.Errorf("expected 1 reconciliation failure series, got %d (%v)", n, err)
	}
}

func TestHandleStripeWebhook_DispatchErrorNotMarked(t *testing.T) {
	repo := payment.NewCacheWebhookRepository(cooldown.New(time.Hour, 100))
	d := &failingDispatcher{}
	h := NewWebhookHandlers(testWebhookSecret, d, repo, nil, nil)

	body := eventPayload(t, "evt_f", payment.EventTypeCheckoutCompleted, "cs_test_1")
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		h.HandleStripeWebhook(w, signedRequest(body))
		assertReceived(t, w)
	}

	if d.calls != 2 {
		t.Errorf("expected the failed event to be dispatched again, got %d calls", d.calls)
	}
	if seen, _ := repo.HasProcessed(context.Background(), "evt_f"); seen {
		t.Error("expected failed event to stay unmarked")
	}
}
