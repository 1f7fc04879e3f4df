package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vattentrygg/payments/internal/payment"
	"github.com/vattentrygg/payments/internal/payment/paymenttest"
)

type paymentFixture struct {
	handlers *PaymentHandlers
	gateway  *paymenttest.FakeGateway
	store    *paymenttest.Store
}

func newPaymentFixture(t *testing.T, hide bool) *paymentFixture {
	t.Helper()
	gw := paymenttest.NewFakeGateway()
	store := paymenttest.NewStore()
	refunder := payment.NewRefunder(gw, store, "oversvamningsskydd", nil)
	return &paymentFixture{
		handlers: NewPaymentHandlers(store, refunder, hide),
		gateway:  gw,
		store:    store,
	}
}

// reconcile stores a completed session the way the webhook path would.
func (f *paymentFixture) reconcile(t *testing.T, id string, amount int64) {
	t.Helper()
	f.gateway.AddSession(paymenttest.Completed(id, amount).Build())
	if _, err := payment.NewReconciler(f.gateway, f.store, nil).ReconcileSession(context.Background(), id); err != nil {
		t.Fatalf("reconcile %s: %v", id, err)
	}
}

func (f *paymentFixture) getPayment(sessionID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/payments/"+sessionID, nil)
	req.SetPathValue("sessionId", sessionID)
	w := httptest.NewRecorder()
	f.handlers.GetPayment(w, req)
	return w
}

func (f *paymentFixture) refund(body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/payments/refund", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.handlers.Refund(w, req)
	return w
}

func decodeRefund(t *testing.T, w *httptest.ResponseRecorder) RefundResponse {
	t.Helper()
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp RefundResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func TestGetPayment(t *testing.T) {
	f := newPaymentFixture(t, false)
	f.reconcile(t, "cs_test_1", 49900)

	w := f.getPayment("cs_test_1")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp PaymentResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Success || resp.Payment == nil {
		t.Fatalf("unexpected response: %s", w.Body.String())
	}
	if resp.Payment.SessionID != "cs_test_1" || resp.Payment.AmountTotal != 49900 {
		t.Errorf("unexpected record: %+v", resp.Payment)
	}
	if resp.Payment.Refunds == nil {
		t.Error("expected an empty refund ledger, not null")
	}
}

func TestGetPayment_NotFound(t *testing.T) {
	f := newPaymentFixture(t, false)

	w := f.getPayment("cs_missing")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
	if resp := decodeError(t, w); resp.Code != ErrCodeNotFound {
		t.Errorf("expected code %s, got %s", ErrCodeNotFound, resp.Code)
	}
}

func TestGetPayment_StoreError(t *testing.T) {
	f := newPaymentFixture(t, false)
	f.store.GetErr = errors.New("connection refused")

	w := f.getPayment("cs_test_1")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "connection refused") {
		t.Errorf("store error leaked: %s", w.Body.String())
	}
}

func TestRefund_FullDefaultAmount(t *testing.T) {
	f := newPaymentFixture(t, false)
	f.reconcile(t, "cs_test_1", 49900)

	resp := decodeRefund(t, f.refund(`{"sessionId":"cs_test_1","reason":"requested_by_customer"}`))

	if !resp.Success || !resp.Recorded {
		t.Errorf("expected success and recorded, got %+v", resp)
	}
	if resp.Refund.Amount != 49900 || resp.RefundedAmount != 49900 {
		t.Errorf("expected full refund of 49900, got refund=%d refunded=%d", resp.Refund.Amount, resp.RefundedAmount)
	}
	if resp.Status != payment.StatusRefunded {
		t.Errorf("expected status refunded, got %s", resp.Status)
	}
	if got := f.gateway.Refunds[0].ChargeID; got != "ch_cs_test_1" {
		t.Errorf("expected refund against ch_cs_test_1, got %s", got)
	}
	if got := f.gateway.Refunds[0].Metadata["source"]; got != "oversvamningsskydd" {
		t.Errorf("expected source marker, got %q", got)
	}
}

func TestRefund_PartialThenRest(t *testing.T) {
	f := newPaymentFixture(t, false)
	f.reconcile(t, "cs_test_1", 10000)

	first := decodeRefund(t, f.refund(`{"sessionId":"cs_test_1","amount":4000}`))
	if first.RefundedAmount != 4000 || first.Status != payment.StatusComplete {
		t.Errorf("after partial refund: refunded=%d status=%s", first.RefundedAmount, first.Status)
	}

	second := decodeRefund(t, f.refund(`{"sessionId":"cs_test_1","amount":6000}`))
	if second.RefundedAmount != 10000 || second.Status != payment.StatusRefunded {
		t.Errorf("after second refund: refunded=%d status=%s", second.RefundedAmount, second.Status)
	}

	rec, err := f.store.GetBySessionID(context.Background(), "cs_test_1")
	if err != nil {
		t.Fatalf("expected record: %v", err)
	}
	if len(rec.Refunds) != 2 {
		t.Errorf("expected 2 ledger entries, got %d", len(rec.Refunds))
	}
}

func TestRefund_LedgerWriteFails(t *testing.T) {
	f := newPaymentFixture(t, false)
	f.reconcile(t, "cs_test_1", 49900)
	f.store.AppendErr = errors.New("write concern timeout")

	resp := decodeRefund(t, f.refund(`{"sessionId":"cs_test_1"}`))
	if resp.Recorded {
		t.Error("expected recorded=false when the ledger write failed")
	}
	if resp.Refund.ID == "" {
		t.Error("expected the issued refund in the response")
	}
}

func TestRefund_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"missing session", `{}`, http.StatusBadRequest, ErrCodeValidation},
		{"zero amount", `{"sessionId":"cs_test_1","amount":0}`, http.StatusBadRequest, ErrCodeValidation},
		{"negative amount", `{"sessionId":"cs_test_1","amount":-5}`, http.StatusBadRequest, ErrCodeValidation},
		{"fractional amount", `{"sessionId":"cs_test_1","amount":10.5}`, http.StatusBadRequest, ErrCodeValidation},
		{"bad reason", `{"sessionId":"cs_test_1","reason":"changed_mind"}`, http.StatusBadRequest, ErrCodeValidation},
		{"malformed json", `{"sessionId":`, http.StatusBadRequest, ErrCodeBadRequest},
		{"unknown session", `{"sessionId":"cs_missing"}`, http.StatusNotFound, ErrCodeGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPaymentFixture(t, false)
			f.reconcile(t, "cs_test_1", 49900)

			w := f.refund(tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if resp := decodeError(t, w); resp.Code != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, resp.Code)
			}
			if f.gateway.RefundCount() != 0 {
				t.Errorf("expected no refund call, got %d", f.gateway.RefundCount())
			}
		})
	}
}

func TestRefund_NoCharge(t *testing.T) {
	f := newPaymentFixture(t, false)
	s := paymenttest.Completed("cs_unpaid", 49900)
	s.ChargeID = ""
	f.gateway.AddSession(s.Build())

	w := f.refund(`{"sessionId":"cs_unpaid"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", w.Code, w.Body.String())
	}
	if resp := decodeError(t, w); resp.Code != ErrCodeNoCharge {
		t.Errorf("expected code %s, got %s", ErrCodeNoCharge, resp.Code)
	}
}

func TestRefund_GatewayFailure(t *testing.T) {
	tests := []struct {
		name        string
		hide        bool
		err         error
		wantStatus  int
		wantMessage string
	}{
		{
			name:        "charge already refunded",
			err:         &payment.GatewayError{Op: "create refund", StatusCode: 400, Message: "Charge ch_1 has already been refunded."},
			wantStatus:  400,
			wantMessage: "Charge ch_1 has already been refunded.",
		},
		{
			name:        "no status defaults to 502",
			err:         &payment.GatewayError{Op: "create refund", Message: "timeout"},
			wantStatus:  502,
			wantMessage: "timeout",
		},
		{
			name:        "hidden",
			hide:        true,
			err:         &payment.GatewayError{Op: "create refund", StatusCode: 400, Message: "Charge ch_1 has already been refunded."},
			wantStatus:  400,
			wantMessage: genericMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPaymentFixture(t, tt.hide)
			f.reconcile(t, "cs_test_1", 49900)
			f.gateway.RefundErr = tt.err

			w := f.refund(`{"sessionId":"cs_test_1"}`)
			if w.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if resp := decodeError(t, w); resp.Message != tt.wantMessage {
				t.Errorf("expected message %q, got %q", tt.wantMessage, resp.Message)
			}

			rec, err := f.store.GetBySessionID(context.Background(), "cs_test_1")
			if err != nil {
				t.Fatalf("expected record: %v", err)
			}
			if len(rec.Refunds) != 0 || rec.RefundedAmount != 0 {
				t.Error("expected no ledger entry for a rejected refund")
			}
		})
	}
}
