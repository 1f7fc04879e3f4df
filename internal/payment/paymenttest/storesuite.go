package paymenttest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vattentrygg/payments/internal/payment"
)

// RunStoreSuite exercises the merge and ledger semantics every Store
// implementation must share. newStore must return an empty store.
func RunStoreSuite(t *testing.T, newStore func(t *testing.T) payment.Store) {
	t.Run("insert then merge keeps ledger", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		inserted, err := s.Upsert(ctx, &payment.Record{SessionID: "cs_suite_1", Status: payment.StatusOpen, AmountTotal: 1000, Currency: "sek"})
		if err != nil || !inserted {
			t.Fatalf("first Upsert() = %v, %v", inserted, err)
		}
		first, err := s.GetBySessionID(ctx, "cs_suite_1")
		if err != nil {
			t.Fatalf("GetBySessionID() error = %v", err)
		}
		if len(first.Refunds) != 0 || first.RefundedAmount != 0 || first.InsertedAt.IsZero() {
			t.Errorf("fresh record = %+v", first)
		}

		if err := s.AppendRefund(ctx, "cs_suite_1", payment.Refund{ID: "re_1", Amount: 250, Status: "succeeded", Created: time.Now().UTC()}); err != nil {
			t.Fatalf("AppendRefund() error = %v", err)
		}

		inserted, err = s.Upsert(ctx, &payment.Record{
			SessionID:     "cs_suite_1",
			Status:        payment.StatusComplete,
			AmountTotal:   1000,
			Currency:      "sek",
			PaymentStatus: "paid",
			LineItems:     []payment.LineItem{{PriceID: "price_a", Quantity: 2}},
			Metadata:      map[string]string{"source": "suite"},
		})
		if err != nil || inserted {
			t.Fatalf("second Upsert() = %v, %v", inserted, err)
		}

		got, err := s.GetBySessionID(ctx, "cs_suite_1")
		if err != nil {
			t.Fatalf("GetBySessionID() error = %v", err)
		}
		if got.Status != payment.StatusComplete || got.PaymentStatus != "paid" {
			t.Errorf("gateway fields not overwritten: status=%q paymentStatus=%q", got.Status, got.PaymentStatus)
		}
		if len(got.LineItems) != 1 || got.Metadata["source"] != "suite" {
			t.Errorf("snapshot fields = %+v %v", got.LineItems, got.Metadata)
		}
		if !got.InsertedAt.Equal(first.InsertedAt) {
			t.Errorf("InsertedAt changed: %v -> %v", first.InsertedAt, got.InsertedAt)
		}
		if got.UpdatedAt.Before(got.InsertedAt) {
			t.Errorf("UpdatedAt %v before InsertedAt %v", got.UpdatedAt, got.InsertedAt)
		}
		if len(got.Refunds) != 1 || got.Refunds[0].ID != "re_1" || got.RefundedAmount != 250 {
			t.Errorf("ledger = %+v refunded=%d", got.Refunds, got.RefundedAmount)
		}
	})

	t.Run("refunded is never downgraded", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if _, err := s.Upsert(ctx, &payment.Record{SessionID: "cs_suite_2", Status: payment.StatusComplete}); err != nil {
			t.Fatal(err)
		}
		if err := s.SetStatus(ctx, "cs_suite_2", payment.StatusRefunded); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Upsert(ctx, &payment.Record{SessionID: "cs_suite_2", Status: payment.StatusComplete}); err != nil {
			t.Fatal(err)
		}
		got, err := s.GetBySessionID(ctx, "cs_suite_2")
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != payment.StatusRefunded {
			t.Errorf("status = %q, want refunded", got.Status)
		}
	})

	t.Run("append refund creates placeholder", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for _, r := range []payment.Refund{{ID: "re_a", Amount: 100}, {ID: "re_b", Amount: 50}} {
			if err := s.AppendRefund(ctx, "cs_suite_3", r); err != nil {
				t.Fatalf("AppendRefund(%s) error = %v", r.ID, err)
			}
		}
		got, err := s.GetBySessionID(ctx, "cs_suite_3")
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != payment.StatusComplete || got.RefundedAmount != 150 || len(got.Refunds) != 2 {
			t.Errorf("placeholder = status %q refunded %d refunds %d", got.Status, got.RefundedAmount, len(got.Refunds))
		}

		inserted, err := s.Upsert(ctx, &payment.Record{SessionID: "cs_suite_3", Status: payment.StatusComplete, AmountTotal: 150})
		if err != nil || inserted {
			t.Fatalf("Upsert() over placeholder = %v, %v", inserted, err)
		}
		got, _ = s.GetBySessionID(ctx, "cs_suite_3")
		if got.RefundedAmount != 150 || got.AmountTotal != 150 {
			t.Errorf("after reconcile = refunded %d total %d", got.RefundedAmount, got.AmountTotal)
		}
	})

	t.Run("not found", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if _, err := s.GetBySessionID(ctx, "cs_missing"); !errors.Is(err, payment.ErrRecordNotFound) {
			t.Errorf("GetBySessionID() error = %v, want ErrRecordNotFound", err)
		}
		if err := s.SetStatus(ctx, "cs_missing", payment.StatusExpired); !errors.Is(err, payment.ErrRecordNotFound) {
			t.Errorf("SetStatus() error = %v, want ErrRecordNotFound", err)
		}
	})
}
