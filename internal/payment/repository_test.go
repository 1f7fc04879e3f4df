package payment

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fixedStore(t0 time.Time) (*InMemoryStore, *time.Time) {
	s := NewInMemoryStore()
	now := t0
	s.now = func() time.Time { return now }
	return s, &now
}

func TestInMemoryStore_UpsertInsertsThenMerges(t *testing.T) {
	t0 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	s, now := fixedStore(t0)
	ctx := context.Background()

	inserted, err := s.Upsert(ctx, &Record{SessionID: "cs_1", Status: StatusOpen, AmountTotal: 1000})
	if err != nil || !inserted {
		t.Fatalf("first Upsert() = %v, %v; want inserted", inserted, err)
	}

	*now = t0.Add(time.Minute)
	if err := s.AppendRefund(ctx, "cs_1", Refund{ID: "re_1", Amount: 300}); err != nil {
		t.Fatalf("AppendRefund() error = %v", err)
	}

	*now = t0.Add(2 * time.Minute)
	inserted, err = s.Upsert(ctx, &Record{SessionID: "cs_1", Status: StatusComplete, AmountTotal: 1000, PaymentStatus: "paid"})
	if err != nil || inserted {
		t.Fatalf("second Upsert() = %v, %v; want update", inserted, err)
	}

	rec, err := s.GetBySessionID(ctx, "cs_1")
	if err != nil {
		t.Fatalf("GetBySessionID() error = %v", err)
	}
	if rec.Status != StatusComplete || rec.PaymentStatus != "paid" {
		t.Errorf("gateway fields not overwritten: %+v", rec)
	}
	if !rec.InsertedAt.Equal(t0) {
		t.Errorf("InsertedAt = %v, want %v", rec.InsertedAt, t0)
	}
	if !rec.UpdatedAt.Equal(t0.Add(2 * time.Minute)) {
		t.Errorf("UpdatedAt = %v", rec.UpdatedAt)
	}
	if len(rec.Refunds) != 1 || rec.RefundedAmount != 300 {
		t.Errorf("ledger not preserved: refunds=%d refunded=%d", len(rec.Refunds), rec.RefundedAmount)
	}
}

func TestInMemoryStore_UpsertNeverDowngradesRefunded(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	if _, err := s.Upsert(ctx, &Record{SessionID: "cs_1", Status: StatusComplete}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetStatus(ctx, "cs_1", StatusRefunded); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Upsert(ctx, &Record{SessionID: "cs_1", Status: StatusComplete}); err != nil {
		t.Fatal(err)
	}

	rec, _ := s.GetBySessionID(ctx, "cs_1")
	if rec.Status != StatusRefunded {
		t.Errorf("status = %q, want refunded", rec.Status)
	}
}

func TestInMemoryStore_AppendRefundCreatesPlaceholder(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	if err := s.AppendRefund(ctx, "cs_new", Refund{ID: "re_1", Amount: 500}); err != nil {
		t.Fatalf("AppendRefund() error = %v", err)
	}
	if err := s.AppendRefund(ctx, "cs_new", Refund{ID: "re_2", Amount: 250}); err != nil {
		t.Fatalf("AppendRefund() error = %v", err)
	}

	rec, err := s.GetBySessionID(ctx, "cs_new")
	if err != nil {
		t.Fatalf("GetBySessionID() error = %v", err)
	}
	if rec.Status != StatusComplete {
		t.Errorf("status = %q, want complete", rec.Status)
	}
	if rec.RefundedAmount != 750 || len(rec.Refunds) != 2 {
		t.Errorf("refunded=%d refunds=%d, want 750 and 2", rec.RefundedAmount, len(rec.Refunds))
	}
	if rec.InsertedAt.IsZero() {
		t.Error("InsertedAt not set on placeholder")
	}
}

func TestInMemoryStore_NotFound(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	if _, err := s.GetBySessionID(ctx, "missing"); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("GetBySessionID() error = %v, want ErrRecordNotFound", err)
	}
	if err := s.SetStatus(ctx, "missing", StatusRefunded); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("SetStatus() error = %v, want ErrRecordNotFound", err)
	}
}

func TestInMemoryStore_UpsertRequiresSessionID(t *testing.T) {
	s := NewInMemoryStore()
	if _, err := s.Upsert(context.Background(), &Record{}); err == nil {
		t.Error("Upsert() expected error for empty session id")
	}
}

func TestInMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	in := &Record{SessionID: "cs_1", Status: StatusComplete, Metadata: map[string]string{"a": "1"}}
	if _, err := s.Upsert(ctx, in); err != nil {
		t.Fatal(err)
	}
	in.Metadata["a"] = "changed"

	rec, _ := s.GetBySessionID(ctx, "cs_1")
	rec.Metadata["a"] = "mutated"
	rec.Status = StatusExpired

	again, _ := s.GetBySessionID(ctx, "cs_1")
	if again.Metadata["a"] != "1" || again.Status != StatusComplete {
		t.Errorf("store shares memory with callers: %+v", again)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestRecord_FullyRefunded(t *testing.T) {
	tests := []struct {
		name     string
		rec      Record
		fallback int64
		want     bool
	}{
		{"partial", Record{AmountTotal: 1000, RefundedAmount: 400}, 0, false},
		{"exact", Record{AmountTotal: 1000, RefundedAmount: 1000}, 0, true},
		{"over", Record{AmountTotal: 1000, RefundedAmount: 1200}, 0, true},
		{"placeholder uses fallback", Record{RefundedAmount: 500}, 500, true},
		{"placeholder partial", Record{RefundedAmount: 200}, 500, false},
		{"unknown total", Record{RefundedAmount: 200}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.FullyRefunded(tt.fallback); got != tt.want {
				t.Errorf("FullyRefunded() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatus_Valid(t *testing.T) {
	for _, s := range []Status{StatusOpen, StatusComplete, StatusExpired, StatusRefunded} {
		if !s.Valid() {
			t.Errorf("%q.Valid() = false", s)
		}
	}
	if Status("paid").Valid() {
		t.Error(`"paid".Valid() = true`)
	}
}
