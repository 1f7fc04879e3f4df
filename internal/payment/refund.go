package payment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/vattentrygg/payments/internal/tracing"
)

// Refund reasons accepted by the gateway.
var refundReasons = map[string]bool{
	"duplicate":             true,
	"fraudulent":            true,
	"requested_by_customer": true,
}

// RefundRequest is a request to refund (part of) a checkout session.
// Amount zero means the full default amount.
type RefundRequest struct {
	SessionID string
	Amount    int64
	Reason    string
}

// RefundResult describes an issued refund and the ledger state after it.
type RefundResult struct {
	Refund         Refund `json:"refund"`
	RefundedAmount int64  `json:"refundedAmount"`
	Status         Status `json:"status"`
	// Recorded is false when the gateway refund succeeded but the ledger
	// write did not.
	Recorded bool `json:"recorded"`
}

// Refunder issues refunds and keeps the refund ledger in step.
type Refunder struct {
	gateway   Gateway
	store     Store
	source    string
	metrics   *Metrics
	publisher Publisher
	logger    *slog.Logger
}

// NewRefunder creates a Refunder. source is attached to each refund's
// metadata.
func NewRefunder(gateway Gateway, store Store, source string, logger *slog.Logger) *Refunder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Refunder{gateway: gateway, store: store, source: source, logger: logger}
}

// SetMetrics attaches Prometheus metrics.
func (f *Refunder) SetMetrics(m *Metrics) { f.metrics = m }

// SetPublisher attaches an event publisher notified after each refund.
func (f *Refunder) SetPublisher(p Publisher) { f.publisher = p }

// Refund issues a refund against the session's latest charge. The store is
// written only after the gateway accepted the refund.
func (f *Refunder) Refund(ctx context.Context, req RefundRequest) (res *RefundResult, err error) {
	if req.SessionID == "" {
		return nil, invalid("sessionId", "is required")
	}
	if req.Amount < 0 {
		return nil, invalid("amount", "must be a positive integer")
	}
	if req.Reason != "" && !refundReasons[req.Reason] {
		return nil, invalid("reason", "must be one of duplicate, fraudulent, requested_by_customer")
	}

	ctx, endSpan := tracing.StartSpan(ctx, "payment.refund", attribute.String("checkout.session_id", req.SessionID))
	defer func() { endSpan(err) }()

	sess, err := f.gateway.GetCheckoutSession(ctx, req.SessionID, RefundExpand...)
	if err != nil {
		f.metrics.observeRefund("gateway_error", "", 0)
		return nil, fmt.Errorf("fetch checkout session %s: %w", req.SessionID, err)
	}

	pi := sess.PaymentIntent
	if pi == nil || pi.LatestCharge == nil || pi.LatestCharge.ID == "" {
		f.metrics.observeRefund("no_charge", "", 0)
		return nil, ErrNoCharge
	}
	chargeID := pi.LatestCharge.ID

	// Amount received wins over the session total when both are set; they
	// can diverge after a partial capture.
	fallbackTotal := pi.AmountReceived
	if fallbackTotal <= 0 {
		fallbackTotal = sess.AmountTotal
	} else if sess.AmountTotal > 0 && sess.AmountTotal != fallbackTotal {
		f.logger.WarnContext(ctx, "amount received differs from session total",
			slog.String("session_id", req.SessionID),
			slog.Int64("amount_received", pi.AmountReceived),
			slog.Int64("amount_total", sess.AmountTotal))
	}
	amount := req.Amount
	if amount == 0 {
		amount = fallbackTotal
	}
	if amount <= 0 {
		f.metrics.observeRefund("nothing_to_refund", "", 0)
		return nil, ErrNothingToRefund
	}

	issued, err := f.gateway.CreateRefund(ctx, &RefundParams{
		ChargeID: chargeID,
		Amount:   amount,
		Reason:   req.Reason,
		Metadata: map[string]string{"source": f.source, "session_id": req.SessionID},
	})
	if err != nil {
		f.metrics.observeRefund("gateway_error", "", 0)
		return nil, err
	}

	entry := Refund{
		ID:      issued.ID,
		Status:  string(issued.Status),
		Amount:  issued.Amount,
		Created: time.Unix(issued.Created, 0).UTC(),
		Charge:  chargeID,
		Reason:  string(issued.Reason),
	}
	if entry.Amount == 0 {
		entry.Amount = amount
	}
	if entry.Reason == "" {
		entry.Reason = req.Reason
	}
	if issued.Created == 0 {
		entry.Created = time.Now().UTC()
	}
	currency := string(sess.Currency)
	f.metrics.observeRefund("issued", currency, entry.Amount)

	res = &RefundResult{Refund: entry}
	f.logger.InfoContext(ctx, "refund issued",
		slog.String("session_id", req.SessionID),
		slog.String("refund_id", entry.ID),
		slog.Int64("amount", entry.Amount))

	if err := f.store.AppendRefund(ctx, req.SessionID, entry); err != nil {
		f.logger.ErrorContext(ctx, "refund issued but not recorded in ledger",
			slog.String("session_id", req.SessionID),
			slog.String("refund_id", entry.ID),
			slog.String("error", err.Error()))
		return res, nil
	}
	res.Recorded = true

	rec, err := f.store.GetBySessionID(ctx, req.SessionID)
	if err != nil {
		f.logger.ErrorContext(ctx, "failed to re-read payment record after refund",
			slog.String("session_id", req.SessionID),
			slog.String("error", err.Error()))
		return res, nil
	}
	res.RefundedAmount = rec.RefundedAmount
	res.Status = rec.Status

	if rec.Status != StatusRefunded && rec.FullyRefunded(fallbackTotal) {
		if err := f.store.SetStatus(ctx, req.SessionID, StatusRefunded); err != nil {
			f.logger.ErrorContext(ctx, "failed to mark payment refunded",
				slog.String("session_id", req.SessionID),
				slog.String("error", err.Error()))
		} else {
			res.Status = StatusRefunded
		}
	}

	if f.publisher != nil {
		f.publisher.Publish(Event{
			Type:       EventRefundIssued,
			SessionID:  req.SessionID,
			Amount:     entry.Amount,
			Currency:   currency,
			Status:     res.Status,
			OccurredAt: time.Now().UTC(),
		})
	}
	return res, nil
}
