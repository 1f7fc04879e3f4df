package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/vattentrygg/payments/internal/stats"
	"github.com/vattentrygg/payments/internal/tracing"
)

// Event types published to downstream collaborators.
const (
	EventCheckoutCompleted = "payment.checkout_completed"
	EventRefundIssued      = "payment.refund_issued"
)

// ErrNotPersisted is returned alongside a reconciled record the store failed
// to write. The gateway stays authoritative; a redelivery repairs the record.
var ErrNotPersisted = errors.New("payment record not persisted")

// Event is a payment lifecycle notification for downstream collaborators.
type Event struct {
	Type       string    `json:"type"`
	SessionID  string    `json:"sessionId"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency,omitempty"`
	Status     Status    `json:"status"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Publisher delivers events without blocking the caller.
type Publisher interface {
	Publish(e Event)
}

// Reconciler rebuilds payment records from authoritative gateway state.
type Reconciler struct {
	gateway   Gateway
	store     Store
	stats     *stats.UpsertStats
	metrics   *Metrics
	publisher Publisher
	logger    *slog.Logger
}

// ReconcilerOption configures optional Reconciler collaborators.
type ReconcilerOption func(*Reconciler)

// WithReconcileStats counts upsert outcomes.
func WithReconcileStats(s *stats.UpsertStats) ReconcilerOption {
	return func(r *Reconciler) { r.stats = s }
}

// WithReconcileMetrics records Prometheus metrics.
func WithReconcileMetrics(m *Metrics) ReconcilerOption {
	return func(r *Reconciler) { r.metrics = m }
}

// WithReconcilePublisher publishes an event when a session first lands as complete.
func WithReconcilePublisher(p Publisher) ReconcilerOption {
	return func(r *Reconciler) { r.publisher = p }
}

// NewReconciler creates a new Reconciler.
func NewReconciler(gateway Gateway, store Store, logger *slog.Logger, opts ...ReconcilerOption) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{gateway: gateway, store: store, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReconcileSession re-fetches the session with full expansion and upserts the
// normalized record. Gateway errors are returned. Store errors are logged and
// reported as ErrNotPersisted together with the record, so callers can still
// answer from gateway state while leaving the event open for redelivery.
func (r *Reconciler) ReconcileSession(ctx context.Context, sessionID string) (rec *Record, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "payment.reconcile_session", attribute.String("checkout.session_id", sessionID))
	defer func() { endSpan(err) }()

	sess, err := r.gateway.GetCheckoutSession(ctx, sessionID, ReconcileExpand...)
	if err != nil {
		return nil, fmt.Errorf("fetch checkout session %s: %w", sessionID, err)
	}

	rec = SnapshotFromSession(sess)
	inserted, storeErr := r.store.Upsert(ctx, rec)
	if storeErr != nil {
		r.logger.ErrorContext(ctx, "failed to persist payment record",
			slog.String("session_id", sessionID),
			slog.String("error", storeErr.Error()))
		r.metrics.incReconciliation("store_error")
		if r.stats != nil {
			r.stats.RecordFailure()
		}
		return rec, fmt.Errorf("%w: session %s: %v", ErrNotPersisted, sessionID, storeErr)
	}

	outcome := "updated"
	if inserted {
		outcome = "inserted"
	}
	r.metrics.incReconciliation(outcome)
	if r.stats != nil {
		r.stats.Record(inserted)
	}
	r.logger.InfoContext(ctx, "payment record reconciled",
		slog.String("session_id", sessionID),
		slog.String("status", string(rec.Status)),
		slog.String("payment_status", rec.PaymentStatus),
		slog.Bool("inserted", inserted))

	if inserted && rec.Status == StatusComplete && r.publisher != nil {
		r.publisher.Publish(Event{
			Type:       EventCheckoutCompleted,
			SessionID:  rec.SessionID,
			Amount:     rec.AmountTotal,
			Currency:   rec.Currency,
			Status:     rec.Status,
			OccurredAt: time.Now().UTC(),
		})
	}
	return rec, nil
}

// ReconcilePaymentIntent resolves a payment intent back to its checkout
// session and reconciles it. A payment intent without a session is not an
// error; it returns (nil, nil).
func (r *Reconciler) ReconcilePaymentIntent(ctx context.Context, paymentIntentID string) (*Record, error) {
	sessions, err := r.gateway.FindSessionsByPaymentIntent(ctx, paymentIntentID)
	if err != nil {
		return nil, fmt.Errorf("find sessions for payment intent %s: %w", paymentIntentID, err)
	}
	if len(sessions) == 0 {
		r.logger.InfoContext(ctx, "no checkout session for payment intent",
			slog.String("payment_intent_id", paymentIntentID))
		return nil, nil
	}
	if len(sessions) > 1 {
		r.logger.WarnContext(ctx, "multiple checkout sessions for payment intent, using first",
			slog.String("payment_intent_id", paymentIntentID),
			slog.Int("count", len(sessions)))
	}
	return r.ReconcileSession(ctx, sessions[0].ID)
}
