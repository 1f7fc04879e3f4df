package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/vattentrygg/payments/internal/payment"
)

// MaxWebhookBodyBytes bounds webhook payloads. Gateway events are far smaller.
const MaxWebhookBodyBytes = 1 << 20

// StripeSignatureHeader carries the webhook signature.
const StripeSignatureHeader = "Stripe-Signature"

// eventDispatcher is satisfied by *payment.Dispatcher.
type eventDispatcher interface {
	Dispatch(ctx context.Context, event stripe.Event) (handled bool, err error)
}

// WebhookHandlers holds dependencies for webhook-related HTTP handlers.
type WebhookHandlers struct {
	webhookSecret string
	dispatcher    eventDispatcher
	webhookRepo   payment.WebhookRepository
	metrics       *payment.Metrics
	logger        *slog.Logger
}

// NewWebhookHandlers creates a new WebhookHandlers instance. webhookRepo may
// be nil to disable event-id dedupe.
func NewWebhookHandlers(
	webhookSecret string,
	dispatcher eventDispatcher,
	webhookRepo payment.WebhookRepository,
	metrics *payment.Metrics,
	logger *slog.Logger,
) *WebhookHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandlers{
		webhookSecret: webhookSecret,
		dispatcher:    dispatcher,
		webhookRepo:   webhookRepo,
		metrics:       metrics,
		logger:        logger,
	}
}

// webhookAck is the response once the signature checked out.
type webhookAck struct {
	Received bool `json:"received"`
}

// HandleStripeWebhook processes Stripe webhook events with signature verification.
// POST /api/stripe/webhook
//
// The body is read raw; it must not be parsed before verification. After a
// valid signature the response is always 200 so that handler failures do not
// trigger redelivery storms. Failures surface through logs and the
// reconciliation failure metric instead.
func (h *WebhookHandlers) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.webhookSecret == "" {
		h.logger.ErrorContext(ctx, "webhook secret not configured")
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeNotConfigured, "webhook not configured")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxWebhookBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, ctx, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "payload too large")
			return
		}
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "failed to read request body")
		return
	}

	signature := r.Header.Get(StripeSignatureHeader)
	if signature == "" {
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeSignature, "missing Stripe-Signature header")
		return
	}

	event, err := webhook.ConstructEventWithOptions(body, signature, h.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "webhook signature verification failed", "error", err)
		h.metrics.IncWebhookEvent("unknown", "invalid_signature")
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeSignature, "signature verification failed")
		return
	}

	eventType := string(event.Type)
	h.logger.InfoContext(ctx, "webhook event received", "event_type", eventType, "event_id", event.ID)

	outcome := h.process(ctx, event)
	h.metrics.IncWebhookEvent(eventType, outcome)

	writeJSON(w, ctx, http.StatusOK, webhookAck{Received: true})
}

// process dedupes and dispatches one verified event and returns the outcome
// label. It never panics.
func (h *WebhookHandlers) process(ctx context.Context, event stripe.Event) (outcome string) {
	eventType := string(event.Type)

	defer func() {
		if rec := recover(); rec != nil {
			h.logger.ErrorContext(ctx, "webhook handler panicked",
				"event_id", event.ID,
				"event_type", eventType,
				"panic", fmt.Sprint(rec))
			h.metrics.IncReconciliationFailure(eventType, "panic")
			outcome = "failed"
		}
	}()

	if h.webhookRepo != nil && event.ID != "" {
		seen, err := h.webhookRepo.HasProcessed(ctx, event.ID)
		if err != nil {
			// Dispatch anyway; reconciliation is idempotent.
			h.logger.WarnContext(ctx, "failed to check webhook event", "event_id", event.ID, "error", err)
		} else if seen {
			h.logger.InfoContext(ctx, "webhook event already processed, ignoring", "event_id", event.ID)
			return "duplicate"
		}
	}

	handled, err := h.dispatcher.Dispatch(ctx, event)
	if err != nil {
		// Left unmarked so a redelivery reconciles again.
		reason := "dispatch"
		if errors.Is(err, payment.ErrNotPersisted) {
			reason = "store"
		}
		h.logger.ErrorContext(ctx, "webhook reconciliation failed",
			"event_id", event.ID,
			"event_type", eventType,
			"reason", reason,
			"error", err)
		h.metrics.IncReconciliationFailure(eventType, reason)
		return "failed"
	}
	if !handled {
		return "ignored"
	}

	if h.webhookRepo != nil && event.ID != "" {
		if err := h.webhookRepo.MarkProcessed(ctx, event.ID, eventType); err != nil {
			h.logger.WarnContext(ctx, "failed to mark webhook event processed", "event_id", event.ID, "error", err)
		}
	}
	return "processed"
}
