package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/stripe/stripe-go/v81"
)

// Webhook event types handled by the Dispatcher.
const (
	EventTypeCheckoutCompleted          = "checkout.session.completed"
	EventTypeCheckoutAsyncPaymentOK     = "checkout.session.async_payment_succeeded"
	EventTypeCheckoutAsyncPaymentFailed = "checkout.session.async_payment_failed"
	EventTypeCheckoutExpired            = "checkout.session.expired"
	EventTypePaymentIntentSucceeded     = "payment_intent.succeeded"
)

// Dispatcher routes verified webhook events to the Reconciler.
type Dispatcher struct {
	reconciler *Reconciler
	logger     *slog.Logger
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(reconciler *Reconciler, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{reconciler: reconciler, logger: logger}
}

// Dispatch handles one verified event. handled is false for event types that
// are ignored.
func (d *Dispatcher) Dispatch(ctx context.Context, event stripe.Event) (handled bool, err error) {
	eventType := string(event.Type)
	switch eventType {
	case EventTypeCheckoutCompleted, EventTypeCheckoutAsyncPaymentOK,
		EventTypeCheckoutAsyncPaymentFailed, EventTypeCheckoutExpired:
		id, err := objectID(event)
		if err != nil {
			return true, err
		}
		_, err = d.reconciler.ReconcileSession(ctx, id)
		return true, err

	case EventTypePaymentIntentSucceeded:
		id, err := objectID(event)
		if err != nil {
			return true, err
		}
		_, err = d.reconciler.ReconcilePaymentIntent(ctx, id)
		return true, err

	default:
		d.logger.InfoContext(ctx, "ignoring webhook event",
			slog.String("event_id", event.ID),
			slog.String("event_type", eventType))
		return false, nil
	}
}

// objectID extracts data.object.id. Only the ID is trusted; the reconciler
// re-fetches everything else.
func objectID(event stripe.Event) (string, error) {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return "", fmt.Errorf("event %s has no data object", event.ID)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(event.Data.Raw, &obj); err != nil {
		return "", fmt.Errorf("decode event %s object: %w", event.ID, err)
	}
	if obj.ID == "" {
		return "", fmt.Errorf("event %s object has no id", event.ID)
	}
	return obj.ID, nil
}
