package payment

import (
	"context"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vattentrygg/payments/internal/tracing"
)

// CheckoutSessionParams represents parameters for creating a Checkout Session.
type CheckoutSessionParams struct {
	Mode              string
	Items             []CheckoutItem
	SuccessURL        string
	CancelURL         string
	CustomerEmail     string
	ShippingCountries []string
	Metadata          map[string]string
	IdempotencyKey    string
}

// CheckoutItem represents a line item for checkout. Exactly one of PriceID
// and PriceData is set.
type CheckoutItem struct {
	PriceID   string
	PriceData *InlinePrice
	Quantity  int64
}

// InlinePrice is an ad-hoc price sent instead of a price reference.
type InlinePrice struct {
	Currency    string
	UnitAmount  int64
	ProductName string
}

// RefundParams represents parameters for issuing a refund.
type RefundParams struct {
	ChargeID string
	Amount   int64
	Reason   string
	Metadata map[string]string
}

// Gateway is the subset of the Stripe API used by this package. It is an
// interface so tests can run against a fake.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, params *CheckoutSessionParams) (*stripe.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, id string, expand ...string) (*stripe.CheckoutSession, error)
	FindSessionsByPaymentIntent(ctx context.Context, paymentIntentID string) ([]*stripe.CheckoutSession, error)
	CreateRefund(ctx context.Context, params *RefundParams) (*stripe.Refund, error)
}

// Session expansions needed to build a complete record.
var (
	ReconcileExpand = []string{
		"line_items",
		"line_items.data.price.product",
		"payment_intent",
		"payment_intent.latest_charge",
	}
	RefundExpand = []string{
		"payment_intent",
		"payment_intent.latest_charge",
	}
)

// StripeGateway implements Gateway on a per-key stripe-go client.
type StripeGateway struct {
	api *client.API
}

// NewStripeGateway wraps an initialized stripe-go client.
func NewStripeGateway(api *client.API) *StripeGateway {
	return &StripeGateway{api: api}
}

// CreateCheckoutSession creates a hosted Checkout Session.
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, params *CheckoutSessionParams) (sess *stripe.CheckoutSession, err error) {
	ctx, endSpan := tracing.StartGatewaySpan(ctx, "create checkout session", attribute.Int("checkout.line_items", len(params.Items)))
	defer func() { endSpan(err) }()

	lineItems := make([]*stripe.CheckoutSessionLineItemParams, len(params.Items))
	for i, item := range params.Items {
		li := &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(item.Quantity),
		}
		if item.PriceData != nil {
			li.PriceData = &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(item.PriceData.Currency),
				UnitAmount: stripe.Int64(item.PriceData.UnitAmount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.PriceData.ProductName),
				},
			}
		} else {
			li.Price = stripe.String(item.PriceID)
		}
		lineItems[i] = li
	}

	sp := &stripe.CheckoutSessionParams{
		Mode:                     stripe.String(params.Mode),
		LineItems:                lineItems,
		SuccessURL:               stripe.String(params.SuccessURL),
		CancelURL:                stripe.String(params.CancelURL),
		BillingAddressCollection: stripe.String("required"),
		PhoneNumberCollection: &stripe.CheckoutSessionPhoneNumberCollectionParams{
			Enabled: stripe.Bool(true),
		},
	}
	if len(params.ShippingCountries) > 0 {
		sp.ShippingAddressCollection = &stripe.CheckoutSessionShippingAddressCollectionParams{
			AllowedCountries: stripe.StringSlice(params.ShippingCountries),
		}
	}
	if params.CustomerEmail != "" {
		sp.CustomerEmail = stripe.String(params.CustomerEmail)
	}
	for k, v := range params.Metadata {
		sp.AddMetadata(k, v)
	}
	if params.IdempotencyKey != "" {
		sp.SetIdempotencyKey(params.IdempotencyKey)
	}
	sp.Context = ctx

	sess, err = g.api.CheckoutSessions.New(sp)
	if err != nil {
		return nil, WrapGatewayError("create checkout session", err)
	}
	return sess, nil
}

// GetCheckoutSession fetches a session with the requested expansions.
func (g *StripeGateway) GetCheckoutSession(ctx context.Context, id string, expand ...string) (sess *stripe.CheckoutSession, err error) {
	ctx, endSpan := tracing.StartGatewaySpan(ctx, "retrieve checkout session", attribute.String("checkout.session_id", id))
	defer func() { endSpan(err) }()

	params := &stripe.CheckoutSessionParams{}
	for _, e := range expand {
		params.AddExpand(e)
	}
	params.Context = ctx

	sess, err = g.api.CheckoutSessions.Get(id, params)
	if err != nil {
		return nil, WrapGatewayError("retrieve checkout session", err)
	}
	return sess, nil
}

// FindSessionsByPaymentIntent lists the sessions that created a payment intent.
func (g *StripeGateway) FindSessionsByPaymentIntent(ctx context.Context, paymentIntentID string) (out []*stripe.CheckoutSession, err error) {
	ctx, endSpan := tracing.StartGatewaySpan(ctx, "list checkout sessions", attribute.String("payment_intent.id", paymentIntentID))
	defer func() { endSpan(err) }()

	params := &stripe.CheckoutSessionListParams{
		PaymentIntent: stripe.String(paymentIntentID),
	}
	params.Limit = stripe.Int64(3)
	params.Single = true
	params.Context = ctx

	it := g.api.CheckoutSessions.List(params)
	for it.Next() {
		out = append(out, it.CheckoutSession())
	}
	if err = it.Err(); err != nil {
		return nil, WrapGatewayError("list checkout sessions", err)
	}
	return out, nil
}

// CreateRefund issues a refund against a charge.
func (g *StripeGateway) CreateRefund(ctx context.Context, params *RefundParams) (r *stripe.Refund, err error) {
	ctx, endSpan := tracing.StartGatewaySpan(ctx, "create refund", attribute.String("stripe.charge_id", params.ChargeID))
	defer func() { endSpan(err) }()

	rp := &stripe.RefundParams{
		Charge: stripe.String(params.ChargeID),
		Amount: stripe.Int64(params.Amount),
	}
	if params.Reason != "" {
		rp.Reason = stripe.String(params.Reason)
	}
	for k, v := range params.Metadata {
		rp.AddMetadata(k, v)
	}
	rp.Context = ctx

	r, err = g.api.Refunds.New(rp)
	if err != nil {
		return nil, WrapGatewayError("create refund", err)
	}
	return r, nil
}
