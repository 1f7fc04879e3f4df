// Package paymenttest provides an in-memory payment gateway for tests.
package paymenttest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/stripe/stripe-go/v81"

	"github.com/vattentrygg/payments/internal/payment"
)

// FakeGateway implements payment.Gateway over fixture sessions.
type FakeGateway struct {
	mu       sync.Mutex
	sessions map[string]*stripe.CheckoutSession
	byIntent map[string][]string
	nextID   int

	// Injected failures.
	CreateErr error
	GetErr    error
	FindErr   error
	RefundErr error

	Created    []*payment.CheckoutSessionParams
	Refunds    []*payment.RefundParams
	GetCalls   int
	LastExpand []string
}

// NewFakeGateway creates an empty gateway.
func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		sessions: make(map[string]*stripe.CheckoutSession),
		byIntent: make(map[string][]string),
	}
}

// AddSession registers a session returned by later lookups.
func (g *FakeGateway) AddSession(sess *stripe.CheckoutSession) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[sess.ID] = sess
	if sess.PaymentIntent != nil && sess.PaymentIntent.ID != "" {
		g.byIntent[sess.PaymentIntent.ID] = append(g.byIntent[sess.PaymentIntent.ID], sess.ID)
	}
}

// CreateCheckoutSession records params and returns a new open session.
func (g *FakeGateway) CreateCheckoutSession(ctx context.Context, params *payment.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Created = append(g.Created, params)
	if g.CreateErr != nil {
		return nil, g.CreateErr
	}
	g.nextID++
	id := fmt.Sprintf("cs_test_%d", g.nextID)
	return &stripe.CheckoutSession{
		ID:  id,
		URL: "https://checkout.stripe.com/c/pay/" + id,
	}, nil
}

// GetCheckoutSession returns a registered session.
func (g *FakeGateway) GetCheckoutSession(ctx context.Context, id string, expand ...string) (*stripe.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.GetCalls++
	g.LastExpand = expand
	if g.GetErr != nil {
		return nil, g.GetErr
	}
	sess, ok := g.sessions[id]
	if !ok {
		return nil, &payment.GatewayError{
			Op:         "retrieve checkout session",
			StatusCode: 404,
			Code:       "resource_missing",
			Message:    "No such checkout.session: " + id,
		}
	}
	return sess, nil
}

// FindSessionsByPaymentIntent returns sessions registered for the intent.
func (g *FakeGateway) FindSessionsByPaymentIntent(ctx context.Context, paymentIntentID string) ([]*stripe.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FindErr != nil {
		return nil, g.FindErr
	}
	var out []*stripe.CheckoutSession
	for _, id := range g.byIntent[paymentIntentID] {
		out = append(out, g.sessions[id])
	}
	return out, nil
}

// CreateRefund records params and returns a succeeded refund.
func (g *FakeGateway) CreateRefund(ctx context.Context, params *payment.RefundParams) (*stripe.Refund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Refunds = append(g.Refunds, params)
	if g.RefundErr != nil {
		return nil, g.RefundErr
	}
	doc := map[string]any{
		"id":      fmt.Sprintf("re_test_%d", len(g.Refunds)),
		"object":  "refund",
		"amount":  params.Amount,
		"charge":  params.ChargeID,
		"status":  "succeeded",
		"created": time.Now().Unix(),
	}
	if params.Reason != "" {
		doc["reason"] = params.Reason
	}
	var r stripe.Refund
	mustDecode(doc, &r)
	return &r, nil
}

// RefundCount returns the number of CreateRefund calls.
func (g *FakeGateway) RefundCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Refunds)
}

func mustDecode(doc any, out any) {
	raw, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		panic(err)
	}
}
