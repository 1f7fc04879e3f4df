package paymenttest

import (
	"github.com/stripe/stripe-go/v81"
)

// Session describes a fully expanded checkout session fixture.
type Session struct {
	ID              string
	Status          string
	PaymentStatus   string
	Currency        string
	AmountTotal     int64
	Email           string
	PaymentIntentID string
	ChargeID        string
	AmountReceived  int64
	Metadata        map[string]string
}

// Completed returns a paid session fixture with a charge.
func Completed(id string, amount int64) Session {
	return Session{
		ID:              id,
		Status:          "complete",
		PaymentStatus:   "paid",
		Currency:        "sek",
		AmountTotal:     amount,
		Email:           "kund@example.se",
		PaymentIntentID: "pi_" + id,
		ChargeID:        "ch_" + id,
		AmountReceived:  amount,
		Metadata:        map[string]string{"source": "oversvamningsskydd"},
	}
}

// Build decodes the fixture into a stripe session the way the gateway
// client would.
func (s Session) Build() *stripe.CheckoutSession {
	address := map[string]any{
		"line1":       "Storgatan 1",
		"postal_code": "41103",
		"city":        "Göteborg",
		"country":     "SE",
	}
	doc := map[string]any{
		"id":             s.ID,
		"object":         "checkout.session",
		"status":         s.Status,
		"payment_status": s.PaymentStatus,
		"mode":           "payment",
		"currency":       s.Currency,
		"amount_total":   s.AmountTotal,
		"customer_email": s.Email,
		"customer_details": map[string]any{
			"name":    "Anna Andersson",
			"email":   s.Email,
			"phone":   "+46701234567",
			"address": address,
		},
		"line_items": map[string]any{
			"object": "list",
			"data": []any{
				map[string]any{
					"id":              "li_1",
					"object":          "item",
					"quantity":        1,
					"amount_subtotal": s.AmountTotal,
					"amount_total":    s.AmountTotal,
					"currency":        s.Currency,
					"description":     "Flood barrier",
					"price": map[string]any{
						"id":     "price_barrier",
						"object": "price",
						"product": map[string]any{
							"id":     "prod_barrier",
							"object": "product",
							"name":   "Flood barrier 2m",
						},
					},
				},
			},
		},
		"metadata": s.Metadata,
	}
	if s.PaymentIntentID != "" {
		pi := map[string]any{
			"id":              s.PaymentIntentID,
			"object":          "payment_intent",
			"status":          "succeeded",
			"amount_received": s.AmountReceived,
		}
		if s.ChargeID != "" {
			pi["latest_charge"] = map[string]any{
				"id":     s.ChargeID,
				"object": "charge",
				"billing_details": map[string]any{
					"name":    "Anna Andersson",
					"email":   s.Email,
					"address": address,
				},
				"payment_method_details": map[string]any{
					"type": "card",
					"card": map[string]any{
						"brand":     "visa",
						"last4":     "4242",
						"exp_month": 12,
						"exp_year":  2030,
						"funding":   "credit",
						"country":   "SE",
					},
				},
			}
		}
		doc["payment_intent"] = pi
	}

	var sess stripe.CheckoutSession
	mustDecode(doc, &sess)
	return &sess
}
