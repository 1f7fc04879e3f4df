// Package payment provides checkout, webhook reconciliation and refund handling
// for Stripe Checkout Sessions.
package payment

import "time"

// Status represents the lifecycle status of a payment record.
type Status string

// Payment record statuses. Open, complete and expired mirror the checkout
// session; refunded is derived locally from the refund ledger and is terminal.
const (
	StatusOpen     Status = "open"
	StatusComplete Status = "complete"
	StatusExpired  Status = "expired"
	StatusRefunded Status = "refunded"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusComplete, StatusExpired, StatusRefunded:
		return true
	}
	return false
}

// Address is a postal address snapshot.
type Address struct {
	Line1      string `json:"line1,omitempty" bson:"line1,omitempty"`
	Line2      string `json:"line2,omitempty" bson:"line2,omitempty"`
	PostalCode string `json:"postalCode,omitempty" bson:"postalCode,omitempty"`
	City       string `json:"city,omitempty" bson:"city,omitempty"`
	State      string `json:"state,omitempty" bson:"state,omitempty"`
	Country    string `json:"country,omitempty" bson:"country,omitempty"`
}

// Contact is a name/email/phone/address snapshot used for customer, billing
// and shipping details.
type Contact struct {
	Name    string   `json:"name,omitempty" bson:"name,omitempty"`
	Email   string   `json:"email,omitempty" bson:"email,omitempty"`
	Phone   string   `json:"phone,omitempty" bson:"phone,omitempty"`
	Address *Address `json:"address,omitempty" bson:"address,omitempty"`
}

// IsZero reports whether the contact carries no information at all.
func (c *Contact) IsZero() bool {
	if c == nil {
		return true
	}
	return c.Name == "" && c.Email == "" && c.Phone == "" && (c.Address == nil || *c.Address == Address{})
}

// PaymentMethod summarizes the card used for the charge. Card numbers never
// reach this service; only the gateway's display fields are kept.
type PaymentMethod struct {
	Brand    string `json:"brand,omitempty" bson:"brand,omitempty"`
	Last4    string `json:"last4,omitempty" bson:"last4,omitempty"`
	ExpMonth int64  `json:"expMonth,omitempty" bson:"expMonth,omitempty"`
	ExpYear  int64  `json:"expYear,omitempty" bson:"expYear,omitempty"`
	Funding  string `json:"funding,omitempty" bson:"funding,omitempty"`
	Country  string `json:"country,omitempty" bson:"country,omitempty"`
}

// LineItem is a snapshot of one purchased line, not a live price reference.
type LineItem struct {
	Quantity    int64  `json:"quantity" bson:"quantity"`
	Subtotal    int64  `json:"subtotal" bson:"subtotal"`
	Total       int64  `json:"total" bson:"total"`
	Currency    string `json:"currency" bson:"currency"`
	PriceID     string `json:"priceId,omitempty" bson:"priceId,omitempty"`
	ProductID   string `json:"productId,omitempty" bson:"productId,omitempty"`
	ProductName string `json:"productName,omitempty" bson:"productName,omitempty"`
}

// Refund is one entry of the append-only refund ledger.
type Refund struct {
	ID      string    `json:"id" bson:"id"`
	Status  string    `json:"status" bson:"status"`
	Amount  int64     `json:"amount" bson:"amount"`
	Created time.Time `json:"created" bson:"created"`
	Charge  string    `json:"charge" bson:"charge"`
	Reason  string    `json:"reason,omitempty" bson:"reason,omitempty"`
}

// Record is the normalized view of one checkout session's lifecycle.
type Record struct {
	SessionID string `json:"sessionId" bson:"sessionId"`
	Status    Status `json:"status" bson:"status"`
	Mode      string `json:"mode,omitempty" bson:"mode,omitempty"`

	AmountTotal int64  `json:"amountTotal" bson:"amountTotal"`
	Currency    string `json:"currency,omitempty" bson:"currency,omitempty"`

	CustomerEmail   string         `json:"customerEmail,omitempty" bson:"customerEmail,omitempty"`
	CustomerDetails *Contact       `json:"customerDetails,omitempty" bson:"customerDetails,omitempty"`
	BillingDetails  *Contact       `json:"billingDetails,omitempty" bson:"billingDetails,omitempty"`
	ShippingDetails *Contact       `json:"shippingDetails,omitempty" bson:"shippingDetails,omitempty"`
	PaymentMethod   *PaymentMethod `json:"paymentMethod,omitempty" bson:"paymentMethod,omitempty"`

	PaymentIntentID string `json:"paymentIntentId,omitempty" bson:"paymentIntentId,omitempty"`
	ChargeID        string `json:"chargeId,omitempty" bson:"chargeId,omitempty"`
	PaymentStatus   string `json:"paymentStatus,omitempty" bson:"paymentStatus,omitempty"`

	LineItems []LineItem        `json:"lineItems" bson:"lineItems"`
	Metadata  map[string]string `json:"metadata,omitempty" bson:"metadata,omitempty"`

	Refunds        []Refund `json:"refunds" bson:"refunds"`
	RefundedAmount int64    `json:"refundedAmount" bson:"refundedAmount"`

	InsertedAt time.Time `json:"insertedAt" bson:"insertedAt"`
	UpdatedAt  time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.CustomerDetails = cloneContact(r.CustomerDetails)
	c.BillingDetails = cloneContact(r.BillingDetails)
	c.ShippingDetails = cloneContact(r.ShippingDetails)
	if r.PaymentMethod != nil {
		pm := *r.PaymentMethod
		c.PaymentMethod = &pm
	}
	if r.LineItems != nil {
		c.LineItems = append([]LineItem(nil), r.LineItems...)
	}
	if r.Refunds != nil {
		c.Refunds = append([]Refund(nil), r.Refunds...)
	}
	if r.Metadata != nil {
		c.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func cloneContact(c *Contact) *Contact {
	if c == nil {
		return nil
	}
	out := *c
	if c.Address != nil {
		a := *c.Address
		out.Address = &a
	}
	return &out
}

// RefundTotal returns the total a refund ledger is measured against: the
// record's amountTotal when known, otherwise the supplied fallback.
func (r *Record) RefundTotal(fallback int64) int64 {
	if r.AmountTotal > 0 {
		return r.AmountTotal
	}
	return fallback
}

// FullyRefunded reports whether the ledger has reached the refund total.
func (r *Record) FullyRefunded(fallback int64) bool {
	total := r.RefundTotal(fallback)
	return total > 0 && r.RefundedAmount >= total
}
