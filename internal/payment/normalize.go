package payment

import (
	"github.com/stripe/stripe-go/v81"
)

// SnapshotFromSession builds a record from a fully expanded checkout session.
// Ledger fields and timestamps are left zero; the store owns them.
func SnapshotFromSession(sess *stripe.CheckoutSession) *Record {
	rec := &Record{
		SessionID:     sess.ID,
		Status:        sessionStatus(sess),
		Mode:          string(sess.Mode),
		AmountTotal:   sess.AmountTotal,
		Currency:      string(sess.Currency),
		CustomerEmail: sess.CustomerEmail,
		PaymentStatus: string(sess.PaymentStatus),
		LineItems:     []LineItem{},
	}

	if cd := sess.CustomerDetails; cd != nil {
		rec.CustomerDetails = &Contact{
			Name:    cd.Name,
			Email:   cd.Email,
			Phone:   cd.Phone,
			Address: convertAddress(cd.Address),
		}
		if rec.CustomerEmail == "" {
			rec.CustomerEmail = cd.Email
		}
	}

	if sd := sess.ShippingDetails; sd != nil {
		shipping := &Contact{
			Name:    sd.Name,
			Phone:   sd.Phone,
			Address: convertAddress(sd.Address),
		}
		if !shipping.IsZero() {
			rec.ShippingDetails = shipping
		}
	}

	if pi := sess.PaymentIntent; pi != nil {
		rec.PaymentIntentID = pi.ID
		if pi.Status != "" {
			rec.PaymentStatus = string(pi.Status)
		}
		if ch := pi.LatestCharge; ch != nil && ch.ID != "" {
			rec.ChargeID = ch.ID
			rec.PaymentMethod = cardSummary(ch)
			rec.BillingDetails = chargeBilling(ch)
		}
	}
	if rec.BillingDetails == nil && !rec.CustomerDetails.IsZero() {
		rec.BillingDetails = cloneContact(rec.CustomerDetails)
	}

	if sess.LineItems != nil {
		for _, li := range sess.LineItems.Data {
			if li == nil {
				continue
			}
			rec.LineItems = append(rec.LineItems, normalizeLineItem(li))
		}
	}

	if len(sess.Metadata) > 0 {
		rec.Metadata = make(map[string]string, len(sess.Metadata))
		for k, v := range sess.Metadata {
			rec.Metadata[k] = v
		}
	}

	return rec
}

func sessionStatus(sess *stripe.CheckoutSession) Status {
	s := Status(sess.Status)
	if s.Valid() {
		return s
	}
	return StatusOpen
}

func convertAddress(a *stripe.Address) *Address {
	if a == nil {
		return nil
	}
	out := &Address{
		Line1:      a.Line1,
		Line2:      a.Line2,
		PostalCode: a.PostalCode,
		City:       a.City,
		State:      a.State,
		Country:    a.Country,
	}
	if *out == (Address{}) {
		return nil
	}
	return out
}

func chargeBilling(ch *stripe.Charge) *Contact {
	bd := ch.BillingDetails
	if bd == nil {
		return nil
	}
	c := &Contact{
		Name:    bd.Name,
		Email:   bd.Email,
		Phone:   bd.Phone,
		Address: convertAddress(bd.Address),
	}
	if c.IsZero() {
		return nil
	}
	return c
}

func cardSummary(ch *stripe.Charge) *PaymentMethod {
	if ch.PaymentMethodDetails == nil || ch.PaymentMethodDetails.Card == nil {
		return nil
	}
	card := ch.PaymentMethodDetails.Card
	return &PaymentMethod{
		Brand:    string(card.Brand),
		Last4:    card.Last4,
		ExpMonth: card.ExpMonth,
		ExpYear:  card.ExpYear,
		Funding:  string(card.Funding),
		Country:  card.Country,
	}
}

func normalizeLineItem(li *stripe.LineItem) LineItem {
	item := LineItem{
		Quantity: li.Quantity,
		Subtotal: li.AmountSubtotal,
		Total:    li.AmountTotal,
		Currency: string(li.Currency),
	}
	if p := li.Price; p != nil {
		item.PriceID = p.ID
		if prod := p.Product; prod != nil {
			item.ProductID = prod.ID
			item.ProductName = prod.Name
		}
	}
	if item.ProductName == "" {
		item.ProductName = li.Description
	}
	return item
}
