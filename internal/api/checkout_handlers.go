package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/vattentrygg/payments/internal/middleware"
	"github.com/vattentrygg/payments/internal/payment"
)

// maxCheckoutBodyBytes bounds checkout request bodies.
const maxCheckoutBodyBytes = 64 << 10

// CheckoutHandlers serves the public checkout endpoint.
type CheckoutHandlers struct {
	service           *payment.CheckoutService
	hideGatewayErrors bool
}

// NewCheckoutHandlers creates checkout handlers. With hideGatewayErrors set,
// gateway messages are replaced by a generic one.
func NewCheckoutHandlers(service *payment.CheckoutService, hideGatewayErrors bool) *CheckoutHandlers {
	return &CheckoutHandlers{service: service, hideGatewayErrors: hideGatewayErrors}
}

// CheckoutSessionRequest is the request body of POST /api/checkout/create-session.
// Either Items or the PriceID/Quantity shorthand is used.
type CheckoutSessionRequest struct {
	Items         []CheckoutItemRequest `json:"items"`
	PriceID       string                `json:"priceId"`
	Quantity      json.Number           `json:"quantity"`
	CustomerEmail string                `json:"customer_email"`
	Mode          string                `json:"mode"`
	Metadata      map[string]any        `json:"metadata"`
}

// CheckoutItemRequest is one requested line item.
type CheckoutItemRequest struct {
	Price     string            `json:"price"`
	Quantity  json.Number       `json:"quantity"`
	PriceData *PriceDataRequest `json:"price_data"`
}

// PriceDataRequest is an inline price. The product name may be given flat or
// as product_data.name.
type PriceDataRequest struct {
	Currency    string      `json:"currency"`
	UnitAmount  json.Number `json:"unit_amount"`
	ProductName string      `json:"product_name"`
	ProductData *struct {
		Name string `json:"name"`
	} `json:"product_data"`
}

// CheckoutSessionResponse is returned for a created session.
type CheckoutSessionResponse struct {
	Success bool   `json:"success"`
	URL     string `json:"url"`
	ID      string `json:"id"`
}

// CreateSession handles POST /api/checkout/create-session and its
// /create-checkout-session alias.
func (h *CheckoutHandlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxCheckoutBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()

	var req CheckoutSessionRequest
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, ctx, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "request body too large")
			return
		}
		if !errors.Is(err, io.EOF) {
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
	}

	checkoutReq, err := toCheckoutRequest(req)
	if err != nil {
		writeServiceError(w, ctx, err, http.StatusBadRequest, false)
		return
	}
	checkoutReq.IdempotencyKey = middleware.GetIdempotencyKey(ctx)

	res, err := h.service.Create(ctx, checkoutReq)
	if err != nil {
		writeServiceError(w, ctx, err, http.StatusBadRequest, h.hideGatewayErrors)
		return
	}

	writeJSON(w, ctx, http.StatusOK, CheckoutSessionResponse{
		Success: true,
		URL:     res.URL,
		ID:      res.SessionID,
	})
}

// toCheckoutRequest converts the wire shape. Missing quantities default to 1;
// present ones must be positive integers.
func toCheckoutRequest(req CheckoutSessionRequest) (payment.CheckoutRequest, error) {
	items := req.Items
	if len(items) == 0 && req.PriceID != "" {
		items = []CheckoutItemRequest{{Price: req.PriceID, Quantity: req.Quantity}}
	}
	if len(items) == 0 {
		return payment.CheckoutRequest{}, &payment.ValidationError{Field: "items", Message: "items[] required"}
	}

	out := payment.CheckoutRequest{
		Items:         make([]payment.CheckoutItem, 0, len(items)),
		CustomerEmail: strings.TrimSpace(req.CustomerEmail),
		Mode:          req.Mode,
	}
	for i, it := range items {
		field := fmt.Sprintf("items[%d]", i)
		qty, err := parseQuantity(it.Quantity)
		if err != nil {
			return payment.CheckoutRequest{}, &payment.ValidationError{Field: field + ".quantity", Message: err.Error()}
		}
		item := payment.CheckoutItem{PriceID: strings.TrimSpace(it.Price), Quantity: qty}
		if item.PriceID == "" && it.PriceData != nil {
			pd := it.PriceData
			amount, err := parseInt(pd.UnitAmount)
			if err != nil {
				return payment.CheckoutRequest{}, &payment.ValidationError{
					Field:   field + ".price_data.unit_amount",
					Message: "must be a non-negative integer",
				}
			}
			name := pd.ProductName
			if name == "" && pd.ProductData != nil {
				name = pd.ProductData.Name
			}
			item.PriceData = &payment.InlinePrice{Currency: pd.Currency, UnitAmount: amount, ProductName: name}
		}
		out.Items = append(out.Items, item)
	}

	if len(req.Metadata) > 0 {
		out.Metadata = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			s, err := stringifyMetadata(v)
			if err != nil {
				return payment.CheckoutRequest{}, &payment.ValidationError{Field: "metadata." + k, Message: err.Error()}
			}
			out.Metadata[k] = s
		}
	}
	return out, nil
}

func parseQuantity(n json.Number) (int64, error) {
	if n == "" {
		return 1, nil
	}
	q, err := parseInt(n)
	if err != nil || q <= 0 {
		return 0, errors.New("must be a positive integer")
	}
	return q, nil
}

// parseInt accepts integral JSON numbers only; 2.0 is rejected like 2.5.
func parseInt(n json.Number) (int64, error) {
	if n == "" {
		return 0, errors.New("missing")
	}
	return strconv.ParseInt(n.String(), 10, 64)
}

// stringifyMetadata accepts strings, numbers and booleans.
func stringifyMetadata(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case bool:
		return strconv.FormatBool(t), nil
	case nil:
		return "", nil
	}
	return "", errors.New("must be a string, number or boolean")
}
