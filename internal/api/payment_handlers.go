package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/vattentrygg/payments/internal/payment"
)

// maxRefundBodyBytes bounds refund request bodies.
const maxRefundBodyBytes = 16 << 10

// paymentReader is the read side of payment.Store used by the reporting endpoint.
type paymentReader interface {
	GetBySessionID(ctx context.Context, sessionID string) (*payment.Record, error)
}

// refundIssuer is satisfied by *payment.Refunder.
type refundIssuer interface {
	Refund(ctx context.Context, req payment.RefundRequest) (*payment.RefundResult, error)
}

// PaymentHandlers holds dependencies for the internal payment endpoints.
type PaymentHandlers struct {
	store             paymentReader
	refunder          refundIssuer
	hideGatewayErrors bool
}

// NewPaymentHandlers creates a new PaymentHandlers instance.
func NewPaymentHandlers(store paymentReader, refunder refundIssuer, hideGatewayErrors bool) *PaymentHandlers {
	return &PaymentHandlers{
		store:             store,
		refunder:          refunder,
		hideGatewayErrors: hideGatewayErrors,
	}
}

// PaymentResponse wraps a stored payment record.
type PaymentResponse struct {
	Success bool            `json:"success"`
	Payment *payment.Record `json:"payment"`
}

// GetPayment returns the stored record for a checkout session.
// GET /api/payments/{sessionId}
func (h *PaymentHandlers) GetPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionID := r.PathValue("sessionId")
	if sessionID == "" {
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "sessionId is required")
		return
	}

	rec, err := h.store.GetBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, payment.ErrRecordNotFound) {
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "payment not found")
			return
		}
		slog.ErrorContext(ctx, "failed to load payment record", "session_id", sessionID, "error", err)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, genericMessage)
		return
	}

	writeJSON(w, ctx, http.StatusOK, PaymentResponse{Success: true, Payment: rec})
}

// RefundRequest is the request body for issuing a refund.
type RefundRequest struct {
	SessionID string      `json:"sessionId"`
	Amount    json.Number `json:"amount"`
	Reason    string      `json:"reason"`
}

// RefundResponse is the response for an issued refund.
type RefundResponse struct {
	Success        bool           `json:"success"`
	Refund         payment.Refund `json:"refund"`
	RefundedAmount int64          `json:"refundedAmount"`
	Status         payment.Status `json:"status"`
	Recorded       bool           `json:"recorded"`
}

// Refund issues a full or partial refund for a checkout session.
// POST /api/payments/refund
func (h *PaymentHandlers) Refund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRefundBodyBytes))
	dec.UseNumber()
	var req RefundRequest
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, ctx, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "payload too large")
			return
		}
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}

	var amount int64
	if req.Amount != "" {
		n, err := parseInt(req.Amount)
		if err != nil || n <= 0 {
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "amount: must be a positive integer")
			return
		}
		amount = n
	}

	res, err := h.refunder.Refund(ctx, payment.RefundRequest{
		SessionID: req.SessionID,
		Amount:    amount,
		Reason:    req.Reason,
	})
	if err != nil {
		writeServiceError(w, ctx, err, http.StatusBadGateway, h.hideGatewayErrors)
		return
	}

	writeJSON(w, ctx, http.StatusOK, RefundResponse{
		Success:        true,
		Refund:         res.Refund,
		RefundedAmount: res.RefundedAmount,
		Status:         res.Status,
		Recorded:       res.Recorded,
	})
}
