// Package api provides the HTTP handlers of the payments server and the
// standardized error envelope they share.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/vattentrygg/payments/internal/middleware"
	"github.com/vattentrygg/payments/internal/payment"
	"github.com/vattentrygg/payments/internal/payout"
	"github.com/vattentrygg/payments/internal/tenant"
)

// Common error codes used throughout the API.
const (
	// ErrCodeValidation indicates input validation failure.
	ErrCodeValidation = "validation_error"

	// ErrCodeBadRequest indicates a malformed request.
	ErrCodeBadRequest = "bad_request"

	// ErrCodeUnauthorized indicates a missing or wrong internal secret.
	ErrCodeUnauthorized = "unauthorized"

	// ErrCodeSignature indicates a webhook that failed signature verification.
	ErrCodeSignature = "signature_invalid"

	// ErrCodeNotFound indicates the requested resource was not found.
	ErrCodeNotFound = "not_found"

	// ErrCodePayloadTooLarge indicates a request body over the size limit.
	ErrCodePayloadTooLarge = "payload_too_large"

	// ErrCodeRateLimited indicates rate limit exceeded.
	ErrCodeRateLimited = "rate_limited"

	// ErrCodeUnknownTenant indicates a tenant with no configured credential.
	ErrCodeUnknownTenant = "unknown_tenant"

	// ErrCodeNotConfigured indicates server-side configuration is missing.
	ErrCodeNotConfigured = "not_configured"

	// ErrCodeNoCharge indicates a refund for a session without a charge.
	ErrCodeNoCharge = "no_charge"

	// ErrCodeNothingToRefund indicates no positive refund amount.
	ErrCodeNothingToRefund = "nothing_to_refund"

	// ErrCodeGateway indicates the payment gateway rejected or failed a call.
	ErrCodeGateway = "gateway_error"

	// ErrCodeInternal indicates an internal server error.
	ErrCodeInternal = "internal_error"
)

// genericMessage replaces upstream detail when gateway errors are hidden.
const genericMessage = "server error"

// ErrorResponse represents the standard error response format:
// {"success": false, "message": "...", "code": "..."}.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// WriteError writes a standardized JSON error response and records code on
// the context so the logging middleware can report it.
//
// Example:
//
//	WriteError(w, r.Context(), http.StatusNotFound, api.ErrCodeNotFound, "payment not found")
func WriteError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	ctx = middleware.SetErrorCode(ctx, code)
	middleware.UpdateResponseContext(w, ctx)
	writeJSON(w, ctx, status, ErrorResponse{Success: false, Message: message, Code: code})
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, ctx context.Context, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal response", "error", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(genericMessage))
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(ctx, "failed to write response", "error", err)
	}
}

// errorMapping is the HTTP rendering of a service error.
type errorMapping struct {
	status  int
	code    string
	message string
	// upstream marks gateway messages that may be hidden in production.
	upstream bool
}

// mapError classifies err. gatewayDefault is used for gateway failures that
// carry no usable HTTP status: 400 for checkout, 502 elsewhere.
func mapError(err error, gatewayDefault int) errorMapping {
	var verr *payment.ValidationError
	var gerr *payment.GatewayError

	switch {
	case errors.As(err, &verr):
		return errorMapping{status: http.StatusBadRequest, code: ErrCodeValidation, message: verr.Error()}
	case errors.Is(err, tenant.ErrUnknownTenant):
		return errorMapping{status: http.StatusBadRequest, code: ErrCodeUnknownTenant, message: "unknown tenant"}
	case errors.Is(err, payout.ErrInvalidID):
		return errorMapping{status: http.StatusBadRequest, code: ErrCodeValidation, message: err.Error()}
	case errors.Is(err, payment.ErrNoCharge):
		return errorMapping{status: http.StatusBadRequest, code: ErrCodeNoCharge, message: err.Error()}
	case errors.Is(err, payment.ErrNothingToRefund):
		return errorMapping{status: http.StatusBadRequest, code: ErrCodeNothingToRefund, message: err.Error()}
	case errors.Is(err, payment.ErrGatewayNotConfigured), errors.Is(err, payment.ErrNotLiveKey):
		return errorMapping{status: http.StatusBadRequest, code: ErrCodeNotConfigured, message: err.Error(), upstream: true}
	case errors.Is(err, payment.ErrRecordNotFound):
		return errorMapping{status: http.StatusNotFound, code: ErrCodeNotFound, message: "payment not found"}
	case errors.As(err, &gerr):
		status := gatewayDefault
		if gerr.StatusCode >= 400 && gerr.StatusCode <= 599 {
			status = gerr.StatusCode
		}
		return errorMapping{status: status, code: ErrCodeGateway, message: gerr.Message, upstream: true}
	}
	return errorMapping{status: http.StatusInternalServerError, code: ErrCodeInternal, message: genericMessage}
}

// writeServiceError maps err and writes it. With hide set, upstream detail is
// replaced by a generic message.
func writeServiceError(w http.ResponseWriter, ctx context.Context, err error, gatewayDefault int, hide bool) {
	m := mapError(err, gatewayDefault)
	if m.upstream && hide {
		m.message = genericMessage
	}
	if m.status >= 500 {
		slog.ErrorContext(ctx, "request failed", "code", m.code, "error", err)
	} else {
		slog.WarnContext(ctx, "request rejected", "code", m.code, "error", err)
	}
	WriteError(w, ctx, m.status, m.code, m.message)
}
