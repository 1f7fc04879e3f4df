package payment

import (
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v81"
)

var (
	// ErrNoCharge is returned when a refund is requested for a session whose
	// payment intent has no charge.
	ErrNoCharge = errors.New("no charge associated with session")

	// ErrNothingToRefund is returned when neither the caller nor the gateway
	// yields a positive refund amount.
	ErrNothingToRefund = errors.New("nothing to refund")

	// ErrGatewayNotConfigured is returned when no gateway credential is set.
	ErrGatewayNotConfigured = errors.New("payment gateway credential not configured")

	// ErrNotLiveKey is returned in production when the gateway credential is
	// a test-mode key.
	ErrNotLiveKey = errors.New("payment gateway credential is not a live key")
)

// ValidationError describes a rejected client input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// GatewayError wraps a failure reported by the payment gateway.
type GatewayError struct {
	Op         string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// WrapGatewayError converts an error from stripe-go into a GatewayError,
// keeping the HTTP status and message the gateway reported.
func WrapGatewayError(op string, err error) error {
	if err == nil {
		return nil
	}
	gerr := &GatewayError{Op: op, Message: err.Error(), Err: err}
	var se *stripe.Error
	if errors.As(err, &se) {
		gerr.StatusCode = se.HTTPStatusCode
		gerr.Code = string(se.Code)
		if se.Msg != "" {
			gerr.Message = se.Msg
		}
	}
	return gerr
}
