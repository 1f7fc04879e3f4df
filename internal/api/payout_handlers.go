package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/stripe/stripe-go/v81"

	"github.com/vattentrygg/payments/internal/middleware"
	"github.com/vattentrygg/payments/internal/payout"
)

// payoutQuerier is satisfied by *payout.Service.
type payoutQuerier interface {
	List(ctx context.Context, tenantID, startingAfter string, limit int) (string, payout.Page[*stripe.Payout], error)
	Get(ctx context.Context, tenantID, payoutID string) (*stripe.Payout, error)
	Transactions(ctx context.Context, tenantID, payoutID, startingAfter string, limit int) (payout.Page[*stripe.BalanceTransaction], error)
}

// PayoutHandlers serves the internal payout listing endpoints. The tenant is
// taken from the X-Tenant header; an empty header selects the default tenant.
type PayoutHandlers struct {
	service           payoutQuerier
	hideGatewayErrors bool
}

// NewPayoutHandlers creates a new PayoutHandlers instance.
func NewPayoutHandlers(service payoutQuerier, hideGatewayErrors bool) *PayoutHandlers {
	return &PayoutHandlers{service: service, hideGatewayErrors: hideGatewayErrors}
}

// PayoutListResponse is one page of payouts.
type PayoutListResponse struct {
	Data    []*stripe.Payout `json:"data"`
	HasMore bool             `json:"has_more"`
	Tenant  string           `json:"tenant"`
}

// PayoutResponse wraps a single payout.
type PayoutResponse struct {
	Payout *stripe.Payout `json:"payout"`
}

// ListPayouts returns one page of payouts.
// GET /api/payouts?starting_after=&limit=
func (h *PayoutHandlers) ListPayouts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	tenantID, page, err := h.service.List(ctx, r.Header.Get(middleware.TenantHeader), r.URL.Query().Get("starting_after"), limit)
	if err != nil {
		writeServiceError(w, ctx, err, http.StatusBadGateway, h.hideGatewayErrors)
		return
	}

	ctx = middleware.SetTenant(ctx, tenantID)
	middleware.UpdateResponseContext(w, ctx)
	writeJSON(w, ctx, http.StatusOK, PayoutListResponse{Data: page.Data, HasMore: page.HasMore, Tenant: tenantID})
}

// GetPayout returns one payout.
// GET /api/payouts/{id}
func (h *PayoutHandlers) GetPayout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	p, err := h.service.Get(ctx, r.Header.Get(middleware.TenantHeader), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, ctx, err, http.StatusBadGateway, h.hideGatewayErrors)
		return
	}

	writeJSON(w, ctx, http.StatusOK, PayoutResponse{Payout: p})
}

// ListTransactions returns the balance transactions settled by a payout.
// GET /api/payouts/{id}/transactions?starting_after=&limit=
func (h *PayoutHandlers) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	page, err := h.service.Transactions(ctx,
		r.Header.Get(middleware.TenantHeader),
		r.PathValue("id"),
		r.URL.Query().Get("starting_after"),
		limit)
	if err != nil {
		writeServiceError(w, ctx, err, http.StatusBadGateway, h.hideGatewayErrors)
		return
	}

	writeJSON(w, ctx, http.StatusOK, page)
}

// parseLimit reads the optional limit query parameter. Zero means the
// service default; values above the maximum are clamped by the service.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "limit must be a positive integer")
		return 0, false
	}
	return n, true
}
