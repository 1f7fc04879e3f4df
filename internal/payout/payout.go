// Package payout lists gateway payouts and their balance transactions per
// tenant.
package payout

import (
	"context"
	"errors"
	"log/slog"
	"regexp"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/vattentrygg/payments/internal/payment"
	"github.com/vattentrygg/payments/internal/tenant"
)

// Page limits.
const (
	DefaultPayoutLimit      = 30
	DefaultTransactionLimit = 100
	MaxLimit                = 100
)

var (
	// ErrInvalidID is returned for a malformed payout ID or cursor.
	ErrInvalidID = errors.New("invalid object id")

	objectIDPattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,255}$`)
)

// Page is one page of a cursor-paginated list.
type Page[T any] struct {
	Data    []T  `json:"data"`
	HasMore bool `json:"has_more"`
}

// Backend is the gateway surface for one tenant.
type Backend interface {
	ListPayouts(ctx context.Context, startingAfter string, limit int64) (Page[*stripe.Payout], error)
	GetPayout(ctx context.Context, id string) (*stripe.Payout, error)
	ListTransactions(ctx context.Context, payoutID, startingAfter string, limit int64) (Page[*stripe.BalanceTransaction], error)
}

// Resolver selects the backend for a tenant.
type Resolver interface {
	Backend(tenant string) (tenantID string, b Backend, err error)
}

// Service serves payout queries.
type Service struct {
	resolver Resolver
	logger   *slog.Logger
}

// NewService creates a new Service.
func NewService(resolver Resolver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{resolver: resolver, logger: logger}
}

// List returns one page of payouts for a tenant along with its canonical ID.
func (s *Service) List(ctx context.Context, tenantID, startingAfter string, limit int) (string, Page[*stripe.Payout], error) {
	if startingAfter != "" && !objectIDPattern.MatchString(startingAfter) {
		return "", Page[*stripe.Payout]{}, ErrInvalidID
	}
	id, b, err := s.resolver.Backend(tenantID)
	if err != nil {
		return "", Page[*stripe.Payout]{}, err
	}
	page, err := b.ListPayouts(ctx, startingAfter, clampLimit(limit, DefaultPayoutLimit))
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list payouts", slog.String("tenant", id), slog.String("error", err.Error()))
		return id, Page[*stripe.Payout]{}, err
	}
	return id, page, nil
}

// Get returns one payout.
func (s *Service) Get(ctx context.Context, tenantID, payoutID string) (*stripe.Payout, error) {
	if !objectIDPattern.MatchString(payoutID) {
		return nil, ErrInvalidID
	}
	_, b, err := s.resolver.Backend(tenantID)
	if err != nil {
		return nil, err
	}
	return b.GetPayout(ctx, payoutID)
}

// Transactions returns one page of balance transactions settled by a payout.
func (s *Service) Transactions(ctx context.Context, tenantID, payoutID, startingAfter string, limit int) (Page[*stripe.BalanceTransaction], error) {
	if !objectIDPattern.MatchString(payoutID) || (startingAfter != "" && !objectIDPattern.MatchString(startingAfter)) {
		return Page[*stripe.BalanceTransaction]{}, ErrInvalidID
	}
	_, b, err := s.resolver.Backend(tenantID)
	if err != nil {
		return Page[*stripe.BalanceTransaction]{}, err
	}
	return b.ListTransactions(ctx, payoutID, startingAfter, clampLimit(limit, DefaultTransactionLimit))
}

func clampLimit(limit, def int) int64 {
	if limit <= 0 {
		return int64(def)
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return int64(limit)
}

// RegistryResolver builds Stripe backends from a tenant registry.
type RegistryResolver struct {
	registry *tenant.Registry
}

// NewRegistryResolver creates a resolver over reg.
func NewRegistryResolver(reg *tenant.Registry) *RegistryResolver {
	return &RegistryResolver{registry: reg}
}

// Backend returns the Stripe backend for a tenant.
func (r *RegistryResolver) Backend(tenantID string) (string, Backend, error) {
	id, api, err := r.registry.Client(tenantID)
	if err != nil {
		return "", nil, err
	}
	return id, &StripeBackend{api: api}, nil
}

// StripeBackend implements Backend with stripe-go.
type StripeBackend struct {
	api *client.API
}

// ListPayouts fetches a single page of payouts.
func (b *StripeBackend) ListPayouts(ctx context.Context, startingAfter string, limit int64) (Page[*stripe.Payout], error) {
	params := &stripe.PayoutListParams{}
	params.Context = ctx
	params.Limit = stripe.Int64(limit)
	params.Single = true
	if startingAfter != "" {
		params.StartingAfter = stripe.String(startingAfter)
	}

	page := Page[*stripe.Payout]{Data: []*stripe.Payout{}}
	it := b.api.Payouts.List(params)
	for it.Next() {
		page.Data = append(page.Data, it.Payout())
	}
	if err := it.Err(); err != nil {
		return Page[*stripe.Payout]{}, payment.WrapGatewayError("list payouts", err)
	}
	if list := it.PayoutList(); list != nil {
		page.HasMore = list.HasMore
	}
	return page, nil
}

// GetPayout fetches one payout.
func (b *StripeBackend) GetPayout(ctx context.Context, id string) (*stripe.Payout, error) {
	params := &stripe.PayoutParams{}
	params.Context = ctx
	p, err := b.api.Payouts.Get(id, params)
	if err != nil {
		return nil, payment.WrapGatewayError("retrieve payout", err)
	}
	return p, nil
}

// ListTransactions fetches a single page of balance transactions for a payout.
func (b *StripeBackend) ListTransactions(ctx context.Context, payoutID, startingAfter string, limit int64) (Page[*stripe.BalanceTransaction], error) {
	params := &stripe.BalanceTransactionListParams{
		Payout: stripe.String(payoutID),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(limit)
	params.Single = true
	if startingAfter != "" {
		params.StartingAfter = stripe.String(startingAfter)
	}

	page := Page[*stripe.BalanceTransaction]{Data: []*stripe.BalanceTransaction{}}
	it := b.api.BalanceTransactions.List(params)
	for it.Next() {
		page.Data = append(page.Data, it.BalanceTransaction())
	}
	if err := it.Err(); err != nil {
		return Page[*stripe.BalanceTransaction]{}, payment.WrapGatewayError("list balance transactions", err)
	}
	if list := it.BalanceTransactionList(); list != nil {
		page.HasMore = list.HasMore
	}
	return page, nil
}
