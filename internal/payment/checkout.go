package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vattentrygg/payments/internal/validate"
)

// Checkout modes accepted by the gateway.
const (
	ModePayment      = "payment"
	ModeSubscription = "subscription"
	ModeSetup        = "setup"
)

// SessionIDPlaceholder is replaced by the gateway with the session ID when it
// redirects to the success URL.
const SessionIDPlaceholder = "{CHECKOUT_SESSION_ID}"

// DefaultProductName names inline-priced items that carry no name.
const DefaultProductName = "Item"

// CheckoutConfig holds the fixed parts of every checkout session.
type CheckoutConfig struct {
	SuccessURL        string
	CancelURL         string
	ShippingCountries []string
	// SourceMarker is written to metadata["source"] on every session.
	SourceMarker string
	// GatewayKey is the secret key the gateway client was built with; only
	// its presence and mode are checked here.
	GatewayKey string
	Production bool
}

// CheckoutRequest is a validated-shape checkout request. Items are checked
// again by Create.
type CheckoutRequest struct {
	Items          []CheckoutItem
	CustomerEmail  string
	Mode           string
	Metadata       map[string]string
	IdempotencyKey string
}

// CheckoutResult is returned for a created session.
type CheckoutResult struct {
	SessionID      string
	URL            string
	IdempotencyKey string
}

// CheckoutService creates hosted checkout sessions.
type CheckoutService struct {
	gateway Gateway
	prices  *PriceValidator
	cfg     CheckoutConfig
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewCheckoutService creates a new CheckoutService.
func NewCheckoutService(gateway Gateway, prices *PriceValidator, cfg CheckoutConfig, metrics *Metrics, logger *slog.Logger) *CheckoutService {
	if logger == nil {
		logger = slog.Default()
	}
	if prices == nil {
		prices = NewPriceValidator(nil)
	}
	return &CheckoutService{
		gateway: gateway,
		prices:  prices,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Create validates the request and creates a gateway session. No gateway call
// is made unless every check passes.
func (s *CheckoutService) Create(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	params, err := s.buildParams(req)
	if err != nil {
		s.metrics.incCheckout("rejected")
		return nil, err
	}

	sess, err := s.gateway.CreateCheckoutSession(ctx, params)
	if err != nil {
		s.metrics.incCheckout("gateway_error")
		return nil, err
	}
	s.metrics.incCheckout("created")

	s.logger.InfoContext(ctx, "checkout session created",
		slog.String("session_id", sess.ID),
		slog.Int("items", len(params.Items)),
		slog.String("mode", params.Mode))

	return &CheckoutResult{
		SessionID:      sess.ID,
		URL:            sess.URL,
		IdempotencyKey: params.IdempotencyKey,
	}, nil
}

func (s *CheckoutService) buildParams(req CheckoutRequest) (*CheckoutSessionParams, error) {
	if err := s.checkCredential(); err != nil {
		return nil, err
	}

	if len(req.Items) == 0 {
		return nil, invalid("items", "at least one item is required")
	}
	items := make([]CheckoutItem, 0, len(req.Items))
	for i, item := range req.Items {
		checked, err := s.checkItem(i, item)
		if err != nil {
			return nil, err
		}
		items = append(items, checked)
	}

	mode := req.Mode
	if mode == "" {
		mode = ModePayment
	}
	switch mode {
	case ModePayment, ModeSubscription, ModeSetup:
	default:
		return nil, invalid("mode", "unsupported mode %q", mode)
	}

	var email string
	if req.CustomerEmail != "" {
		e, err := validate.Email(req.CustomerEmail)
		if err != nil {
			return nil, invalid("customer_email", "is not a valid email address")
		}
		email = e
	}

	metadata, err := s.checkMetadata(req.Metadata)
	if err != nil {
		return nil, err
	}

	successURL, err := validate.RedirectURL(s.cfg.SuccessURL)
	if err != nil {
		return nil, invalid("success_url", "is not a valid https URL")
	}
	cancelURL, err := validate.RedirectURL(s.cfg.CancelURL)
	if err != nil {
		return nil, invalid("cancel_url", "is not a valid https URL")
	}

	key := req.IdempotencyKey
	if key == "" {
		key = s.newIdempotencyKey()
	}

	return &CheckoutSessionParams{
		Mode:              mode,
		Items:             items,
		SuccessURL:        withSessionPlaceholder(successURL),
		CancelURL:         cancelURL,
		CustomerEmail:     email,
		ShippingCountries: s.cfg.ShippingCountries,
		Metadata:          metadata,
		IdempotencyKey:    key,
	}, nil
}

func (s *CheckoutService) checkCredential() error {
	key := strings.TrimSpace(s.cfg.GatewayKey)
	if key == "" {
		return ErrGatewayNotConfigured
	}
	if s.cfg.Production && !IsLiveKey(key) {
		return ErrNotLiveKey
	}
	return nil
}

func (s *CheckoutService) checkItem(i int, item CheckoutItem) (CheckoutItem, error) {
	field := fmt.Sprintf("items[%d]", i)
	if item.Quantity <= 0 {
		return CheckoutItem{}, invalid(field+".quantity", "must be a positive integer")
	}

	if item.PriceID != "" {
		if err := s.prices.Validate(item.PriceID); err != nil {
			if errors.Is(err, ErrPriceNotAllowed) {
				return CheckoutItem{}, invalid(field+".price", "price %q is not allowed", item.PriceID)
			}
			return CheckoutItem{}, invalid(field+".price", "invalid price id %q", item.PriceID)
		}
		return CheckoutItem{PriceID: item.PriceID, Quantity: item.Quantity}, nil
	}

	if pd := item.PriceData; pd != nil {
		currency, err := validate.Currency(pd.Currency)
		if err != nil {
			return CheckoutItem{}, invalid(field+".price_data.currency", "must be a 3-letter currency code")
		}
		if pd.UnitAmount < 0 {
			return CheckoutItem{}, invalid(field+".price_data.unit_amount", "must be a non-negative integer")
		}
		name := DefaultProductName
		if strings.TrimSpace(pd.ProductName) != "" {
			if name, err = validate.ProductName(pd.ProductName); err != nil {
				return CheckoutItem{}, invalid(field+".price_data.product_name", "%v", err)
			}
		}
		return CheckoutItem{
			PriceData: &InlinePrice{Currency: currency, UnitAmount: pd.UnitAmount, ProductName: name},
			Quantity:  item.Quantity,
		}, nil
	}

	return CheckoutItem{}, invalid(field, "price or price_data is required")
}

func (s *CheckoutService) checkMetadata(in map[string]string) (map[string]string, error) {
	// One slot is reserved for the source marker.
	if len(in) >= validate.MaxMetadataKeys {
		return nil, invalid("metadata", "at most %d keys are allowed", validate.MaxMetadataKeys-1)
	}
	out := make(map[string]string, len(in)+1)
	for k, v := range in {
		if _, err := validate.MetadataKey(k); err != nil {
			return nil, invalid("metadata", "invalid key %q", k)
		}
		if _, err := validate.MetadataValue(v); err != nil {
			return nil, invalid("metadata."+k, "%v", err)
		}
		out[k] = v
	}
	if s.cfg.SourceMarker != "" {
		out["source"] = s.cfg.SourceMarker
	}
	return out, nil
}

// newIdempotencyKey synthesizes cs_<unix-ms>_<random>. It only protects
// retries that reuse the same key; a fresh submission gets a fresh key.
func (s *CheckoutService) newIdempotencyKey() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("cs_%d_%s", s.now().UnixMilli(), suffix)
}

// withSessionPlaceholder appends session_id={CHECKOUT_SESSION_ID} unless the
// URL already carries the placeholder. The braces must stay unescaped.
func withSessionPlaceholder(u string) string {
	if strings.Contains(u, SessionIDPlaceholder) {
		return u
	}
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + "session_id=" + SessionIDPlaceholder
}

// IsLiveKey reports whether key is a live-mode secret or restricted key.
func IsLiveKey(key string) bool {
	return strings.HasPrefix(key, "sk_live_") || strings.HasPrefix(key, "rk_live_")
}
