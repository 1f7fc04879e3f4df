package api

import (
	"log/slog"
	"net/http"

	"github.com/vattentrygg/payments/internal/idempotency"
	"github.com/vattentrygg/payments/internal/middleware"
)

// ServiceName identifies the server in traces and the root endpoint.
const ServiceName = "vattentrygg-payments"

// RouterConfig collects the handlers and middleware dependencies of the
// HTTP surface. Nil handler groups leave their routes unregistered.
type RouterConfig struct {
	Checkout *CheckoutHandlers
	Webhook  *WebhookHandlers
	Payments *PaymentHandlers
	Payouts  *PayoutHandlers
	Health   *HealthHandlers

	// InternalSecret guards the internal routes.
	InternalSecret string

	Idempotency    idempotency.Repository
	RateLimitStore middleware.RateLimitStore
	CheckoutLimit  middleware.RateLimitConfig

	Metrics        *middleware.Metrics
	MetricsHandler http.Handler

	CORS      middleware.CORSConfig
	Profiling middleware.ProfilingConfig
	Logger    *slog.Logger
}

// NewRouter builds the HTTP handler with all routes and the global
// middleware chain: Recovery, RequestID, Tracing, Logging, HTTPMetrics,
// CORS, Profiling.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	internal := middleware.InternalAuth(cfg.InternalSecret)

	if cfg.Checkout != nil {
		checkout := http.Handler(http.HandlerFunc(cfg.Checkout.CreateSession))
		if cfg.Idempotency != nil {
			checkout = middleware.Idempotency(cfg.Idempotency, cfg.Metrics)(checkout)
		}
		if cfg.RateLimitStore != nil {
			limit := cfg.CheckoutLimit
			if limit.Validate() != nil {
				limit = middleware.DefaultCheckoutLimit()
			}
			checkout = middleware.RateLimiter(cfg.RateLimitStore, limit, middleware.IPKeyFunc(), cfg.Metrics, "checkout")(checkout)
		}
		mux.Handle("POST /api/checkout/create-session", checkout)
		mux.Handle("POST /create-checkout-session", checkout)
	}

	if cfg.Webhook != nil {
		mux.HandleFunc("POST /api/stripe/webhook", cfg.Webhook.HandleStripeWebhook)
	}

	if cfg.Payments != nil {
		refund := http.Handler(http.HandlerFunc(cfg.Payments.Refund))
		if cfg.Idempotency != nil {
			refund = middleware.Idempotency(cfg.Idempotency, cfg.Metrics)(refund)
		}
		mux.Handle("POST /api/payments/refund", internal(refund))
		mux.Handle("GET /api/payments/{sessionId}", internal(http.HandlerFunc(cfg.Payments.GetPayment)))
	}

	if cfg.Payouts != nil {
		mux.Handle("GET /api/payouts", internal(http.HandlerFunc(cfg.Payouts.ListPayouts)))
		mux.Handle("GET /api/payouts/{id}", internal(http.HandlerFunc(cfg.Payouts.GetPayout)))
		mux.Handle("GET /api/payouts/{id}/transactions", internal(http.HandlerFunc(cfg.Payouts.ListTransactions)))
	}

	if cfg.Health != nil {
		mux.HandleFunc("GET /health", cfg.Health.Health)
		mux.HandleFunc("GET /ready", cfg.Health.Ready)
		mux.HandleFunc("GET /api/health", cfg.Health.APIHealth)
	}

	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", cfg.MetricsHandler)
	}

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r.Context(), http.StatusOK, map[string]string{"service": ServiceName})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "The requested resource was not found")
	})

	var handler http.Handler = mux
	handler = middleware.Profiling(cfg.Profiling)(handler)
	handler = middleware.CORS(cfg.CORS)(handler)
	handler = middleware.HTTPMetrics(cfg.Metrics)(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.Tracing(ServiceName)(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recovery(logger)(handler)
	return handler
}
