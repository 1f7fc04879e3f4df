// Package main is the entry point for the payments API server.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/stripe/stripe-go/v81/client"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vattentrygg/payments/internal/api"
	"github.com/vattentrygg/payments/internal/config"
	"github.com/vattentrygg/payments/internal/cooldown"
	"github.com/vattentrygg/payments/internal/health"
	"github.com/vattentrygg/payments/internal/idempotency"
	"github.com/vattentrygg/payments/internal/jobs"
	"github.com/vattentrygg/payments/internal/middleware"
	"github.com/vattentrygg/payments/internal/notify"
	"github.com/vattentrygg/payments/internal/payment"
	"github.com/vattentrygg/payments/internal/payout"
	"github.com/vattentrygg/payments/internal/stats"
	"github.com/vattentrygg/payments/internal/tenant"
	"github.com/vattentrygg/payments/internal/tracing"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Background sweep intervals.
const (
	sweepInterval        = time.Minute
	idempotencyCleanup   = time.Hour
	webhookSeenMaxEvents = 50000
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to an optional YAML config file")
	flag.Parse()

	if *help {
		fmt.Println("Vattentrygg Payments API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if cfg == nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", errs)
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	if len(errs) > 0 {
		for _, err := range errs {
			logger.Error("invalid configuration", "error", err)
		}
		if cfg.IsProduction() {
			os.Exit(1)
		}
		logger.Warn("continuing with invalid configuration outside production")
	}
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Tracing
	tracerProvider, err := tracing.NewProvider(tracing.FromAppConfig(cfg, api.ServiceName, version))
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	httpMetrics := middleware.NewMetrics()
	paymentMetrics := payment.NewMetrics()
	jobMetrics := jobs.NewMetrics()
	if err := httpMetrics.Register(registry); err != nil {
		logger.Error("failed to register http metrics", "error", err)
		os.Exit(1)
	}
	if err := paymentMetrics.Register(registry); err != nil {
		logger.Error("failed to register payment metrics", "error", err)
		os.Exit(1)
	}
	if err := jobMetrics.Register(registry); err != nil {
		logger.Error("failed to register job metrics", "error", err)
		os.Exit(1)
	}

	healthCfg := api.HealthHandlersConfig{MetricsEnabled: true}

	// Payment record store
	store, closeStore, err := openStore(ctx, cfg, logger, &healthCfg)
	if err != nil {
		logger.Error("failed to open payment store", "store", cfg.Store, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	// Redis-backed idempotency, rate limiting and webhook dedupe when configured.
	var (
		idemRepo       idempotency.Repository
		rateLimitStore middleware.RateLimitStore
		webhookRepo    payment.WebhookRepository
	)
	if cfg.RedisURL != "" {
		rdb, err := openRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		healthCfg.RedisChecker = health.NewRedisChecker(rdb)

		idemRepo = idempotency.NewRedisRepository(rdb, idempotency.DefaultExpiry)
		redisLimiter := middleware.NewRedisRateLimitStore(rdb)
		redisLimiter.SetMetrics(httpMetrics)
		rateLimitStore = redisLimiter
		webhookRepo = payment.NewRedisWebhookRepository(rdb, payment.DefaultWebhookEventTTL)
		logger.Info("using redis for idempotency, rate limiting and webhook dedupe")
	} else {
		memIdem := idempotency.NewInMemoryRepository()
		go idempotency.RunPeriodicCleanup(ctx, memIdem, idempotencyCleanup, idempotency.DefaultExpiry, jobMetrics)
		idemRepo = memIdem

		memLimiter := middleware.NewInMemoryRateLimitStore(0)
		go memLimiter.RunCleanup(ctx, sweepInterval)
		rateLimitStore = memLimiter

		seen := cooldown.New(payment.DefaultWebhookEventTTL, webhookSeenMaxEvents)
		go seen.Run(ctx, sweepInterval)
		webhookRepo = payment.NewCacheWebhookRepository(seen)
	}

	// Gateway clients per tenant; the default tenant serves checkout, refunds
	// and webhooks.
	tenants := tenant.FromKeys(cfg.DefaultTenant, cfg.TenantKeys())
	stripeAPI, gatewayKey, err := defaultGateway(tenants)
	if err != nil {
		logger.Warn("default tenant has no stripe key; checkout and refunds will fail", "tenant", tenants.DefaultTenant())
	}
	gateway := payment.NewStripeGateway(stripeAPI)

	forwarder := notify.New(cfg.EventForwardURL, cfg.InternalSecret, cfg.EventForwardTimeout, logger)
	forwarder.SetMetrics(jobMetrics)
	var publisher payment.Publisher
	if forwarder.Enabled() {
		publisher = forwarder
	}

	upsertStats := stats.NewUpsertStats()
	reconcilerOpts := []payment.ReconcilerOption{
		payment.WithReconcileStats(upsertStats),
		payment.WithReconcileMetrics(paymentMetrics),
	}
	if publisher != nil {
		reconcilerOpts = append(reconcilerOpts, payment.WithReconcilePublisher(publisher))
	}
	reconciler := payment.NewReconciler(gateway, store, logger, reconcilerOpts...)

	refunder := payment.NewRefunder(gateway, store, cfg.CheckoutSource, logger)
	refunder.SetMetrics(paymentMetrics)
	if publisher != nil {
		refunder.SetPublisher(publisher)
	}

	checkout := payment.NewCheckoutService(gateway, payment.NewPriceValidator(cfg.AllowedPriceIDs), payment.CheckoutConfig{
		SuccessURL:        cfg.SuccessURL,
		CancelURL:         cfg.CancelURL,
		ShippingCountries: cfg.ShippingCountries,
		SourceMarker:      cfg.CheckoutSource,
		GatewayKey:        gatewayKey,
		Production:        cfg.IsProduction(),
	}, paymentMetrics, logger)

	handler := api.NewRouter(api.RouterConfig{
		Checkout:       api.NewCheckoutHandlers(checkout, cfg.HideGatewayErrors),
		Webhook:        api.NewWebhookHandlers(cfg.StripeWebhookSecret, payment.NewDispatcher(reconciler, logger), webhookRepo, paymentMetrics, logger),
		Payments:       api.NewPaymentHandlers(store, refunder, cfg.HideGatewayErrors),
		Payouts:        api.NewPayoutHandlers(payout.NewService(payout.NewRegistryResolver(tenants), logger), cfg.HideGatewayErrors),
		Health:         api.NewHealthHandlers(healthCfg),
		InternalSecret: cfg.InternalSecret,
		Idempotency:    idemRepo,
		RateLimitStore: rateLimitStore,
		CheckoutLimit:  middleware.RateLimitConfig{RequestsPerWindow: cfg.CheckoutRateLimit, WindowDuration: time.Minute},
		Metrics:        httpMetrics,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		CORS:           middleware.CORSConfig{AllowedOrigins: cfg.CORSAllowedOrigins},
		Profiling: middleware.ProfilingConfig{
			Enabled:     cfg.ProfilingEnabled,
			Environment: cfg.Env,
			Secret:      cfg.InternalSecret,
		},
		Logger: logger,
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting server", "port", cfg.Port, "env", cfg.Env, "store", cfg.Store, "version", version)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if err := forwarder.Wait(shutdownCtx); err != nil {
		logger.Warn("pending event deliveries abandoned", "error", err)
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to flush traces", "error", err)
	}
	upsertStats.LogSummary(logger, "payment records")

	logger.Info("server stopped")
}

// openStore opens the configured payment store and registers its health
// checker. The returned func releases the connection.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger, healthCfg *api.HealthHandlersConfig) (payment.Store, func(), error) {
	switch cfg.Store {
	case config.StoreMongo:
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		mc, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		closeFn := func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := mc.Disconnect(disconnectCtx); err != nil {
				logger.Warn("failed to disconnect mongo", "error", err)
			}
		}
		s := payment.NewMongoStore(mc.Database(cfg.MongoDatabase).Collection(cfg.MongoCollection))
		if err := s.EnsureIndexes(connectCtx); err != nil {
			closeFn()
			return nil, nil, fmt.Errorf("ensure mongo indexes: %w", err)
		}
		healthCfg.MongoChecker = health.NewMongoChecker(mc)
		logger.Info("using mongo payment store", "database", cfg.MongoDatabase, "collection", cfg.MongoCollection)
		return s, closeFn, nil

	case config.StorePostgres:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(10)
		db.SetConnMaxIdleTime(5 * time.Minute)
		closeFn := func() {
			if err := db.Close(); err != nil {
				logger.Warn("failed to close postgres", "error", err)
			}
		}
		s := payment.NewPostgresStore(db, logger)
		schemaCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := s.EnsureSchema(schemaCtx); err != nil {
			closeFn()
			return nil, nil, fmt.Errorf("ensure postgres schema: %w", err)
		}
		healthCfg.DBChecker = health.NewDBChecker(db)
		logger.Info("using postgres payment store")
		return s, closeFn, nil

	default:
		logger.Warn("using in-memory payment store; records are lost on restart")
		return payment.NewInMemoryStore(), func() {}, nil
	}
}

// defaultGateway returns the default tenant's client together with the key
// it was built with, so credential checks inspect the key actually in use.
// Without a key it returns an unauthenticated client and the lookup error.
func defaultGateway(tenants *tenant.Registry) (*client.API, string, error) {
	_, cred, err := tenants.Resolve("")
	if err != nil {
		return client.New("", nil), "", err
	}
	_, api, err := tenants.Client("")
	if err != nil {
		return client.New("", nil), "", err
	}
	return api, cred.SecretKey(), nil
}

// openRedis connects to Redis and verifies the connection.
func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}
