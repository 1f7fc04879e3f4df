// Package config provides configuration loading and validation for the payments server.
// It uses koanf to merge environment variables with optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/vattentrygg/payments/internal/tenant"
	"github.com/vattentrygg/payments/internal/validate"
)

// Config holds all configuration values for the payments server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Stripe
	StripeSecretKey     string            `koanf:"stripe_secret_key"`
	StripeWebhookSecret string            `koanf:"stripe_webhook_secret"`
	StripeTenantKeys    map[string]string `koanf:"stripe_tenants"` // tenant id -> secret key
	DefaultTenant       string            `koanf:"default_tenant"`

	// Checkout
	SuccessURL        string   `koanf:"success_url"`
	CancelURL         string   `koanf:"cancel_url"`
	AllowedPriceIDs   []string `koanf:"allowed_price_ids"` // empty means any well-formed price
	ShippingCountries []string `koanf:"shipping_countries"`
	CheckoutSource    string   `koanf:"checkout_source"`
	CheckoutRateLimit int      `koanf:"checkout_rate_limit"` // requests per minute per IP
	HideGatewayErrors bool     `koanf:"hide_gateway_errors"`

	// Internal callers
	InternalSecret string `koanf:"internal_secret"`

	// Storage
	Store           string `koanf:"store"` // memory, mongo or postgres
	MongoURI        string `koanf:"mongo_uri"`
	MongoDatabase   string `koanf:"mongo_database"`
	MongoCollection string `koanf:"mongo_collection"`
	DatabaseURL     string `koanf:"database_url"`
	RedisURL        string `koanf:"redis_url"`

	// Transport
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`

	// Event forwarding
	EventForwardURL     string        `koanf:"event_forward_url"`
	EventForwardTimeout time.Duration `koanf:"event_forward_timeout"`

	// Observability
	TracingEnabled      bool    `koanf:"tracing_enabled"`
	TracingExporter     string  `koanf:"tracing_exporter"`
	TracingEndpoint     string  `koanf:"tracing_endpoint"`
	TracingSamplingRate float64 `koanf:"tracing_sampling_rate"`
	TracingInsecure     bool    `koanf:"tracing_insecure"`
	ProfilingEnabled    bool    `koanf:"profiling_enabled"`
}

// Store backends.
const (
	StoreMemory   = "memory"
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
)

// Configuration validation errors.
var (
	ErrMissingStripeSecretKey     = errors.New("STRIPE_SECRET_KEY is required")
	ErrMissingStripeWebhookSecret = errors.New("STRIPE_WEBHOOK_SECRET is required")
	ErrMissingSuccessURL          = errors.New("SUCCESS_URL is required")
	ErrMissingCancelURL           = errors.New("CANCEL_URL is required")
	ErrMissingInternalSecret      = errors.New("X_PAYMENTS_SECRET is required")
	ErrMissingMongoURI            = errors.New("MONGO_URI is required when PAYMENTS_STORE=mongo")
	ErrMissingDatabaseURL         = errors.New("DATABASE_URL is required when PAYMENTS_STORE=postgres")
	ErrUnknownStore               = errors.New("PAYMENTS_STORE must be one of memory, mongo, postgres")
	ErrInvalidPort                = errors.New("PORT must be a valid integer")
	ErrInvalidRateLimit           = errors.New("CHECKOUT_RATE_LIMIT must be a positive integer")
	ErrInvalidSamplingRate        = errors.New("TRACING_SAMPLING_RATE must be between 0 and 1")
	ErrInvalidTenantKeys          = errors.New("STRIPE_TENANT_KEYS is malformed")
)

// Default values for non-secret configuration.
const (
	DefaultPort                = 8080
	DefaultEnv                 = "development"
	DefaultTenant              = "vattentrygg"
	DefaultCheckoutSource      = "oversvamningsskydd"
	DefaultCheckoutRateLimit   = 20
	DefaultStore               = StoreMemory
	DefaultMongoDatabase       = "vattentrygg"
	DefaultMongoCollection     = "payments"
	DefaultEventForwardTimeout = 3 * time.Second
	DefaultTracingExporter     = "otlp-http"
	DefaultTracingSamplingRate = 0.1
)

// DefaultShippingCountries are the countries shipping addresses may be collected for.
var DefaultShippingCountries = []string{"SE"}

// DefaultCORSAllowedOrigins are the storefront origins allowed to start checkouts.
var DefaultCORSAllowedOrigins = []string{
	"http://localhost:5500",
	"https://oversvamningsskydd-kund1.onrender.com",
}

// IsProduction reports whether the server runs in production.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	port, err := getEnvIntOrDefault("PORT", k.Int("port"), DefaultPort)
	if err != nil {
		loadErrs = append(loadErrs, fmt.Errorf("PORT: %w", ErrInvalidPort))
	}
	rateLimit, err := getEnvIntOrDefault("CHECKOUT_RATE_LIMIT", k.Int("checkout_rate_limit"), DefaultCheckoutRateLimit)
	if err != nil {
		loadErrs = append(loadErrs, ErrInvalidRateLimit)
	}
	samplingRate, err := getEnvFloatOrDefault("TRACING_SAMPLING_RATE", k.Float64("tracing_sampling_rate"), DefaultTracingSamplingRate)
	if err != nil {
		loadErrs = append(loadErrs, ErrInvalidSamplingRate)
	}
	forwardTimeout, err := getEnvDurationOrDefault("PAYMENTS_EVENT_FORWARD_TIMEOUT", k.Duration("event_forward_timeout"), DefaultEventForwardTimeout)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	tenantKeys := make(map[string]string)
	for id, key := range k.StringMap("stripe_tenants") {
		tenantKeys[tenant.Normalize(id)] = key
	}
	if raw := os.Getenv("STRIPE_TENANT_KEYS"); raw != "" {
		parsed, err := tenant.ParseKeys(raw)
		if err != nil {
			loadErrs = append(loadErrs, fmt.Errorf("%w: %v", ErrInvalidTenantKeys, err))
		}
		for id, key := range parsed {
			tenantKeys[id] = key
		}
	}

	env := getEnvOrDefaultMulti([]string{"ENV", "GO_ENV", "NODE_ENV"}, k.String("env"), DefaultEnv)
	origins := getEnvListOrKoanf("CORS_ALLOWED_ORIGINS", k, "cors_allowed_origins")
	if len(origins) == 0 {
		origins = append([]string(nil), DefaultCORSAllowedOrigins...)
	}
	if extra := strings.TrimSpace(os.Getenv("FRONTEND_ORIGIN")); extra != "" {
		origins = append(origins, extra)
	}
	shipping := getEnvListOrKoanf("SHIPPING_COUNTRIES", k, "shipping_countries")
	if len(shipping) == 0 {
		shipping = append([]string(nil), DefaultShippingCountries...)
	}

	cfg := &Config{
		Port:                port,
		Env:                 env,
		StripeSecretKey:     getEnvOrKoanf("STRIPE_SECRET_KEY", k, "stripe_secret_key"),
		StripeWebhookSecret: getEnvOrKoanf("STRIPE_WEBHOOK_SECRET", k, "stripe_webhook_secret"),
		StripeTenantKeys:    tenantKeys,
		DefaultTenant:       tenant.Normalize(getEnvOrDefault("DEFAULT_TENANT", k.String("default_tenant"), DefaultTenant)),
		SuccessURL:          getEnvOrKoanf("SUCCESS_URL", k, "success_url"),
		CancelURL:           getEnvOrKoanf("CANCEL_URL", k, "cancel_url"),
		AllowedPriceIDs:     getEnvListOrKoanf("ALLOWED_PRICE_IDS", k, "allowed_price_ids"),
		ShippingCountries:   shipping,
		CheckoutSource:      getEnvOrDefault("CHECKOUT_SOURCE", k.String("checkout_source"), DefaultCheckoutSource),
		CheckoutRateLimit:   rateLimit,
		InternalSecret:      getEnvOrKoanf("X_PAYMENTS_SECRET", k, "internal_secret"),
		Store:               strings.ToLower(getEnvOrDefault("PAYMENTS_STORE", k.String("store"), DefaultStore)),
		MongoURI:            getEnvOrDefaultMulti([]string{"MONGO_URI", "MONGODB_URI"}, k.String("mongo_uri"), ""),
		MongoDatabase:       getEnvOrDefault("MONGO_DB", k.String("mongo_database"), DefaultMongoDatabase),
		MongoCollection:     getEnvOrDefault("MONGO_COLLECTION", k.String("mongo_collection"), DefaultMongoCollection),
		DatabaseURL:         getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisURL:            getEnvOrKoanf("REDIS_URL", k, "redis_url"),
		CORSAllowedOrigins:  origins,
		EventForwardURL:     getEnvOrKoanf("PAYMENTS_EVENT_FORWARD_URL", k, "event_forward_url"),
		EventForwardTimeout: forwardTimeout,
		TracingEnabled:      getEnvBoolOrKoanf("TRACING_ENABLED", k, "tracing_enabled", false),
		TracingExporter:     getEnvOrDefault("TRACING_EXPORTER", k.String("tracing_exporter"), DefaultTracingExporter),
		TracingEndpoint:     getEnvOrKoanf("OTEL_EXPORTER_OTLP_ENDPOINT", k, "tracing_endpoint"),
		TracingSamplingRate: samplingRate,
		TracingInsecure:     getEnvBoolOrKoanf("TRACING_INSECURE", k, "tracing_insecure", false),
		ProfilingEnabled:    getEnvBoolOrKoanf("PROFILING_ENABLED", k, "profiling_enabled", false),
	}
	cfg.HideGatewayErrors = getEnvBoolOrKoanf("HIDE_GATEWAY_ERRORS", k, "hide_gateway_errors", cfg.IsProduction())

	// Validate and collect errors
	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, err)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault returns the environment variable as float64 if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as a float.
func getEnvFloatOrDefault(envKey string, koanfVal float64, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid float: %w", envKey, err)
		}
		return f, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvDurationOrDefault parses a Go duration string such as "3s".
func getEnvDurationOrDefault(envKey string, koanfVal, defaultVal time.Duration) (time.Duration, error) {
	if val := os.Getenv(envKey); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil || d <= 0 {
			return 0, fmt.Errorf("%s must be a positive duration such as 3s", envKey)
		}
		return d, nil
	}
	if koanfVal > 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvBoolOrKoanf accepts true/1/yes/on and false/0/no/off. Unrecognized
// values leave the file value or default in place.
func getEnvBoolOrKoanf(envKey string, k *koanf.Koanf, koanfKey string, defaultVal bool) bool {
	result := defaultVal
	if k.Exists(koanfKey) {
		result = k.Bool(koanfKey)
	}
	if val := os.Getenv(envKey); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			result = true
		case "false", "0", "no", "off":
			result = false
		}
	}
	return result
}

// getEnvListOrKoanf reads a comma-separated environment variable or a YAML
// list. Blank entries are dropped.
func getEnvListOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) []string {
	var raw []string
	if val := os.Getenv(envKey); val != "" {
		raw = strings.Split(val, ",")
	} else {
		raw = k.Strings(koanfKey)
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.GatewayKey() == "" {
		errs = append(errs, ErrMissingStripeSecretKey)
	}
	if c.StripeWebhookSecret == "" {
		errs = append(errs, ErrMissingStripeWebhookSecret)
	}
	if c.SuccessURL == "" {
		errs = append(errs, ErrMissingSuccessURL)
	}
	if c.CancelURL == "" {
		errs = append(errs, ErrMissingCancelURL)
	}
	if c.InternalSecret == "" {
		errs = append(errs, ErrMissingInternalSecret)
	}

	switch c.Store {
	case StoreMemory:
	case StoreMongo:
		if c.MongoURI == "" {
			errs = append(errs, ErrMissingMongoURI)
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, ErrMissingDatabaseURL)
		}
	default:
		errs = append(errs, ErrUnknownStore)
	}

	for _, origin := range c.CORSAllowedOrigins {
		if _, err := validate.Origin(origin); err != nil {
			errs = append(errs, fmt.Errorf("cors origin %q: %w", origin, err))
		}
	}

	if c.CheckoutRateLimit <= 0 {
		errs = append(errs, ErrInvalidRateLimit)
	}
	if c.TracingSamplingRate < 0 || c.TracingSamplingRate > 1 {
		errs = append(errs, ErrInvalidSamplingRate)
	}

	return errs
}

// TenantKeys returns the tenant credentials with the default tenant falling
// back to StripeSecretKey.
func (c *Config) TenantKeys() map[string]string {
	keys := make(map[string]string, len(c.StripeTenantKeys)+1)
	for id, key := range c.StripeTenantKeys {
		if key = strings.TrimSpace(key); key != "" {
			keys[tenant.Normalize(id)] = key
		}
	}
	def := tenant.Normalize(c.DefaultTenant)
	if _, ok := keys[def]; !ok && c.StripeSecretKey != "" {
		keys[def] = c.StripeSecretKey
	}
	return keys
}

// GatewayKey returns the secret key the default tenant's gateway client is
// built with. A tenant entry for the default tenant wins over StripeSecretKey.
func (c *Config) GatewayKey() string {
	return c.TenantKeys()[tenant.Normalize(c.DefaultTenant)]
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	tenants := make([]string, 0, len(c.StripeTenantKeys))
	for id, key := range c.StripeTenantKeys {
		tenants = append(tenants, id+"="+maskStripeKey(key))
	}
	sort.Strings(tenants)

	return map[string]string{
		"port":                  strconv.Itoa(c.Port),
		"env":                   c.Env,
		"stripe_secret_key":     maskStripeKey(c.StripeSecretKey),
		"stripe_webhook_secret": maskSecret(c.StripeWebhookSecret),
		"stripe_tenants":        strings.Join(tenants, ","),
		"default_tenant":        c.DefaultTenant,
		"success_url":           c.SuccessURL,
		"cancel_url":            c.CancelURL,
		"allowed_price_ids":     strconv.Itoa(len(c.AllowedPriceIDs)),
		"shipping_countries":    strings.Join(c.ShippingCountries, ","),
		"checkout_source":       c.CheckoutSource,
		"checkout_rate_limit":   strconv.Itoa(c.CheckoutRateLimit),
		"hide_gateway_errors":   strconv.FormatBool(c.HideGatewayErrors),
		"internal_secret":       maskSecret(c.InternalSecret),
		"store":                 c.Store,
		"mongo_uri":             maskDatabaseURL(c.MongoURI),
		"mongo_database":        c.MongoDatabase,
		"mongo_collection":      c.MongoCollection,
		"database_url":          maskDatabaseURL(c.DatabaseURL),
		"redis_url":             maskDatabaseURL(c.RedisURL),
		"cors_allowed_origins":  strings.Join(c.CORSAllowedOrigins, ","),
		"event_forward_url":     c.EventForwardURL,
		"tracing_enabled":       strconv.FormatBool(c.TracingEnabled),
		"profiling_enabled":     strconv.FormatBool(c.ProfilingEnabled),
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskStripeKey masks a Stripe API key, preserving the prefix (sk_live_, sk_test_, etc.)
func maskStripeKey(s string) string {
	if s == "" {
		return "<not set>"
	}

	// Stripe keys have format like sk_live_..., sk_test_..., rk_live_..., etc.
	parts := strings.SplitN(s, "_", 3)
	if len(parts) == 3 {
		return parts[0] + "_" + parts[1] + "_****"
	}

	return maskSecret(s)
}

// maskDatabaseURL masks the password in a connection URL.
// Works for postgres://, mongodb://, mongodb+srv:// and redis:// schemes.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.LastIndex(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
