// Package tracing sets up OpenTelemetry tracing for the payments API server
// and provides span helpers for gateway and store calls.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/vattentrygg/payments/internal/config"
)

// Exporter types accepted in TRACING_EXPORTER.
const (
	ExporterOTLPHTTP = "otlp-http"
	ExporterOTLPGRPC = "otlp-grpc"
)

// Resource attribute keys describing which gateway accounts this process serves.
const (
	AttrDefaultTenant = attribute.Key("payments.default_tenant")
	AttrTenants       = attribute.Key("payments.tenants")
)

const exporterDialTimeout = 10 * time.Second

var (
	ErrMissingServiceName  = errors.New("service name is required")
	ErrInvalidSamplingRate = errors.New("sampling rate must be between 0 and 1")
	ErrUnsupportedExporter = errors.New("unsupported exporter type")
)

// Config holds the tracing settings of one process.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Enabled        bool
	Environment    string

	// ExporterType is ExporterOTLPHTTP (default) or ExporterOTLPGRPC.
	ExporterType string
	OTLPEndpoint string
	InsecureMode bool

	// SamplingRate applies to root spans. Requests arriving with a sampled
	// traceparent are always recorded.
	SamplingRate float64

	DefaultTenant string
	Tenants       []string
}

// FromAppConfig derives the tracing settings from the server configuration.
func FromAppConfig(c *config.Config, serviceName, version string) Config {
	keys := c.TenantKeys()
	tenants := make([]string, 0, len(keys))
	for id := range keys {
		tenants = append(tenants, id)
	}
	sort.Strings(tenants)

	return Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Enabled:        c.TracingEnabled,
		Environment:    c.Env,
		ExporterType:   c.TracingExporter,
		OTLPEndpoint:   c.TracingEndpoint,
		InsecureMode:   c.TracingInsecure,
		SamplingRate:   c.TracingSamplingRate,
		DefaultTenant:  c.DefaultTenant,
		Tenants:        tenants,
	}
}

func (c Config) withDefaults() Config {
	if c.ServiceVersion == "" {
		c.ServiceVersion = "dev"
	}
	if c.ExporterType == "" {
		c.ExporterType = ExporterOTLPHTTP
	}
	return c
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.ServiceName == "" {
		return ErrMissingServiceName
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("%w, got %f", ErrInvalidSamplingRate, c.SamplingRate)
	}
	switch c.ExporterType {
	case "", ExporterOTLPHTTP, ExporterOTLPGRPC:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedExporter, c.ExporterType)
	}
}

// Provider owns the process tracer provider. A disabled Provider is inert.
type Provider struct {
	tp     *sdktrace.TracerProvider
	config Config
}

// NewProvider validates cfg, builds the exporter and installs the tracer
// provider and W3C propagators globally.
func NewProvider(cfg Config) (*Provider, error) {
	cfg = cfg.withDefaults()
	if !cfg.Enabled {
		slog.Info("tracing disabled")
		return &Provider{config: cfg}, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	res, err := newResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), exporterDialTimeout)
	defer cancel()
	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg.SamplingRate)),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(5*time.Second),
			sdktrace.WithMaxExportBatchSize(512),
		),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	slog.Info("tracing initialized",
		"service", cfg.ServiceName,
		"version", cfg.ServiceVersion,
		"exporter", cfg.ExporterType,
		"endpoint", cfg.OTLPEndpoint,
		"sampling_rate", cfg.SamplingRate,
		"environment", cfg.Environment,
		"tenants", len(cfg.Tenants),
	)
	return &Provider{tp: tp, config: cfg}, nil
}

func newResource(cfg Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}
	if cfg.DefaultTenant != "" {
		attrs = append(attrs, AttrDefaultTenant.String(cfg.DefaultTenant))
	}
	if len(cfg.Tenants) > 0 {
		attrs = append(attrs, AttrTenants.StringSlice(cfg.Tenants))
	}
	return resource.New(context.Background(), resource.WithAttributes(attrs...))
}

// newSampler samples root spans at rate and follows the parent decision
// otherwise, so a trace started by the storefront is not cut in half here.
func newSampler(rate float64) sdktrace.Sampler {
	var root sdktrace.Sampler
	switch rate {
	case 1:
		root = sdktrace.AlwaysSample()
	case 0:
		root = sdktrace.NeverSample()
	default:
		root = sdktrace.TraceIDRatioBased(rate)
	}
	return sdktrace.ParentBased(root)
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.ExporterType {
	case ExporterOTLPGRPC:
		var opts []otlptracegrpc.Option
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.InsecureMode {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	default:
		var opts []otlptracehttp.Option
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.InsecureMode {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	}
}

// Shutdown flushes pending spans and stops the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	slog.Info("shutting down tracer provider")
	if err := p.tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown tracer provider: %w", err)
	}
	return nil
}

// IsEnabled returns whether tracing is enabled.
func (p *Provider) IsEnabled() bool {
	return p.config.Enabled
}
