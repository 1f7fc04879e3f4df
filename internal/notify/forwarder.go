// Package notify forwards payment lifecycle events to a downstream service.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vattentrygg/payments/internal/jobs"
	"github.com/vattentrygg/payments/internal/payment"
)

// DefaultTimeout bounds a single delivery.
const DefaultTimeout = 3 * time.Second

// errTargetStatus marks a delivery the target answered with a non-2xx status.
var errTargetStatus = errors.New("event target rejected delivery")

// Forwarder posts events as JSON to a fixed URL. Delivery is best effort:
// failures are logged and never reach the caller.
type Forwarder struct {
	url     string
	secret  string
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
	metrics *jobs.Metrics
	wg      sync.WaitGroup
}

// New creates a Forwarder. An empty url yields a Forwarder that drops events.
func New(url, secret string, timeout time.Duration, logger *slog.Logger) *Forwarder {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{
		url:     url,
		secret:  secret,
		timeout: timeout,
		client: &http.Client{
			Timeout: timeout,
			Transport: otelhttp.NewTransport(&http.Transport{
				MaxIdleConns:        16,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     30 * time.Second,
			}),
		},
		logger: logger,
	}
}

// SetMetrics records delivery outcomes as background job metrics.
func (f *Forwarder) SetMetrics(m *jobs.Metrics) {
	f.metrics = m
}

// Enabled reports whether a target URL is configured.
func (f *Forwarder) Enabled() bool {
	return f != nil && f.url != ""
}

// Publish delivers e in the background.
func (f *Forwarder) Publish(e payment.Event) {
	if !f.Enabled() {
		return
	}
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		defer cancel()
		start := time.Now()
		err := f.send(ctx, e)
		f.metrics.Observe(jobs.JobTypeEventForward, time.Since(start).Seconds(), deliveryErrorType(err))
		if err != nil {
			f.logger.Warn("failed to forward payment event",
				slog.String("event_type", e.Type),
				slog.String("session_id", e.SessionID),
				slog.String("error", err.Error()))
		}
	}()
}

// Wait blocks until in-flight deliveries finish or ctx is done.
func (f *Forwarder) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Forwarder) send(ctx context.Context, e payment.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if f.secret != "" {
		req.Header.Set("X-Internal-Auth", f.secret)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach event target: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", errTargetStatus, resp.StatusCode)
	}
	return nil
}

func deliveryErrorType(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, errTargetStatus):
		return "status"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "transport"
	}
}
